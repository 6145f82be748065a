// Package consoleapi is the application API client used for tenant resolution and ad-hoc calls.
//
// The client does not authenticate requests itself. It is constructed over an *http.Client
// whose transport attaches the bearer token and tenant headers.
package consoleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/ports"
)

// Tenant header names shared with the request transport.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderProjectID      = "X-Project-ID"
)

const maxErrorBody = 64 << 10

var _ ports.TenantDirectory = (*Client)(nil)

// Config configures the API client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Roles      ports.RoleMapper
	Logger     *slog.Logger
}

// Client talks to the application API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	roles   ports.RoleMapper
	logger  *slog.Logger
}

// NewClient creates an API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse api base URL")
	}
	if cfg.HTTPClient == nil {
		return nil, errors.New("api http client is required")
	}
	if cfg.Roles == nil {
		return nil, errors.New("role mapper is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		http:    cfg.HTTPClient,
		roles:   cfg.Roles,
		logger:  logger.With("component", "consoleapi"),
	}, nil
}

// ListOrganizations returns the caller's memberships.
func (c *Client) ListOrganizations(ctx context.Context) ([]domaintenant.Organization, error) {
	var payload any
	if err := c.getJSON(ctx, "", "/organizations", &payload); err != nil {
		return nil, err
	}
	orgs, err := normalizeOrganizations(payload, c.roles)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode organizations")
	}
	return orgs, nil
}

// ListProjects returns the projects of organizationID. The request is scoped to that
// organization explicitly so a stale project selection is never sent along.
func (c *Client) ListProjects(ctx context.Context, organizationID string) ([]domaintenant.Project, error) {
	if organizationID == "" {
		return nil, apperrors.TenantNotFound("organization id is required")
	}
	var payload any
	if err := c.getJSON(ctx, organizationID, "/organizations/"+url.PathEscape(organizationID)+"/projects", &payload); err != nil {
		return nil, err
	}
	projects, err := normalizeProjects(payload, organizationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode projects")
	}
	return projects, nil
}

// CreateProject creates a project in organizationID.
func (c *Client) CreateProject(ctx context.Context, organizationID, name string) (domaintenant.Project, error) {
	if organizationID == "" {
		return domaintenant.Project{}, apperrors.TenantNotFound("organization id is required")
	}
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return domaintenant.Project{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode project")
	}
	resp, err := c.send(ctx, organizationID, http.MethodPost, "/organizations/"+url.PathEscape(organizationID)+"/projects", body)
	if err != nil {
		return domaintenant.Project{}, err
	}
	var payload any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return domaintenant.Project{}, apperrors.NetworkFailure(err, "create project returned an unreadable response")
	}
	p, err := normalizeProject(payload, organizationID)
	if err != nil {
		return domaintenant.Project{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "decode project")
	}
	return p, nil
}

// Response is a fully read API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do issues an arbitrary API call under the current session and tenant. Non-2xx responses
// are returned as-is; only transport failures are errors.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (Response, error) {
	req, err := c.newRequest(ctx, "", method, path, body)
	if err != nil {
		return Response{}, err
	}
	return c.roundTrip(req)
}

func (c *Client) getJSON(ctx context.Context, organizationID, path string, out any) error {
	resp, err := c.send(ctx, organizationID, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apperrors.NetworkFailure(err, "api returned an unreadable response")
	}
	return nil
}

// send issues a request and maps non-2xx statuses to the error taxonomy.
func (c *Client) send(ctx context.Context, organizationID, method, path string, body []byte) (Response, error) {
	req, err := c.newRequest(ctx, organizationID, method, path, body)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return Response{}, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		mapped := mapStatus(resp.Status, errorMessage(resp.Body))
		c.logger.DebugContext(ctx, "api request failed",
			"method", method,
			"path", path,
			"status", resp.Status,
		)
		return Response{}, mapped
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, organizationID, method, path string, body []byte) (*http.Request, error) {
	u := c.baseURL.String() + "/" + strings.TrimLeft(path, "/")
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build api request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if organizationID != "" {
		req.Header.Set(HeaderOrganizationID, organizationID)
	}
	return req, nil
}

func (c *Client) roundTrip(req *http.Request) (Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, mapTransport(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, apperrors.NetworkFailure(err, "read api response")
	}
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

func errorMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	for _, s := range []string{e.Message, e.Error, e.Detail} {
		if s != "" {
			return s
		}
	}
	return ""
}

func mapStatus(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status >= 500, status == http.StatusTooManyRequests:
		return apperrors.NetworkFailure(errors.New(msg), "api unavailable")
	case status == http.StatusUnauthorized:
		return apperrors.ExpiredSession(msg)
	case status == http.StatusForbidden, status == http.StatusNotFound:
		return apperrors.TenantNotFound(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	default:
		return apperrors.Validation(msg)
	}
}

// mapTransport keeps errors the transport already classified (e.g. a failed refresh).
func mapTransport(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "api request timed out")
	case errors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "api request canceled")
	default:
		return apperrors.NetworkFailure(err, "api unreachable")
	}
}
