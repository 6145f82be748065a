// Package requestauth authenticates outbound application API calls.
//
// Transport tags every request with the current bearer token and tenant headers, refreshes a
// known-expired token before sending, and answers a 401 with at most one refresh and one retry.
// Refreshes are shared with the session store, so concurrent 401s collapse into one exchange.
package requestauth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/observability/metrics"
	"github.com/target/agentops-console/internal/session"
)

// Tenant headers attached to every request while an organization is selected.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderProjectID      = "X-Project-ID"
)

// Sessions is the slice of the session store the transport needs.
type Sessions interface {
	Snapshot() session.Snapshot
	Refresh(ctx context.Context, failedAccessToken string) (domainauth.Session, error)
}

// Tenants supplies the active tenant selection.
type Tenants interface {
	Selection() domaintenant.Selection
}

// Options configures a Transport.
type Options struct {
	// Base performs the requests; http.DefaultTransport when nil.
	Base     http.RoundTripper
	Sessions Sessions
	// Tenants may be nil, in which case tenant headers are never attached.
	Tenants Tenants
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// OnUnauthenticated is called after a refresh failure tore the session down. The shell
	// uses it to send the user back to sign-in.
	OnUnauthenticated func(error)
}

// Transport is an http.RoundTripper that authenticates requests.
type Transport struct {
	base              http.RoundTripper
	sessions          Sessions
	tenants           Tenants
	logger            *slog.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
	onUnauthenticated func(error)
}

// NewTransport builds a Transport. Sessions is required.
func NewTransport(opts Options) (*Transport, error) {
	if opts.Sessions == nil {
		return nil, errors.New("session source is required")
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Transport{
		base:              base,
		sessions:          opts.Sessions,
		tenants:           opts.Tenants,
		logger:            logger.With("component", "requestauth"),
		metrics:           opts.Metrics,
		now:               now,
		onUnauthenticated: opts.OnUnauthenticated,
	}, nil
}

// Client returns an http.Client that sends through t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper. The caller's request is never modified. A request
// causes at most one refresh: either before sending a known-expired token or after a 401, never
// both.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	sess := t.sessions.Snapshot().Session
	token := sess.AccessToken
	preRefreshed := false
	if token != "" && sess.Expired(t.now()) {
		refreshed, err := t.refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		token = refreshed.AccessToken
		preRefreshed = true
	}

	getBody, err := replayableBody(req)
	if err != nil {
		t.metrics.ObserveRequest(metrics.OutcomeError)
		return nil, err
	}

	first, err := t.prepare(req, token, getBody)
	if err != nil {
		t.metrics.ObserveRequest(metrics.OutcomeError)
		return nil, err
	}
	resp, err := t.base.RoundTrip(first)
	if err != nil {
		t.metrics.ObserveRequest(metrics.OutcomeError)
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || token == "" || preRefreshed {
		if preRefreshed && resp.StatusCode == http.StatusUnauthorized {
			t.logger.WarnContext(ctx, "request unauthorized with a freshly refreshed token", "method", req.Method, "path", req.URL.Path)
		}
		t.observe(resp, metrics.OutcomeOK)
		return resp, nil
	}

	discard(resp)
	t.logger.DebugContext(ctx, "request unauthorized; refreshing session", "method", req.Method, "path", req.URL.Path)
	refreshed, err := t.refresh(ctx, token)
	if err != nil {
		return nil, err
	}

	retry, err := t.prepare(req, refreshed.AccessToken, getBody)
	if err != nil {
		t.metrics.ObserveRequest(metrics.OutcomeError)
		return nil, err
	}
	resp, err = t.base.RoundTrip(retry)
	if err != nil {
		t.metrics.ObserveRequest(metrics.OutcomeError)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.logger.WarnContext(ctx, "request unauthorized after refresh", "method", req.Method, "path", req.URL.Path)
		t.metrics.ObserveRequest(metrics.OutcomeUnauthorized)
		return resp, nil
	}
	t.metrics.ObserveRequest(metrics.OutcomeRetried)
	return resp, nil
}

func (t *Transport) observe(resp *http.Response, outcome string) {
	if resp.StatusCode == http.StatusUnauthorized {
		outcome = metrics.OutcomeUnauthorized
	}
	t.metrics.ObserveRequest(outcome)
}

// refresh goes through the session store's shared refresh. A RefreshFailure means the session
// has been torn down; the navigation hook fires before the error is returned.
func (t *Transport) refresh(ctx context.Context, token string) (domainauth.Session, error) {
	refreshed, err := t.sessions.Refresh(ctx, token)
	if err == nil {
		return refreshed, nil
	}
	if apperrors.IsRefreshFailure(err) {
		t.metrics.ObserveRequest(metrics.OutcomeRefreshFailed)
		t.logger.WarnContext(ctx, "session refresh failed; signed out", "error", err)
		if t.onUnauthenticated != nil {
			t.onUnauthenticated(err)
		}
		return domainauth.Session{}, err
	}
	t.metrics.ObserveRequest(metrics.OutcomeError)
	return domainauth.Session{}, err
}

// prepare clones req and attaches credentials and tenant headers.
func (t *Transport) prepare(req *http.Request, token string, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "replay request body")
		}
		out.Body = body
		out.GetBody = getBody
	}

	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}

	// Calls that name their organization explicitly keep their own tenant headers.
	if out.Header.Get(HeaderOrganizationID) != "" {
		return out, nil
	}
	out.Header.Del(HeaderProjectID)
	if t.tenants == nil {
		return out, nil
	}
	sel := t.tenants.Selection()
	if org := sel.OrganizationID(); org != "" {
		out.Header.Set(HeaderOrganizationID, org)
		if project := sel.ProjectID(); project != "" {
			out.Header.Set(HeaderProjectID, project)
		}
	}
	return out, nil
}

// replayableBody returns a function producing fresh copies of the request body, buffering it
// when the request cannot replay it itself. It returns nil for bodiless requests.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "buffer request body")
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
