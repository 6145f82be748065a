// Package tenant resolves and persists the active organization and project.
//
// Every mutation bumps an epoch and fetch results are applied only if the epoch they were
// started under is still current, so a slow response for an earlier organization can never
// overwrite a newer selection.
package tenant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	"github.com/target/agentops-console/internal/observability/metrics"
	"github.com/target/agentops-console/internal/ports"
	"github.com/target/agentops-console/internal/session"
)

// DefaultProjectName names the project created for an organization that has none.
const DefaultProjectName = "Default Project"

var errSuperseded = apperrors.Canceled("tenant resolution superseded by a newer selection")

// Options configures a Context.
type Options struct {
	Directory ports.TenantDirectory
	State     ports.StateStore
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// DefaultProjectName overrides DefaultProjectName.
	DefaultProjectName string
}

// Context holds the tenant selection. It is safe for concurrent use.
type Context struct {
	dir         ports.TenantDirectory
	state       ports.StateStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	defaultName string

	creates singleflight.Group

	mu    sync.Mutex
	sel   domaintenant.Selection
	epoch uint64

	notifyMu  sync.Mutex
	listeners map[uint64]func(domaintenant.Selection)
	nextID    uint64
}

// New creates an idle Context.
func New(opts Options) (*Context, error) {
	if opts.Directory == nil {
		return nil, errors.New("tenant directory is required")
	}
	if opts.State == nil {
		return nil, errors.New("state store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := strings.TrimSpace(opts.DefaultProjectName)
	if name == "" {
		name = DefaultProjectName
	}
	return &Context{
		dir:         opts.Directory,
		state:       opts.State,
		logger:      logger.With("component", "tenant"),
		metrics:     opts.Metrics,
		defaultName: name,
		sel:         domaintenant.Selection{Status: domaintenant.StatusIdle},
		listeners:   make(map[uint64]func(domaintenant.Selection)),
	}, nil
}

// Selection returns a copy of the current selection.
func (c *Context) Selection() domaintenant.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySelection(c.sel)
}

func copySelection(s domaintenant.Selection) domaintenant.Selection {
	out := s
	if s.Organization != nil {
		org := *s.Organization
		out.Organization = &org
	}
	if s.Project != nil {
		p := *s.Project
		out.Project = &p
	}
	out.Organizations = append([]domaintenant.Organization(nil), s.Organizations...)
	out.Projects = append([]domaintenant.Project(nil), s.Projects...)
	return out
}

// Subscribe registers fn to receive the selection after every change, in epoch order.
func (c *Context) Subscribe(fn func(domaintenant.Selection)) (unsubscribe func()) {
	c.notifyMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.notifyMu.Unlock()
	return func() {
		c.notifyMu.Lock()
		delete(c.listeners, id)
		c.notifyMu.Unlock()
	}
}

func (c *Context) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	sel := c.Selection()
	for _, fn := range c.listeners {
		fn(sel)
	}
}

// begin applies fn as a new mutation and returns its epoch.
func (c *Context) begin(fn func(*domaintenant.Selection)) uint64 {
	c.mu.Lock()
	fn(&c.sel)
	c.epoch++
	c.sel.Epoch = c.epoch
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()
	return epoch
}

// commit applies fn only if no other mutation happened since epoch. It returns the new epoch.
// fn runs under the lock and may persist; an error from it aborts the commit.
func (c *Context) commit(epoch uint64, fn func(*domaintenant.Selection) error) (uint64, error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return 0, errSuperseded
	}
	next := copySelection(c.sel)
	if err := fn(&next); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	c.epoch++
	next.Epoch = c.epoch
	c.sel = next
	epoch = c.epoch
	c.mu.Unlock()
	c.notify()
	return epoch, nil
}

// Reset drops the selection and returns to idle. Persisted ids are left to the session teardown.
func (c *Context) Reset() {
	c.begin(func(s *domaintenant.Selection) {
		*s = domaintenant.Selection{Status: domaintenant.StatusIdle}
	})
}

// Resolve fetches memberships and selects an organization and project: the persisted id when it
// is still valid, else the first available. An organization without projects gets one default
// project. No memberships, or any failure, settles on onboarding with a null tenant.
func (c *Context) Resolve(ctx context.Context) (domaintenant.Selection, error) {
	return c.resolve(ctx, c.startLoading())
}

// startLoading marks the selection as loading and returns the epoch a resolution runs under.
func (c *Context) startLoading() uint64 {
	return c.begin(func(s *domaintenant.Selection) {
		s.Status = domaintenant.StatusLoading
		s.Err = nil
	})
}

func (c *Context) resolve(ctx context.Context, epoch uint64) (domaintenant.Selection, error) {
	if !c.current(epoch) {
		return c.Selection(), errSuperseded
	}
	persisted, err := c.state.Load(ctx)
	if err != nil {
		return c.degrade(ctx, epoch, apperrors.Wrap(err, apperrors.ErrCodeInternal, "load persisted tenant"))
	}
	orgs, err := c.dir.ListOrganizations(ctx)
	if err != nil {
		return c.degrade(ctx, epoch, err)
	}
	if len(orgs) == 0 {
		_, err = c.commit(epoch, func(s *domaintenant.Selection) error {
			*s = domaintenant.Selection{Status: domaintenant.StatusOnboarding, Organizations: []domaintenant.Organization{}}
			return nil
		})
		if err != nil {
			return c.Selection(), err
		}
		c.metrics.ObserveTenantResolution(string(domaintenant.StatusOnboarding), nil)
		c.logger.InfoContext(ctx, "no organization memberships; onboarding")
		return c.Selection(), nil
	}

	org, ok := domaintenant.FindOrganization(orgs, persisted.OrganizationID)
	preferredProject := persisted.ProjectID
	if !ok {
		org = orgs[0]
		preferredProject = ""
	}
	epoch, err = c.commit(epoch, func(s *domaintenant.Selection) error {
		s.Organizations = orgs
		s.Organization = &org
		s.Project = nil
		s.Projects = nil
		return nil
	})
	if err != nil {
		return c.Selection(), err
	}
	return c.resolveProjects(ctx, epoch, org, preferredProject)
}

// SelectOrganization switches to id. The project selection is reset and (id, "") persisted
// before the project fetch starts; results for the previous organization are discarded.
func (c *Context) SelectOrganization(ctx context.Context, id string) (domaintenant.Selection, error) {
	c.mu.Lock()
	org, ok := domaintenant.FindOrganization(c.sel.Organizations, id)
	if !ok {
		c.mu.Unlock()
		return c.Selection(), apperrors.TenantNotFoundf("organization %q is not one of your memberships", id)
	}
	if err := c.state.SaveTenant(ctx, org.ID, ""); err != nil {
		c.mu.Unlock()
		return c.Selection(), apperrors.Wrap(err, apperrors.ErrCodeInternal, "persist organization selection")
	}
	c.sel.Organization = &org
	c.sel.Project = nil
	c.sel.Projects = nil
	c.sel.Status = domaintenant.StatusLoading
	c.sel.Err = nil
	c.epoch++
	c.sel.Epoch = c.epoch
	epoch := c.epoch
	c.mu.Unlock()
	c.notify()

	c.logger.InfoContext(ctx, "organization selected", "organization_id", org.ID)
	return c.resolveProjects(ctx, epoch, org, "")
}

// SelectProject switches to a project of the current organization.
func (c *Context) SelectProject(ctx context.Context, id string) (domaintenant.Selection, error) {
	c.mu.Lock()
	if c.sel.Organization == nil {
		c.mu.Unlock()
		return c.Selection(), apperrors.TenantNotFound("no organization selected")
	}
	project, ok := domaintenant.FindProject(c.sel.Projects, id)
	if !ok || project.OrganizationID != c.sel.Organization.ID {
		c.mu.Unlock()
		return c.Selection(), apperrors.TenantNotFoundf("project %q is not in organization %q", id, c.sel.Organization.ID)
	}
	if err := c.state.SaveTenant(ctx, project.OrganizationID, project.ID); err != nil {
		c.mu.Unlock()
		return c.Selection(), apperrors.Wrap(err, apperrors.ErrCodeInternal, "persist project selection")
	}
	c.sel.Project = &project
	c.sel.Status = domaintenant.StatusReady
	c.epoch++
	c.sel.Epoch = c.epoch
	c.mu.Unlock()
	c.notify()

	c.logger.InfoContext(ctx, "project selected", "organization_id", project.OrganizationID, "project_id", project.ID)
	return c.Selection(), nil
}

func (c *Context) resolveProjects(ctx context.Context, epoch uint64, org domaintenant.Organization, preferred string) (domaintenant.Selection, error) {
	projects, err := c.dir.ListProjects(ctx, org.ID)
	if err != nil {
		return c.degrade(ctx, epoch, err)
	}
	owned := projects[:0:0]
	for _, p := range projects {
		if p.OrganizationID == org.ID {
			owned = append(owned, p)
		}
	}

	project, ok := domaintenant.FindProject(owned, preferred)
	switch {
	case ok:
	case len(owned) > 0:
		project = owned[0]
	default:
		if !c.current(epoch) {
			return c.Selection(), errSuperseded
		}
		project, err = c.createDefault(ctx, org.ID)
		if err != nil {
			return c.degrade(ctx, epoch, err)
		}
		owned = append(owned, project)
	}

	_, err = c.commit(epoch, func(s *domaintenant.Selection) error {
		if err := c.state.SaveTenant(ctx, org.ID, project.ID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "persist tenant selection")
		}
		s.Organization = &org
		s.Projects = owned
		s.Project = &project
		s.Status = domaintenant.StatusReady
		s.Err = nil
		return nil
	})
	if errors.Is(err, errSuperseded) {
		c.logger.DebugContext(ctx, "discarding stale project fetch", "organization_id", org.ID)
		return c.Selection(), err
	}
	if err != nil {
		return c.degrade(ctx, epoch, err)
	}
	c.metrics.ObserveTenantResolution(string(domaintenant.StatusReady), nil)
	c.logger.InfoContext(ctx, "tenant resolved", "organization_id", org.ID, "project_id", project.ID)
	return c.Selection(), nil
}

// createDefault creates the default project once per organization, however many resolutions
// race to do it.
func (c *Context) createDefault(ctx context.Context, orgID string) (domaintenant.Project, error) {
	v, err, shared := c.creates.Do(orgID, func() (any, error) {
		return c.dir.CreateProject(ctx, orgID, c.defaultName)
	})
	if err != nil {
		return domaintenant.Project{}, err
	}
	project := v.(domaintenant.Project)
	if project.OrganizationID == "" {
		project.OrganizationID = orgID
	}
	c.logger.InfoContext(ctx, "default project created", "organization_id", orgID, "project_id", project.ID, "shared", shared)
	return project, nil
}

func (c *Context) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// degrade settles on a null-tenant onboarding selection carrying err, unless a newer mutation
// already replaced the selection. Persisted ids are kept for the next attempt.
func (c *Context) degrade(ctx context.Context, epoch uint64, err error) (domaintenant.Selection, error) {
	_, cerr := c.commit(epoch, func(s *domaintenant.Selection) error {
		*s = domaintenant.Selection{Status: domaintenant.StatusOnboarding, Err: err}
		return nil
	})
	if cerr != nil {
		return c.Selection(), cerr
	}
	c.metrics.ObserveTenantResolution(string(domaintenant.StatusOnboarding), err)
	c.logger.WarnContext(ctx, "tenant resolution failed; falling back to onboarding", "error", err)
	return c.Selection(), err
}

// Await blocks until pred holds for the selection or ctx is done.
func (c *Context) Await(ctx context.Context, pred func(domaintenant.Selection) bool) (domaintenant.Selection, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := c.Subscribe(func(domaintenant.Selection) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if sel := c.Selection(); pred(sel) {
			return sel, nil
		}
		select {
		case <-ctx.Done():
			return c.Selection(), apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "waiting for tenant selection")
		case <-changed:
		}
	}
}

// Settled reports whether resolution has finished, successfully or not.
func Settled(s domaintenant.Selection) bool {
	return s.Status == domaintenant.StatusReady || s.Status == domaintenant.StatusOnboarding
}

// SessionSource is the part of the session store the binder observes.
type SessionSource interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// Bind keeps the selection in step with sessions: it resolves when a user becomes fully
// authenticated or the user changes, and resets when the session ends. The selection turns
// loading before the session call that caused the change returns; the fetch then runs on its own
// goroutine under ctx and is discarded if the session changes again before it lands.
// Call the returned function to stop.
func (c *Context) Bind(ctx context.Context, sessions SessionSource) (unbind func()) {
	var mu sync.Mutex
	bound := ""

	apply := func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		switch snap.State {
		case domainauth.StateAnonymous:
			if bound != "" {
				bound = ""
				c.Reset()
			}
		case domainauth.StateAuthenticated:
			if id := snap.User().ID; id != bound {
				bound = id
				// Nothing of a previous user's selection survives into the new resolution.
				epoch := c.begin(func(s *domaintenant.Selection) {
					*s = domaintenant.Selection{Status: domaintenant.StatusLoading}
				})
				go func() {
					if _, err := c.resolve(ctx, epoch); err != nil && !apperrors.IsCanceled(err) {
						c.logger.WarnContext(ctx, "tenant resolution after sign-in failed", "error", err)
					}
				}()
			}
		case domainauth.StateMFARequired:
			if bound != "" && snap.User().ID != bound {
				bound = ""
				c.Reset()
			}
		}
	}

	unsubscribe := sessions.Subscribe(apply)
	apply(sessions.Snapshot())
	return unsubscribe
}
