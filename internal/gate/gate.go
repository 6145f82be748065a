// Package gate decides which surface to show from the session and tenant state.
package gate

import (
	"log/slog"
	"sync"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	"github.com/target/agentops-console/internal/session"
)

// View is a top-level surface.
type View string

const (
	ViewLoading      View = "loading"
	ViewSignIn       View = "sign_in"
	ViewMFAChallenge View = "mfa_challenge"
	ViewOnboarding   View = "onboarding"
	ViewProtected    View = "protected"
)

// Decision is the outcome of Decide. It is comparable.
type Decision struct {
	View           View
	Assurance      domainauth.AssuranceLevel
	UserID         string
	OrganizationID string
	ProjectID      string
}

// Allowed reports whether protected content may be shown.
func (d Decision) Allowed() bool { return d.View == ViewProtected }

// Decide maps the session and tenant state to a view. A pending step-up always wins over
// token validity; only a fully authenticated session with a resolved tenant is protected.
func Decide(snap session.Snapshot, sel domaintenant.Selection) Decision {
	d := Decision{Assurance: snap.Assurance, UserID: snap.User().ID}

	if snap.Assurance.StepUpRequired() && snap.State != domainauth.StateAnonymous {
		d.View = ViewMFAChallenge
		return d
	}

	switch snap.State {
	case domainauth.StateLoading, domainauth.StateAuthenticating:
		d.View = ViewLoading
		return d
	case domainauth.StateAnonymous:
		d.View = ViewSignIn
		d.UserID = ""
		return d
	case domainauth.StateMFARequired:
		d.View = ViewMFAChallenge
		return d
	}

	switch sel.Status {
	case domaintenant.StatusReady:
		if !sel.Resolved() {
			d.View = ViewOnboarding
			return d
		}
		d.View = ViewProtected
		d.OrganizationID = sel.OrganizationID()
		d.ProjectID = sel.ProjectID()
	case domaintenant.StatusOnboarding:
		d.View = ViewOnboarding
	default:
		d.View = ViewLoading
	}
	return d
}

// SessionSource is observed for session changes.
type SessionSource interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// TenantSource is observed for tenant changes.
type TenantSource interface {
	Selection() domaintenant.Selection
	Subscribe(fn func(domaintenant.Selection)) (unsubscribe func())
}

// Gate recomputes the decision after every session or tenant change and notifies
// listeners when it differs from the previous one.
type Gate struct {
	sessions SessionSource
	tenants  TenantSource
	logger   *slog.Logger

	mu       sync.Mutex
	decision Decision

	notifyMu  sync.Mutex
	listeners map[uint64]func(Decision)
	nextID    uint64

	unsubscribe []func()
}

// New creates a Gate observing sessions and tenants. Call Close to stop observing.
func New(sessions SessionSource, tenants TenantSource, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		sessions:  sessions,
		tenants:   tenants,
		logger:    logger.With("component", "gate"),
		listeners: make(map[uint64]func(Decision)),
	}
	g.decision = Decide(sessions.Snapshot(), tenants.Selection())
	g.unsubscribe = []func(){
		sessions.Subscribe(func(session.Snapshot) { g.recompute() }),
		tenants.Subscribe(func(domaintenant.Selection) { g.recompute() }),
	}
	g.recompute()
	return g
}

// Decision returns the current decision.
func (g *Gate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// Subscribe registers fn to receive every changed decision.
func (g *Gate) Subscribe(fn func(Decision)) (unsubscribe func()) {
	g.notifyMu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.notifyMu.Unlock()
	return func() {
		g.notifyMu.Lock()
		delete(g.listeners, id)
		g.notifyMu.Unlock()
	}
}

// Close stops observing the stores.
func (g *Gate) Close() {
	for _, fn := range g.unsubscribe {
		fn()
	}
}

func (g *Gate) recompute() {
	// Serialized so listeners see decisions in the order they were computed.
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	next := Decide(g.sessions.Snapshot(), g.tenants.Selection())
	g.mu.Lock()
	prev := g.decision
	g.decision = next
	g.mu.Unlock()
	if next == prev {
		return
	}
	g.logger.Debug("gate decision changed", "from", prev.View, "to", next.View,
		"organization_id", next.OrganizationID, "project_id", next.ProjectID)
	for _, fn := range g.listeners {
		fn(next)
	}
}
