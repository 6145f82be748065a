package requestauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/agentops-console/internal/domain/auth"
	domaintenant "github.com/target/agentops-console/internal/domain/tenant"
	apperrors "github.com/target/agentops-console/internal/errors"
	mocks "github.com/target/agentops-console/internal/mocks/auth"
	"github.com/target/agentops-console/internal/ports"
	"github.com/target/agentops-console/internal/session"
	"github.com/target/agentops-console/internal/testutil"
)

type staticTenants domaintenant.Selection

func (s staticTenants) Selection() domaintenant.Selection { return domaintenant.Selection(s) }

type fixture struct {
	clock    *testutil.Clock
	provider *mocks.MockIdentityProvider
	state    *mocks.MemoryStateStore
	sessions *session.Store
}

func newFixture(t *testing.T, sess *domainauth.Session) *fixture {
	t.Helper()
	f := &fixture{
		clock:    testutil.NewClock(testutil.TestTime()),
		provider: mocks.NewMockIdentityProvider(),
		state:    mocks.NewMemoryStateStore(ports.DeviceState{}),
	}
	f.provider.Now = f.clock.Now
	var err error
	f.sessions, err = session.New(session.Options{
		Provider: f.provider,
		State:    f.state,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	if sess != nil {
		signedIn := *sess
		f.provider.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) { return signedIn, nil }
		_, err = f.sessions.SignIn(context.Background(), "user@example.com", "pw")
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) transport(t *testing.T, tenants Tenants, onUnauth func(error)) *Transport {
	t.Helper()
	tr, err := NewTransport(Options{
		Sessions:          f.sessions,
		Tenants:           tenants,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:               f.clock.Now,
		OnUnauthenticated: onUnauth,
	})
	require.NoError(t, err)
	return tr
}

// acceptOnly answers 200 for the given bearer token and 401 for anything else.
func acceptOnly(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}
}

func TestNewTransport_RequiresSessions(t *testing.T) {
	_, err := NewTransport(Options{})
	require.Error(t, err)
}

func TestRoundTrip_Headers(t *testing.T) {
	org := &domaintenant.Organization{ID: "org-1"}
	project := &domaintenant.Project{ID: "proj-1", OrganizationID: "org-1"}

	tests := []struct {
		name        string
		signedIn    bool
		tenants     Tenants
		preset      map[string]string
		wantAuth    string
		wantOrg     string
		wantProject string
	}{
		{name: "anonymous", wantAuth: ""},
		{name: "no tenant selected", signedIn: true, tenants: staticTenants{}, wantAuth: "Bearer a0"},
		{
			name:     "organization only",
			signedIn: true,
			tenants:  staticTenants{Organization: org},
			wantAuth: "Bearer a0", wantOrg: "org-1",
		},
		{
			name:     "organization and project",
			signedIn: true,
			tenants:  staticTenants{Organization: org, Project: project},
			wantAuth: "Bearer a0", wantOrg: "org-1", wantProject: "proj-1",
		},
		{
			name:     "stray project header without organization is dropped",
			signedIn: true,
			tenants:  staticTenants{},
			preset:   map[string]string{HeaderProjectID: "proj-x"},
			wantAuth: "Bearer a0",
		},
		{
			name:     "explicit organization is kept",
			signedIn: true,
			tenants:  staticTenants{Organization: org, Project: project},
			preset:   map[string]string{HeaderOrganizationID: "org-2"},
			wantAuth: "Bearer a0", wantOrg: "org-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
			}))
			defer srv.Close()

			var sess *domainauth.Session
			if tt.signedIn {
				s := testutil.NewSession().WithTokens("a0", "r0").Build()
				sess = &s
			}
			f := newFixture(t, sess)
			client := f.transport(t, tt.tenants, nil).Client(time.Second)

			req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/agents", nil)
			require.NoError(t, err)
			for k, v := range tt.preset {
				req.Header.Set(k, v)
			}
			resp, err := client.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, tt.wantAuth, got.Get("Authorization"))
			assert.Equal(t, tt.wantOrg, got.Get(HeaderOrganizationID))
			assert.Equal(t, tt.wantProject, got.Get(HeaderProjectID))
			_, hasProject := got[HeaderProjectID]
			assert.Equal(t, tt.wantProject != "", hasProject, "project header is omitted entirely")
		})
	}
}

func TestRoundTrip_RefreshAndRetryOnce(t *testing.T) {
	srv := httptest.NewServer(acceptOnly("access-1"))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	client := f.transport(t, nil, nil).Client(time.Second)

	resp, err := client.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(`{"agent":"a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"agent":"a"}`, string(body), "body is replayed on retry")
	assert.Equal(t, 1, f.provider.Calls("RefreshSession"))
	assert.Equal(t, "access-1", f.state.State().AccessToken)
}

func TestRoundTrip_BuffersBodyWithoutGetBody(t *testing.T) {
	srv := httptest.NewServer(acceptOnly("access-1"))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	tr := f.transport(t, nil, nil)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/runs/1", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body))
}

func TestRoundTrip_SecondUnauthorizedIsTerminal(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	client := f.transport(t, nil, nil).Client(time.Second)

	resp, err := client.Get(srv.URL + "/v1/agents")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 2, hits, "original request plus one retry")
	assert.Equal(t, 1, f.provider.Calls("RefreshSession"))
	assert.Equal(t, domainauth.StateAuthenticated, f.sessions.Snapshot().State)
}

func TestRoundTrip_AnonymousUnauthorizedIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(acceptOnly("never"))
	defer srv.Close()

	f := newFixture(t, nil)
	client := f.transport(t, nil, nil).Client(time.Second)

	resp, err := client.Get(srv.URL + "/v1/agents")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.provider.Calls("RefreshSession"))
}

func TestRoundTrip_ExpiredTokenRefreshedBeforeSending(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
	}))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	f.clock.Set(sess.ExpiresAt.Add(time.Second))
	client := f.transport(t, nil, nil).Client(time.Second)

	resp, err := client.Get(srv.URL + "/v1/agents")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, []string{"Bearer access-1"}, seen)
	assert.Equal(t, 1, f.provider.Calls("RefreshSession"))
}

func TestRoundTrip_UnauthorizedAfterPreSendRefreshIsTerminal(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	f.clock.Set(sess.ExpiresAt.Add(time.Second))
	client := f.transport(t, nil, nil).Client(time.Second)

	resp, err := client.Get(srv.URL + "/v1/agents")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{"Bearer access-1"}, seen)
	assert.Equal(t, 1, f.provider.Calls("RefreshSession"))
}

func TestRoundTrip_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const requests = 8
	allRejected := make(chan struct{})
	var mu sync.Mutex
	rejected := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer access-1" {
			return
		}
		mu.Lock()
		rejected++
		if rejected == requests {
			close(allRejected)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	f.provider.RefreshFunc = func(context.Context, string) (domainauth.Session, error) {
		select {
		case <-allRejected:
		case <-time.After(2 * time.Second):
		}
		return f.provider.NextSession(), nil
	}
	client := f.transport(t, nil, nil).Client(5 * time.Second)

	var wg sync.WaitGroup
	statuses := make([]int, requests)
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/v1/agents")
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.provider.Calls("RefreshSession"), "exactly one refresh for concurrent 401s")
	for i := range requests {
		assert.Equal(t, http.StatusOK, statuses[i])
	}
}

func TestRoundTrip_RefreshFailureTearsDownAndSignals(t *testing.T) {
	srv := httptest.NewServer(acceptOnly("never"))
	defer srv.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	require.NoError(t, f.state.SaveTenant(context.Background(), "org-1", "proj-1"))
	f.provider.RefreshFunc = func(context.Context, string) (domainauth.Session, error) {
		return domainauth.Session{}, apperrors.InvalidCredentials("refresh token revoked")
	}
	var signalled []error
	client := f.transport(t, nil, func(err error) { signalled = append(signalled, err) }).Client(time.Second)

	_, err := client.Get(srv.URL + "/v1/agents")
	require.Error(t, err)
	assert.True(t, apperrors.IsRefreshFailure(err))
	require.Len(t, signalled, 1)
	assert.True(t, apperrors.IsRefreshFailure(signalled[0]))
	assert.Equal(t, domainauth.StateAnonymous, f.sessions.Snapshot().State)
	assert.True(t, f.state.State().Empty(), "all persisted keys are cleared")
}

func TestReverseProxy(t *testing.T) {
	var got http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer upstream.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	tenants := staticTenants{Organization: &domaintenant.Organization{ID: "org-1"}}
	proxy := httptest.NewServer(ReverseProxy(target, f.transport(t, tenants, nil), nil))
	defer proxy.Close()

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/v1/agents", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer local-tool")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "/v1/agents", string(body))
	assert.Equal(t, "Bearer a0", got.Get("Authorization"))
	assert.Equal(t, "org-1", got.Get(HeaderOrganizationID))
}

func TestReverseProxy_RefreshFailureIsUnauthorized(t *testing.T) {
	upstream := httptest.NewServer(acceptOnly("never"))
	defer upstream.Close()

	sess := testutil.NewSession().WithTokens("a0", "r0").Build()
	f := newFixture(t, &sess)
	f.provider.RefreshFunc = func(context.Context, string) (domainauth.Session, error) {
		return domainauth.Session{}, apperrors.InvalidCredentials("refresh token revoked")
	}
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	proxy := httptest.NewServer(ReverseProxy(target, f.transport(t, nil, nil), nil))
	defer proxy.Close()

	resp, err := http.Get(proxy.URL + "/v1/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), `"error":"refresh_failure"`)
}
