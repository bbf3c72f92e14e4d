// Package e2e boots the full runtime in process and exercises it over the
// HTTP API.
package e2e

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/miniagent/pkg/api"
	"github.com/codeready-toolchain/miniagent/pkg/registry"
	"github.com/codeready-toolchain/miniagent/pkg/services"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

// TestApp is a complete in-process instance behind an httptest server.
type TestApp struct {
	Store    store.Store
	Registry *registry.Registry
	Service  *services.SessionService
	BaseURL  string
	WSURL    string

	server *httptest.Server
	t      *testing.T
}

type appConfig struct {
	dataRoot string
	turns    turn.Service
	debounce time.Duration
}

// AppOption configures the test app.
type AppOption func(*appConfig)

// WithDataRoot pins the persistence directory, letting a later app reopen the
// same logs.
func WithDataRoot(dir string) AppOption {
	return func(c *appConfig) { c.dataRoot = dir }
}

// WithTurns sets the turn service.
func WithTurns(svc turn.Service) AppOption {
	return func(c *appConfig) { c.turns = svc }
}

// WithDebounce sets the actor quiet period.
func WithDebounce(d time.Duration) AppOption {
	return func(c *appConfig) { c.debounce = d }
}

// NewTestApp boots the stack: file store, registry, facade, HTTP gateway.
// Everything is torn down on test cleanup.
func NewTestApp(t *testing.T, opts ...AppOption) *TestApp {
	t.Helper()
	cfg := &appConfig{
		dataRoot: t.TempDir(),
		turns:    turn.NewScripted(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st, err := store.NewFileStore(cfg.dataRoot)
	require.NoError(t, err)
	reg := registry.New(registry.Options{
		Store:    st,
		Turns:    cfg.turns,
		Debounce: cfg.debounce,
	})
	svc := services.NewSessionService(reg, st, services.Options{})

	ts := httptest.NewServer(api.NewServer(svc, nil, nil).Router())
	t.Cleanup(func() {
		ts.Close()
		_ = reg.ShutdownAll(context.Background())
		_ = st.Close()
	})

	return &TestApp{
		Store:    st,
		Registry: reg,
		Service:  svc,
		BaseURL:  ts.URL,
		WSURL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
		server:   ts,
		t:        t,
	}
}

// Shutdown stops the app early, before test cleanup runs. Used by restart
// scenarios.
func (app *TestApp) Shutdown() {
	app.server.Close()
	require.NoError(app.t, app.Registry.ShutdownAll(context.Background()))
	require.NoError(app.t, app.Store.Close())
}
