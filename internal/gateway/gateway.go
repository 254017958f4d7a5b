// ABOUTME: Gateway orchestrator wiring the store, hub, registry, and servers
// ABOUTME: Owns seeding, the listener (TCP or tsnet), and graceful shutdown

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/2389/talkto/internal/auth"
	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/config"
	"github.com/2389/talkto/internal/httpapi"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/invoker"
	"github.com/2389/talkto/internal/mcp"
	"github.com/2389/talkto/internal/provider"
	"github.com/2389/talkto/internal/registry"
	"github.com/2389/talkto/internal/router"
	"github.com/2389/talkto/internal/store"
)

// WorkspaceName is the seeded default workspace.
const WorkspaceName = "talkto"

// OperatorName is the seeded human account that localhost requests act as.
const OperatorName = "operator"

const shutdownTimeout = 5 * time.Second

// Gateway wires every component together and runs the server.
type Gateway struct {
	config   *config.Config
	store    *store.Store
	events   *hub.Hub
	registry *registry.Registry
	invoker  *invoker.Invoker

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	workspaceID string
	operatorID  string
}

// New opens the store, seeds the workspace, and assembles all components.
// Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ctx := context.Background()
	workspaceID, operatorID, err := seed(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	events := hub.New()
	ch := channels.NewManager(st, events, workspaceID)
	if err := ch.EnsureDefaults(ctx); err != nil {
		st.Close()
		return nil, err
	}

	providers := provider.NewRegistry()
	reg := registry.New(st, ch, events, providers, workspaceID, cfg.Prompts.Dir)
	if err := reg.EnsureMascot(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("seeding mascot: %w", err)
	}

	inv := invoker.New(st, events, providers)
	rt := router.New(st, ch, events, inv)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("no auth.jwt_secret configured; sessions will not survive restarts")
	}
	verifier := auth.NewJWTVerifier([]byte(secret))
	authn := auth.NewAuthenticator(st, verifier, workspaceID, cfg.AllowLocalhost())

	mux := http.NewServeMux()

	api, err := httpapi.New(httpapi.Config{
		Store:       st,
		Channels:    ch,
		Router:      rt,
		Registry:    reg,
		Events:      events,
		Auth:        authn,
		Verifier:    verifier,
		WorkspaceID: workspaceID,
		OperatorID:  operatorID,
		Logger:      logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	api.RegisterRoutes(mux)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry: reg,
		Router:   rt,
		Channels: ch,
		Store:    st,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	mcpServer.RegisterRoutes(mux)

	return &Gateway{
		config:   cfg,
		store:    st,
		events:   events,
		registry: reg,
		invoker:  inv,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:      logger.With("component", "gateway"),
		workspaceID: workspaceID,
		operatorID:  operatorID,
	}, nil
}

// Handler exposes the assembled mux, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// seed provisions the default workspace and operator account. Idempotent.
func seed(ctx context.Context, st *store.Store) (workspaceID, operatorID string, err error) {
	now := time.Now().UTC()

	ws, err := st.GetDefaultWorkspace(ctx)
	if errors.Is(err, store.ErrNotFound) {
		ws = &store.Workspace{ID: uuid.NewString(), Name: WorkspaceName, CreatedAt: now}
		if err := st.CreateWorkspace(ctx, ws); err != nil {
			return "", "", fmt.Errorf("seeding workspace: %w", err)
		}
	} else if err != nil {
		return "", "", err
	}

	operator, err := st.GetUserByName(ctx, OperatorName)
	if errors.Is(err, store.ErrNotFound) {
		operator = &store.User{
			ID:        uuid.NewString(),
			Name:      OperatorName,
			Type:      store.UserTypeHuman,
			CreatedAt: now,
		}
		if err := st.CreateUser(ctx, operator); err != nil {
			return "", "", fmt.Errorf("seeding operator: %w", err)
		}
	} else if err != nil {
		return "", "", err
	}

	if err := st.AddWorkspaceMember(ctx, ws.ID, operator.ID, store.RoleAdmin, now); err != nil {
		return "", "", err
	}
	return ws.ID, operator.ID, nil
}

func randomSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic(err)
	}
	return hex.EncodeToString(raw)
}

// Run starts the listener and blocks until ctx is canceled or a component
// fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.listen(ctx)
	if err != nil {
		return err
	}
	g.logger.Info("gateway listening",
		"addr", ln.Addr().String(),
		"network_mode", g.config.Server.NetworkMode,
	)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.events.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		g.registry.RunGhostLoop(ctx, g.config.Agents.GhostRefreshInterval)
		return nil
	})
	eg.Go(func() error {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return g.shutdown()
	})

	return eg.Wait()
}

// listen opens the TCP or tsnet listener per the configured network mode.
func (g *Gateway) listen(ctx context.Context) (net.Listener, error) {
	if g.config.Server.NetworkMode == config.NetworkTailscale {
		return g.listenTailscale(ctx)
	}
	return net.Listen("tcp", g.config.Addr())
}

func (g *Gateway) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir := tsCfg.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving tailscale state dir (set tailscale.state_dir): %w", err)
		}
		stateDir = filepath.Join(home, ".local", "share", "talkto", "tailscale")
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := tsCfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale node: %w", err)
	}
	if status.Self != nil {
		g.logger.Info("tailscale node ready",
			"hostname", tsCfg.Hostname, "dns_name", status.Self.DNSName)
	}

	ln, err := g.tsnetServer.Listen("tcp", fmt.Sprintf(":%d", g.config.Server.Port))
	if err != nil {
		g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// shutdown stops the HTTP server, abandons in-flight invocations, and
// releases resources. The hub and ghost loop stop via context cancellation.
func (g *Gateway) shutdown() error {
	g.logger.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases resources without a graceful drain. For callers that never
// ran the gateway.
func (g *Gateway) Close() error {
	return g.store.Close()
}
