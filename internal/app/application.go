// Package app owns one client session context: it constructs every
// component, wires the session hooks and exposes the user actions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/message"

	"chatclient/internal/api"
	"chatclient/internal/config"
	"chatclient/internal/database"
	"chatclient/internal/groups"
	"chatclient/internal/hub"
	"chatclient/internal/i18n"
	"chatclient/internal/metrics"
	"chatclient/internal/poller"
	"chatclient/internal/render"
	"chatclient/internal/roster"
	"chatclient/internal/router"
	"chatclient/internal/session"
	"chatclient/internal/transcript"
	"chatclient/internal/websocket"
	pkgdatabase "chatclient/pkg/database"
	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

// Options carries collaborators that callers may replace.
type Options struct {
	Logger   *slog.Logger
	Notifier interfaces.Notifier
	// Store replaces the sqlite token store.
	Store interfaces.TokenStore
	// Registerer receives the client metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// Application is the explicit session context. There are no package-level
// singletons: every component hangs off one Application value.
type Application struct {
	config   *config.Config
	logger   *slog.Logger
	printer  *message.Printer
	notifier interfaces.Notifier

	store      interfaces.TokenStore
	closeStore func() error
	client     *api.Client
	session    *session.Manager
	roster     *roster.Service
	transcript *transcript.Transcript
	transport  *websocket.Transport
	router     *router.Router
	groups     *groups.Service
	poller     *poller.Poller
	hub        *hub.Hub
	renderer   *render.Renderer

	registry      *prometheus.Registry
	metricsServer *http.Server
	metricsAddr   string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Alert(msg string) {
	n.logger.Info("alert", slog.String("text", msg))
}

// NewApplication builds every component in dependency order:
// Store → REST → Metrics → Session → Roster → Transcript → Hub → Transport
// → Router → Groups → Poller.
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	printer := i18n.Printer(cfg.Locale.Tag)

	a := &Application{
		config:   cfg,
		logger:   logger.With(slog.String("component", "app")),
		printer:  printer,
		notifier: notifier,
	}

	// STEP 1: token store
	if opts.Store != nil {
		a.store = opts.Store
		a.closeStore = func() error { return nil }
	} else {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Store.Path
		dbConfig.Slot = cfg.Store.Slot
		dbConfig.WriteTimeout = cfg.Store.Wait
		store, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		a.store = store
		a.closeStore = store.Close
	}

	// STEP 2: REST client
	client, err := api.NewClient(api.Options{
		BaseURL:        cfg.Server.BaseURL,
		Timeout:        cfg.Server.RequestTimeout,
		RequestsPerSec: cfg.Server.RequestsPerSec,
		Burst:          cfg.Server.RequestBurst,
		Logger:         logger.With(slog.String("component", "api")),
	})
	if err != nil {
		_ = a.closeStore()
		return nil, fmt.Errorf("failed to build REST client: %w", err)
	}
	a.client = client

	// STEP 3: metrics
	var recorder metrics.Recorder = metrics.Nop{}
	registerer := opts.Registerer
	if registerer == nil && cfg.Metrics.Addr != "" {
		a.registry = prometheus.NewRegistry()
		registerer = a.registry
	}
	if registerer != nil {
		recorder = metrics.NewCollector(registerer)
	}

	// STEP 4: session
	a.session = session.NewManager(client, a.store, session.Options{
		ValidityInterval: cfg.Session.ValidityInterval,
		Logger:           logger,
		Metrics:          recorder,
		Notifier:         notifier,
		Printer:          printer,
	})

	// STEP 5: roster and transcript
	a.roster = roster.NewService(client, logger)
	a.transcript = transcript.New()

	// STEP 6: transport publishes into the hub; the hub dispatches to the
	// roster and the router, which needs the transport to send. The
	// dispatcher is bound once both exist.
	dispatch := &lateDispatcher{}
	a.hub = hub.NewHub(dispatch, logger)

	reconnect := cfg.Transport.Reconnect
	a.transport = websocket.NewTransport(websocket.Options{
		URL:          cfg.SocketURL(),
		DialTimeout:  cfg.Transport.DialTimeout,
		PingInterval: cfg.Transport.PingInterval,
		ReadTimeout:  cfg.Transport.ReadTimeout,
		WriteTimeout: cfg.Transport.WriteTimeout,
		BufferSize:   cfg.Transport.BufferSize,
		Reconnect: websocket.ReconnectPolicy{
			Enabled:         reconnect.Enabled,
			InitialInterval: reconnect.InitialInterval,
			MaxInterval:     reconnect.MaxInterval,
			MaxElapsed:      reconnect.MaxElapsed,
			MaxAttempts:     reconnect.MaxAttempts,
		},
		Logger:  logger,
		Metrics: recorder,
	}, a.hub)

	// STEP 7: router and dispatcher
	a.router = router.NewRouter(client, a.session, a.transport, a.transcript, router.Options{
		SendRate:  cfg.Transport.SendRate,
		SendBurst: cfg.Transport.SendBurst,
		Logger:    logger,
	})
	dispatch.bind(hub.NewDispatcher(a.roster, a.router, printer, logger))

	// STEP 8: groups and poller
	a.groups = groups.NewService(client, client, a.session, a.router, groups.Options{
		Notifier: notifier,
		Printer:  printer,
		Logger:   logger,
	})
	a.poller = poller.NewPoller(client, a.session, a.hub, cfg.Poller.Interval, logger, recorder)
	a.renderer = render.NewRenderer(printer)

	// STEP 9: lifecycle wiring
	a.session.OnAuthenticated(a.onAuthenticated)
	a.session.OnTeardown(a.onTeardown)
	a.session.OnUnauthenticated(a.onUnauthenticated)
	a.transport.OnClosed(a.onTransportClosed)

	return a, nil
}

// Start runs the hub and the metrics endpoint, then tries to recover a
// persisted session. It reports whether a session was recovered.
func (a *Application) Start(ctx context.Context) (bool, error) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return false, ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)

	// STEP 1: event loop
	if err := a.hub.Start(runCtx); err != nil {
		cancel()
		a.mu.Unlock()
		return false, fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: metrics endpoint
	if a.registry != nil {
		if err := a.startMetrics(); err != nil {
			_ = a.hub.Stop()
			cancel()
			a.mu.Unlock()
			return false, err
		}
	}

	a.ctx, a.cancel, a.started = runCtx, cancel, true
	a.mu.Unlock()

	// STEP 3: session recovery
	recovered, err := a.session.Recover(runCtx)
	if err != nil {
		a.logger.Warn("session recovery failed", slog.String("error", err.Error()))
		return false, nil
	}
	return recovered, nil
}

func (a *Application) startMetrics() error {
	ln, err := net.Listen("tcp", a.config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.metricsAddr = ln.Addr().String()
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("metrics endpoint listening", slog.String("addr", a.metricsAddr))
	return nil
}

// MetricsAddr is the bound metrics address, empty when disabled.
func (a *Application) MetricsAddr() string {
	return a.metricsAddr
}

// Stop shuts down in reverse order. The persisted token is kept so the
// next run can recover the session.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	// STEP 1: timers, poller and socket
	a.session.Shutdown()

	// STEP 2: event loop
	if err := a.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		a.logger.Warn("hub shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	// STEP 3: metrics endpoint
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	// STEP 4: token store
	if err := a.closeStore(); err != nil {
		a.logger.Warn("token store close error", slog.String("error", err.Error()))
	}
	a.logger.Info("client stopped")
	return nil
}

func (a *Application) context() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil, ErrNotStarted
	}
	return a.ctx, nil
}

// onAuthenticated connects the socket, refreshes the roster and groups and
// starts the offline poll.
func (a *Application) onAuthenticated(ctx context.Context, id types.Identity) {
	token := a.session.Token()
	a.roster.SetSelf(id.ID)

	if err := a.transport.Connect(ctx, token); err != nil {
		a.logger.Warn("chat socket connect failed", slog.String("error", err.Error()))
		go a.session.Revalidate(ctx)
	}

	a.roster.Refresh(ctx, token)
	if err := a.groups.Load(ctx); err != nil {
		a.logger.Debug("initial group load failed", slog.String("error", err.Error()))
	}
	if err := a.poller.Start(ctx); err != nil {
		a.logger.Warn("offline poller start failed", slog.String("error", err.Error()))
	}
}

// onTeardown silences every producer and then retires the events they
// already queued, so nothing from the ended session reaches the roster or
// the transcript.
func (a *Application) onTeardown() {
	a.poller.Stop()
	if err := a.transport.Close(); err != nil {
		a.logger.Debug("socket close error", slog.String("error", err.Error()))
	}
	a.hub.Advance()
}

func (a *Application) onUnauthenticated(reason string) {
	a.router.Clear()
	a.roster.Reset()
	a.groups.Reset()
	a.logger.Info("session cleared", slog.String("reason", reason))
}

// onTransportClosed runs for closes the client did not ask for. The socket
// failure alone never ends the session: only an invalid token does. Retries
// run under the session context, so a logout stops them.
func (a *Application) onTransportClosed(err error) {
	attrs := []any{}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	a.logger.Warn("chat socket closed", attrs...)

	ctx := a.session.Context()
	token := a.session.Token()
	if ctx.Err() != nil || token == "" {
		return
	}
	go func() {
		if a.transport.ReconnectEnabled() {
			rerr := a.transport.Reconnect(ctx, token)
			if rerr == nil {
				return
			}
			a.logger.Warn("reconnect gave up", slog.String("error", rerr.Error()))
		}
		a.session.Revalidate(ctx)
	}()
}

// Login authenticates with username and password.
func (a *Application) Login(username, password string) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	return a.session.Authenticate(ctx, username, password)
}

// Register creates an account and logs it in.
func (a *Application) Register(reg types.Registration) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	return a.session.Register(ctx, reg)
}

// Logout ends the session and forgets the persisted token.
func (a *Application) Logout() {
	a.session.Logout()
}

// Authenticated reports whether a session is active.
func (a *Application) Authenticated() bool {
	return a.session.State() == session.StateAuthenticated
}

// Identity returns the current identity.
func (a *Application) Identity() types.Identity {
	return a.session.Identity()
}

// SelectDirect makes the chat with a roster user active.
func (a *Application) SelectDirect(userID int64) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	entry, ok := a.roster.Entry(userID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	return a.router.SetActive(ctx, types.Direct(entry.UserID, entry.Username))
}

// SelectGroup makes a group chat active.
func (a *Application) SelectGroup(groupID int64) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	g, ok := a.groups.Group(groupID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownGroup, groupID)
	}
	return a.router.SetActive(ctx, types.GroupConversation(g))
}

// Send composes a message to the active conversation.
func (a *Application) Send(content string) error {
	return a.router.ComposeOutbound(content)
}

// CheckOffline polls the offline backlog now and returns the number of new
// messages.
func (a *Application) CheckOffline() (int, error) {
	ctx, err := a.context()
	if err != nil {
		return 0, err
	}
	return a.poller.Poll(ctx)
}

// RefreshUsers reloads the roster from the server.
func (a *Application) RefreshUsers() error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	token := a.session.Token()
	if token == "" {
		return groups.ErrNotAuthenticated
	}
	a.roster.Refresh(ctx, token)
	return nil
}

// RefreshGroups reloads the group list.
func (a *Application) RefreshGroups() error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	return a.groups.Load(ctx)
}

// CreateGroup creates a group owned by the user.
func (a *Application) CreateGroup(name string) (*types.Group, error) {
	ctx, err := a.context()
	if err != nil {
		return nil, err
	}
	return a.groups.Create(ctx, name)
}

// Kick removes a member from the active group.
func (a *Application) Kick(userID int64) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	return a.groups.Kick(ctx, userID)
}

// InviteCandidates lists who can be invited to the active group.
func (a *Application) InviteCandidates() ([]types.User, error) {
	ctx, err := a.context()
	if err != nil {
		return nil, err
	}
	return a.groups.InviteCandidates(ctx)
}

// Invite adds a user to the active group.
func (a *Application) Invite(userID int64) error {
	ctx, err := a.context()
	if err != nil {
		return err
	}
	return a.groups.Invite(ctx, userID)
}

// View projects the current state for display.
func (a *Application) View() render.View {
	active, hasActive := a.router.Active()
	members, visible := a.router.Members()
	return a.renderer.Project(render.State{
		Self:           a.session.Identity(),
		Active:         active,
		HasActive:      hasActive,
		Entries:        a.transcript.Entries(),
		Roster:         a.roster.Entries(),
		Groups:         a.groups.Groups(),
		Members:        members,
		MembersVisible: visible,
	})
}

