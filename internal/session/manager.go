// Package session owns the authenticated session: the bearer token, the
// identity behind it, the periodic validity check and the single teardown
// path every logout goes through.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/message"

	"chatclient/internal/i18n"
	"chatclient/internal/metrics"
	"chatclient/pkg/interfaces"
	"chatclient/pkg/types"
)

// State is the lifecycle state of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateTearingDown:
		return "TEARING_DOWN"
	default:
		return "UNAUTHENTICATED"
	}
}

// Logout reasons, also used as metric labels.
const (
	ReasonUser         = "user"
	ReasonInvalidToken = "invalid_token"
	ReasonShutdown     = "shutdown"
)

// Options configures a Manager.
type Options struct {
	ValidityInterval time.Duration
	Logger           *slog.Logger
	Metrics          metrics.Recorder
	Notifier         interfaces.Notifier
	Printer          *message.Printer
}

// Manager implements interfaces.TokenSource.
// ARCHITECTURAL DISCOVERY: identity is present iff the token is present and
// its last validation succeeded; every path that invalidates one clears
// both inside teardown.
type Manager struct {
	auth     interfaces.AuthService
	store    interfaces.TokenStore
	interval time.Duration
	logger   *slog.Logger
	metrics  metrics.Recorder
	notifier interfaces.Notifier
	printer  *message.Printer
	now      func() time.Time

	mu             sync.RWMutex
	state          State
	token          string
	identity       types.Identity
	validityCancel context.CancelFunc
	sessionCtx     context.Context
	sessionCancel  context.CancelFunc

	hooksMu      sync.RWMutex
	onAuth       []func(ctx context.Context, id types.Identity)
	onTeardown   []func()
	onUnauthed   []func(reason string)
	teardownLock sync.Mutex
}

// NewManager creates an unauthenticated session.
func NewManager(auth interfaces.AuthService, store interfaces.TokenStore, opts Options) *Manager {
	if opts.ValidityInterval <= 0 {
		opts.ValidityInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Printer == nil {
		opts.Printer = i18n.Printer(i18n.DefaultLocale)
	}
	return &Manager{
		auth:     auth,
		store:    store,
		interval: opts.ValidityInterval,
		logger:   opts.Logger.With(slog.String("component", "session")),
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		printer:  opts.Printer,
		now:      time.Now,
	}
}

type discardNotifier struct{}

func (discardNotifier) Alert(string) {}

// OnAuthenticated registers fn to run after a session is established. ctx
// is derived from the one passed to Authenticate, Register or Recover and
// is cancelled when the session ends.
func (m *Manager) OnAuthenticated(fn func(ctx context.Context, id types.Identity)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onAuth = append(m.onAuth, fn)
}

// OnTeardown registers fn to run once the session context is cancelled and
// Token reports empty, before the session state is cleared.
func (m *Manager) OnTeardown(fn func()) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onTeardown = append(m.onTeardown, fn)
}

// OnUnauthenticated registers fn to run once the session is cleared.
func (m *Manager) OnUnauthenticated(fn func(reason string)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onUnauthed = append(m.onUnauthed, fn)
}

// Token returns the current bearer token, empty unless a session is
// established and not tearing down.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated {
		return ""
	}
	return m.token
}

// Context returns the context of the current session. It is already
// cancelled when no session is established.
func (m *Manager) Context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateAuthenticated || m.sessionCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return m.sessionCtx
}

// Identity returns the current identity, zero when unauthenticated.
func (m *Manager) Identity() types.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Authenticate logs in with username and password. Failures are raised as
// alerts and returned.
func (m *Manager) Authenticate(ctx context.Context, username, password string) error {
	if m.State() != StateUnauthenticated {
		return ErrAlreadyAuthenticated
	}
	if err := types.ValidateCredentials(username, password); err != nil {
		m.notifier.Alert(m.printer.Sprintf(i18n.AlertLoginFailed, err.Error()))
		return err
	}

	result, err := m.auth.Login(ctx, username, password)
	if err != nil {
		m.logger.Warn("login failed", slog.String("username", username), slog.String("error", err.Error()))
		m.notifier.Alert(i18n.Failure(m.printer, err, i18n.AlertLoginFailed, i18n.AlertLoginError))
		return fmt.Errorf("login: %w", err)
	}
	return m.establish(ctx, result)
}

// Register creates an account and logs it in.
func (m *Manager) Register(ctx context.Context, reg types.Registration) error {
	if m.State() != StateUnauthenticated {
		return ErrAlreadyAuthenticated
	}
	if err := reg.Validate(); err != nil {
		m.notifier.Alert(m.printer.Sprintf(i18n.AlertRegisterFailed, err.Error()))
		return err
	}

	result, err := m.auth.Register(ctx, reg)
	if err != nil {
		m.logger.Warn("registration failed", slog.String("username", reg.Username), slog.String("error", err.Error()))
		m.notifier.Alert(i18n.Failure(m.printer, err, i18n.AlertRegisterFailed, i18n.AlertRegisterError))
		return fmt.Errorf("register: %w", err)
	}
	return m.establish(ctx, result)
}

// Recover restores the token persisted by a previous run. An expired JWT
// is dropped without a network call; anything else is validated against
// the server. It reports whether a session was restored.
func (m *Manager) Recover(ctx context.Context) (bool, error) {
	if m.State() != StateUnauthenticated {
		return false, ErrAlreadyAuthenticated
	}

	token, err := m.store.LoadToken(ctx)
	if errors.Is(err, interfaces.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading stored token: %w", err)
	}

	if m.expired(token) {
		m.logger.Info("stored token expired, discarding")
		m.clearStore(ctx)
		return false, nil
	}

	identity, err := m.auth.CurrentUser(ctx, token)
	if err != nil {
		m.metrics.RecordValidityCheck(metrics.ResultInvalid)
		m.logger.Info("stored token rejected, discarding", slog.String("error", err.Error()))
		m.clearStore(ctx)
		return false, nil
	}
	m.metrics.RecordValidityCheck(metrics.ResultOK)

	if err := m.establish(ctx, &types.AuthResult{Token: token, User: *identity}); err != nil {
		return false, err
	}
	return true, nil
}

// expired peeks at the exp claim without verifying the signature. Tokens
// that are not JWTs are left for the server to judge.
func (m *Manager) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(m.now())
}

func (m *Manager) establish(ctx context.Context, result *types.AuthResult) error {
	if result == nil || result.Token == "" {
		return ErrMissingToken
	}
	identity := result.User
	if identity.IsZero() {
		id, err := m.auth.CurrentUser(ctx, result.Token)
		if err != nil {
			return fmt.Errorf("loading identity: %w", err)
		}
		identity = *id
	}

	m.mu.Lock()
	if m.state != StateUnauthenticated {
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	m.token = result.Token
	m.identity = identity
	m.state = StateAuthenticated
	sessionCtx, cancel := context.WithCancel(ctx)
	m.sessionCtx, m.sessionCancel = sessionCtx, cancel
	m.mu.Unlock()

	if err := m.store.SaveToken(ctx, result.Token); err != nil {
		m.logger.Warn("persisting token failed", slog.String("error", err.Error()))
	}

	m.logger.Info("session established",
		slog.Int64("user_id", identity.ID),
		slog.String("username", identity.Username),
	)

	m.StartValidityChecking(sessionCtx)

	m.hooksMu.RLock()
	hooks := append([]func(context.Context, types.Identity){}, m.onAuth...)
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionCtx, identity)
	}
	return nil
}

// StartValidityChecking runs CheckValidity on every interval until the
// session ends or ctx is cancelled. Calling it again restarts the timer.
func (m *Manager) StartValidityChecking(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	if m.validityCancel != nil {
		m.validityCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	m.validityCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckValidity(ctx)
			}
		}
	}()
}

// CheckValidity asks the server whether the current token is still good.
// Any failure forces a logout. A result for a token that has since been
// replaced or cleared is ignored.
func (m *Manager) CheckValidity(ctx context.Context) bool {
	token := m.Token()
	if token == "" {
		return false
	}

	_, err := m.auth.CurrentUser(ctx, token)
	if ctx.Err() != nil {
		return false
	}
	if m.Token() != token {
		m.logger.Debug("ignoring validity result for a stale token")
		return false
	}
	if err != nil {
		m.metrics.RecordValidityCheck(metrics.ResultInvalid)
		m.logger.Warn("token no longer valid", slog.String("error", err.Error()))
		m.teardown(token, ReasonInvalidToken, false)
		return false
	}
	m.metrics.RecordValidityCheck(metrics.ResultOK)
	return true
}

// Revalidate runs one immediate check, used after the transport failed.
func (m *Manager) Revalidate(ctx context.Context) bool {
	return m.CheckValidity(ctx)
}

// ForceLogout ends the session for reason. It is a no-op when no session
// is active.
func (m *Manager) ForceLogout(reason string) {
	m.teardown("", reason, false)
}

// Logout ends the session at the user's request.
func (m *Manager) Logout() {
	m.teardown("", ReasonUser, false)
}

// Shutdown stops the session for process exit but keeps the persisted
// token so the next run can recover it.
func (m *Manager) Shutdown() {
	m.teardown("", ReasonShutdown, true)
}

// teardown is the single exit path. When expect is set the teardown only
// runs if that token is still current.
func (m *Manager) teardown(expect, reason string, keepToken bool) {
	m.teardownLock.Lock()
	defer m.teardownLock.Unlock()

	m.mu.Lock()
	if m.state != StateAuthenticated || (expect != "" && m.token != expect) {
		m.mu.Unlock()
		return
	}
	m.state = StateTearingDown
	if m.validityCancel != nil {
		m.validityCancel()
		m.validityCancel = nil
	}
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCtx, m.sessionCancel = nil, nil
	}
	m.mu.Unlock()

	m.hooksMu.RLock()
	teardownHooks := append([]func(){}, m.onTeardown...)
	unauthedHooks := append([]func(string){}, m.onUnauthed...)
	m.hooksMu.RUnlock()

	for _, fn := range teardownHooks {
		fn()
	}

	m.mu.Lock()
	m.token = ""
	m.identity = types.Identity{}
	m.state = StateUnauthenticated
	m.mu.Unlock()

	if !keepToken {
		m.clearStore(context.Background())
	}
	m.metrics.RecordLogout(reason)
	m.logger.Info("session ended", slog.String("reason", reason))

	if reason == ReasonShutdown {
		return
	}
	for _, fn := range unauthedHooks {
		fn(reason)
	}
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.ClearToken(ctx); err != nil {
		m.logger.Warn("clearing stored token failed", slog.String("error", err.Error()))
	}
}
