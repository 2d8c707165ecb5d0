// Package session owns the client-side access/refresh token lifecycle for
// the FWH production dashboard backend: restoring tokens at startup,
// proactively refreshing before expiry, collapsing concurrent refreshes
// into a single in-flight call and reconciling the session across agents
// through broadcast markers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
)

const (
	defaultRefreshWindow  = 30 * time.Second
	defaultCheckInterval  = 10 * time.Second
	defaultClaimsCacheTTL = time.Minute
)

// Config tunes the manager. Zero values fall back to the defaults above.
type Config struct {
	// RefreshWindow is how long before expiry a token counts as expiring
	// and a proactive refresh is started.
	RefreshWindow time.Duration
	// CheckInterval is the cadence of the background expiry watcher.
	CheckInterval time.Duration
	// ClaimsCacheTTL bounds the decoded-claims memoization.
	ClaimsCacheTTL time.Duration
}

// Manager is the single token authority of a running agent. All outbound
// requests obtain their bearer token through GetValidToken; UI state comes
// from Current. A Manager is inert until Start and must be released with
// Close.
//
// Every failure mode (malformed token, expired on arrival, missing or
// rejected refresh token) funnels into a full session clear. The session is
// never left half set.
type Manager struct {
	repo    TokenRepository
	bus     Broadcaster
	auth    AuthAPI
	decoder *ClaimsDecoder
	meters  *meters

	refreshWindow time.Duration
	checkInterval time.Duration
	now           func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	claims       Claims
	initialized  bool
	// generation is bumped on every clear and every adoption; a refresh
	// outcome settling under an older generation is never adopted. This is
	// what keeps a logout during an in-flight refresh final.
	generation uint64
	inflight   *refreshCall

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// refreshCall is the memoized outcome of a single refresh attempt. Its
// presence on the manager is both the mutex and the result channel: as long
// as it is set, no second refresh starts and every caller waits on the same
// settlement.
type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

func (c *refreshCall) wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return c.token, c.err
	}
}

func NewManager(repo TokenRepository, bus Broadcaster, auth AuthAPI, cfg Config) (*Manager, error) {
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = defaultRefreshWindow
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.ClaimsCacheTTL <= 0 {
		cfg.ClaimsCacheTTL = defaultClaimsCacheTTL
	}

	meters, err := newMeters()
	if err != nil {
		return nil, err
	}

	return &Manager{
		repo:          repo,
		bus:           bus,
		auth:          auth,
		decoder:       NewClaimsDecoder(cfg.ClaimsCacheTTL),
		meters:        meters,
		refreshWindow: cfg.RefreshWindow,
		checkInterval: cfg.CheckInterval,
		now:           time.Now,
	}, nil
}

// Start restores the persisted session, subscribes to the broadcast topics
// and launches the expiry watcher. Consumers must not make auth decisions
// before Start returns; once it does, Initialized reports true.
func (m *Manager) Start(ctx context.Context) error {
	m.restore(ctx)

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	if err := m.bus.Subscribe(runCtx, TopicLogout, m.onLogoutBroadcast); err != nil {
		cancel()
		return errors.Join(errors.New("subscribing to logout broadcasts"), err)
	}
	if err := m.bus.Subscribe(runCtx, TopicTokenChanged, m.onTokenChanged); err != nil {
		cancel()
		return errors.Join(errors.New("subscribing to token-changed broadcasts"), err)
	}

	m.wg.Go(func() {
		m.watch(runCtx)
	})

	return nil
}

// Close stops the watcher and the broadcast subscriptions. An in-flight
// refresh is not cancelled; its waiters observe its eventual settlement.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// restore implements the startup transition: adopt a stored, still valid
// pair; refresh once when the stored access token already expired; treat
// everything else as no session.
func (m *Manager) restore(ctx context.Context) {
	pair, err := m.repo.LoadTokens(ctx)
	if err != nil {
		if !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Warn(ctx, "Could not load persisted tokens", "error", err)
		}
		return
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return
	}

	claims, err := m.decoder.Decode(pair.AccessToken)
	if err != nil {
		slogctx.Warn(ctx, "Persisted access token does not decode, clearing session", "error", err)
		m.clearAll(ctx)
		return
	}

	m.mu.Lock()
	if m.now().Before(claims.Expiry) {
		m.adoptLocked(pair, claims)
		m.mu.Unlock()
		slogctx.Info(ctx, "Restored persisted session", "subject", claims.Subject)
		return
	}

	// Expired in storage: one refresh attempt before giving up.
	m.refreshToken = pair.RefreshToken
	call := m.startRefreshLocked(ctx)
	m.mu.Unlock()

	if _, err := call.wait(ctx); err != nil {
		slogctx.Info(ctx, "Persisted session expired and could not be refreshed", "error", err)
	}
}

// Login adopts a freshly issued token pair. A pair whose access token does
// not decode leaves the session untouched; a pair that is already expired
// clears it. Only a valid adoption is persisted and broadcast.
func (m *Manager) Login(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := m.decoder.Decode(accessToken)
	if err != nil {
		slogctx.Warn(ctx, "Rejecting login with undecodable access token", "error", err)
		return err
	}
	if !m.now().Before(claims.Expiry) {
		slogctx.Warn(ctx, "Rejecting login with expired access token", "expiry", claims.Expiry)
		m.clearAll(ctx)
		return serviceerr.ErrTokenExpired
	}

	pair := TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}

	m.mu.Lock()
	m.adoptLocked(pair, claims)
	m.mu.Unlock()

	if err := m.repo.StoreTokens(ctx, pair); err != nil {
		slogctx.Error(ctx, "Could not persist tokens", "error", err)
	}
	if err := m.bus.Publish(ctx, TopicTokenChanged); err != nil {
		slogctx.Warn(ctx, "Could not broadcast token change", "error", err)
	}

	slogctx.Info(ctx, "Logged in", "subject", claims.Subject, "role", claims.Role)

	return nil
}

// Logout notifies the backend best effort, then unconditionally clears the
// local and persisted session and broadcasts the logout marker.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	accessToken := m.accessToken
	m.mu.Unlock()

	if accessToken != "" {
		if err := m.auth.Logout(ctx, accessToken); err != nil {
			slogctx.Warn(ctx, "Server-side logout failed, clearing local session anyway", "error", err)
		}
	}

	m.clearAll(ctx)

	if err := m.bus.Publish(ctx, TopicLogout); err != nil {
		slogctx.Warn(ctx, "Could not broadcast logout", "error", err)
	}

	slogctx.Info(ctx, "Logged out")

	return nil
}

// GetValidToken returns an access token that is expected to be accepted by
// the backend, refreshing first when the current one is missing, expired or
// about to expire. Concurrent callers during a refresh all observe the
// outcome of that single refresh; the refresh endpoint is hit exactly once.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()
		return "", serviceerr.ErrNotInitialized
	}

	if call := m.inflight; call != nil {
		m.mu.Unlock()
		m.meters.coalesced.Add(ctx, 1)
		return call.wait(ctx)
	}

	now := m.now()
	switch {
	case m.accessToken == "" || !now.Before(m.claims.Expiry):
		call := m.startRefreshLocked(ctx)
		m.mu.Unlock()
		return call.wait(ctx)

	case !now.Before(m.claims.Expiry.Add(-m.refreshWindow)):
		// Expiring soon. Refresh now, but the old token is still valid, so
		// a failed early refresh must not fail the caller's request.
		stale := m.accessToken
		call := m.startRefreshLocked(ctx)
		m.mu.Unlock()
		token, err := call.wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, serviceerr.ErrSessionCleared) {
				return "", err
			}
			slogctx.Warn(ctx, "Early refresh failed, serving still-valid token", "error", err)
			return stale, nil
		}
		return token, nil

	default:
		token := m.accessToken
		m.mu.Unlock()
		return token, nil
	}
}

// Current returns a snapshot of the session for UI and route guards.
func (m *Manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Snapshot{
		Authenticated: m.accessToken != "",
		Initialized:   m.initialized,
	}
	if snapshot.Authenticated {
		snapshot.Role = m.claims.Role
		snapshot.DisplayName = m.claims.DisplayName()
		snapshot.Subject = m.claims.Subject
		snapshot.Expiry = m.claims.Expiry
	}

	return snapshot
}

// Initialized reports whether the startup restoration has settled.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initialized
}

// startRefreshLocked installs the in-flight handle and launches the actual
// refresh. The caller must hold m.mu and must not already have an inflight
// call. The refresh runs detached from the triggering caller's context so
// that one cancelled waiter cannot kill the shared attempt.
func (m *Manager) startRefreshLocked(ctx context.Context) *refreshCall {
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call

	generation := m.generation
	refreshToken := m.refreshToken

	m.wg.Go(func() {
		m.runRefresh(context.WithoutCancel(ctx), call, generation, refreshToken)
	})

	return call
}

func (m *Manager) runRefresh(ctx context.Context, call *refreshCall, generation uint64, refreshToken string) {
	defer close(call.done)

	if refreshToken == "" {
		m.settleFailure(ctx, call, generation, serviceerr.ErrNoRefreshToken)
		return
	}

	pair, err := m.auth.Refresh(ctx, refreshToken)
	var claims Claims
	if err == nil {
		claims, err = m.decoder.Decode(pair.AccessToken)
	}
	if err == nil && !m.now().Before(claims.Expiry) {
		err = serviceerr.ErrTokenExpired
	}
	if err != nil {
		m.settleFailure(ctx, call, generation, errors.Join(serviceerr.ErrRefreshRejected, err))
		return
	}

	m.mu.Lock()
	if m.inflight == call {
		m.inflight = nil
	}
	if m.generation != generation {
		// The session changed while the refresh was outstanding (logout or
		// an adoption from another agent). The cleared or newer state wins.
		if m.accessToken != "" {
			call.token = m.accessToken
		} else {
			call.err = serviceerr.ErrSessionCleared
		}
		m.mu.Unlock()
		return
	}
	m.adoptLocked(pair, claims)
	m.mu.Unlock()

	if err := m.repo.StoreTokens(ctx, pair); err != nil {
		slogctx.Error(ctx, "Could not persist refreshed tokens", "error", err)
	}
	if err := m.bus.Publish(ctx, TopicTokenChanged); err != nil {
		slogctx.Warn(ctx, "Could not broadcast token change", "error", err)
	}

	m.meters.refreshes.Add(ctx, 1, outcomeAttrs(outcomeSuccess))
	slogctx.Info(ctx, "Refreshed access token", "expiry", claims.Expiry)

	call.token = pair.AccessToken
}

func (m *Manager) settleFailure(ctx context.Context, call *refreshCall, generation uint64, err error) {
	m.mu.Lock()
	if m.inflight == call {
		m.inflight = nil
	}
	current := m.generation == generation
	if current {
		m.clearLocked()
	}
	m.mu.Unlock()

	if current {
		if cerr := m.repo.ClearTokens(ctx); cerr != nil {
			slogctx.Error(ctx, "Could not clear persisted tokens", "error", cerr)
		}
	}

	m.meters.refreshes.Add(ctx, 1, outcomeAttrs(outcomeFailure))
	slogctx.Warn(ctx, "Token refresh failed, session cleared", "error", err)

	call.err = err
}

// watch is the periodic expiry check: while authenticated and not already
// refreshing, start a refresh once the token enters the expiring window.
func (m *Manager) watch(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.inflight == nil && m.accessToken != "" &&
				!m.now().Before(m.claims.Expiry.Add(-m.refreshWindow)) {
				m.startRefreshLocked(ctx)
			}
			m.mu.Unlock()
		}
	}
}

// onLogoutBroadcast reacts to another agent's logout marker: drop the local
// session without re-publishing. The originating agent already cleared the
// store. Clearing an already empty session is a no-op.
func (m *Manager) onLogoutBroadcast(ctx context.Context) {
	m.mu.Lock()
	hadSession := m.accessToken != "" || m.refreshToken != ""
	m.clearLocked()
	m.mu.Unlock()

	if hadSession {
		slogctx.Info(ctx, "Session cleared by logout broadcast")
	}
}

// onTokenChanged reconciles the local session with the store after another
// agent rotated the tokens. Adoption is idempotent and never re-broadcast,
// so marker echoes between agents cannot loop.
func (m *Manager) onTokenChanged(ctx context.Context) {
	pair, err := m.repo.LoadTokens(ctx)
	if err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		return
	}

	claims, err := m.decoder.Decode(pair.AccessToken)
	if err != nil || !m.now().Before(claims.Expiry) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pair.AccessToken == m.accessToken && pair.RefreshToken == m.refreshToken {
		return
	}

	m.adoptLocked(pair, claims)
	slogctx.Info(ctx, "Adopted tokens from broadcast", "subject", claims.Subject)
}

func (m *Manager) adoptLocked(pair TokenPair, claims Claims) {
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.claims = claims
	m.generation++
}

func (m *Manager) clearLocked() {
	m.accessToken = ""
	m.refreshToken = ""
	m.claims = Claims{}
	m.generation++
}

func (m *Manager) clearAll(ctx context.Context) {
	m.mu.Lock()
	m.clearLocked()
	m.mu.Unlock()

	if err := m.repo.ClearTokens(ctx); err != nil {
		slogctx.Error(ctx, "Could not clear persisted tokens", "error", err)
	}
}
