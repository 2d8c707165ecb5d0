package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
	sessionmock "github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session/mock"
)

func TestManager_Start(t *testing.T) {
	t.Run("no stored tokens", func(t *testing.T) {
		f := newFixture()
		manager := f.start(t)

		snapshot := manager.Current()
		assert.True(t, snapshot.Initialized)
		assert.False(t, snapshot.Authenticated)
		assert.Zero(t, f.auth.RefreshCalls())
	})

	t.Run("restores valid session", func(t *testing.T) {
		f := newFixture()
		token := makeTokenWithClaims(t, time.Now().Add(time.Hour), map[string]any{
			"sub": "jchiang", "role": "admin", "name": "Jay Chiang", "type": "access",
		})
		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})

		manager := f.start(t)

		snapshot := manager.Current()
		assert.True(t, snapshot.Initialized)
		assert.True(t, snapshot.Authenticated)
		assert.Equal(t, "admin", snapshot.Role)
		assert.Equal(t, "Jay Chiang", snapshot.DisplayName)
		assert.Zero(t, f.auth.RefreshCalls(), "restoration must not hit the network")
	})

	t.Run("undecodable stored token clears everything", func(t *testing.T) {
		f := newFixture()
		f.repo.Seed(session.TokenPair{AccessToken: "garbage", RefreshToken: "ref-1"})

		manager := f.start(t)

		assert.True(t, manager.Initialized())
		assert.False(t, manager.Current().Authenticated)
		_, stored := f.repo.Stored()
		assert.False(t, stored, "persisted pair must be cleared")
	})

	t.Run("missing refresh token means no session", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: token})

		manager := f.start(t)

		assert.True(t, manager.Initialized())
		assert.False(t, manager.Current().Authenticated)
		assert.Zero(t, f.auth.RefreshCalls())
	})

	// Startup with a long-expired access token and a valid refresh token:
	// exactly one refresh fires, and initialized only reports true after it
	// settled.
	t.Run("expired stored token triggers one refresh", func(t *testing.T) {
		f := newFixture()
		expired := makeToken(t, "jchiang", "user", time.Now().Add(-10*time.Minute))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: expired, RefreshToken: "ref-old"})
		f.auth.NextPair = session.TokenPair{AccessToken: fresh, RefreshToken: "ref-new"}

		manager := f.start(t)

		assert.Equal(t, 1, f.auth.RefreshCalls())
		assert.True(t, manager.Initialized())
		assert.True(t, manager.Current().Authenticated)

		pair, stored := f.repo.Stored()
		require.True(t, stored)
		assert.Equal(t, fresh, pair.AccessToken)
		assert.Equal(t, "ref-new", pair.RefreshToken)
	})

	t.Run("expired stored token with failing refresh stays unauthenticated", func(t *testing.T) {
		f := newFixture()
		expired := makeToken(t, "jchiang", "user", time.Now().Add(-10*time.Minute))
		f.repo.Seed(session.TokenPair{AccessToken: expired, RefreshToken: "ref-old"})
		f.auth.RefreshErr = errors.New("refresh token revoked")

		manager := f.start(t)

		assert.Equal(t, 1, f.auth.RefreshCalls())
		assert.True(t, manager.Initialized())
		assert.False(t, manager.Current().Authenticated)
		_, stored := f.repo.Stored()
		assert.False(t, stored)
	})
}

func TestManager_Login(t *testing.T) {
	t.Run("adopts persists and broadcasts", func(t *testing.T) {
		f := newFixture()
		peer := f.hub.Endpoint()
		var peerSignals int
		var mu sync.Mutex
		require.NoError(t, peer.Subscribe(t.Context(), session.TopicTokenChanged, func(context.Context) {
			mu.Lock()
			peerSignals++
			mu.Unlock()
		}))

		manager := f.start(t)

		token := makeToken(t, "jchiang", "admin", time.Now().Add(time.Hour))
		require.NoError(t, manager.Login(t.Context(), token, "ref-1"))

		snapshot := manager.Current()
		assert.True(t, snapshot.Authenticated)
		assert.Equal(t, "admin", snapshot.Role)

		pair, stored := f.repo.Stored()
		require.True(t, stored)
		assert.Equal(t, token, pair.AccessToken)
		assert.Equal(t, "ref-1", pair.RefreshToken)

		mu.Lock()
		assert.Equal(t, 1, peerSignals)
		mu.Unlock()
	})

	// A token that is already expired must never be adopted; the whole
	// session is cleared instead of being half set.
	t.Run("expired token rejected", func(t *testing.T) {
		f := newFixture()
		valid := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: valid, RefreshToken: "ref-1"})
		manager := f.start(t)
		require.True(t, manager.Current().Authenticated)

		expired := makeToken(t, "jchiang", "user", time.Now().Add(-time.Minute))
		err := manager.Login(t.Context(), expired, "ref-2")
		assert.ErrorIs(t, err, serviceerr.ErrTokenExpired)

		assert.False(t, manager.Current().Authenticated)
		_, stored := f.repo.Stored()
		assert.False(t, stored)
	})

	t.Run("malformed token leaves state untouched", func(t *testing.T) {
		f := newFixture()
		valid := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: valid, RefreshToken: "ref-1"})
		manager := f.start(t)
		before := manager.Current()

		err := manager.Login(t.Context(), "garbage", "ref-2")
		assert.ErrorIs(t, err, serviceerr.ErrTokenMalformed)

		assert.Empty(t, cmp.Diff(before, manager.Current()))
		_, stored := f.repo.Stored()
		assert.True(t, stored, "persisted pair must survive a rejected login")
	})
}

func TestManager_GetValidToken(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		f := newFixture()
		manager := f.newManager(t)

		_, err := manager.GetValidToken(t.Context())
		assert.ErrorIs(t, err, serviceerr.ErrNotInitialized)
	})

	t.Run("fresh token returned directly", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})
		manager := f.start(t)

		got, err := manager.GetValidToken(t.Context())
		require.NoError(t, err)
		assert.Equal(t, token, got)
		assert.Zero(t, f.auth.RefreshCalls())
	})

	t.Run("expiring soon refreshes", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(10*time.Second))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})
		f.auth.NextPair = session.TokenPair{AccessToken: fresh, RefreshToken: "ref-2"}
		manager := f.start(t)

		got, err := manager.GetValidToken(t.Context())
		require.NoError(t, err)
		assert.Equal(t, fresh, got)
		assert.Equal(t, 1, f.auth.RefreshCalls())
	})

	// An early refresh that fails must not fail the caller: the old token
	// is still technically valid.
	t.Run("expiring soon falls back to old token on refresh failure", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(10*time.Second))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})
		f.auth.RefreshErr = errors.New("backend down")
		manager := f.start(t)

		got, err := manager.GetValidToken(t.Context())
		require.NoError(t, err)
		assert.Equal(t, soon, got)
	})

	t.Run("expired token refresh failure clears session then a new attempt follows", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(10*time.Second))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})
		f.auth.RefreshErr = errors.New("refresh token revoked")
		manager := f.start(t)

		// First call falls back to the stale token but clears the session.
		_, err := manager.GetValidToken(t.Context())
		require.NoError(t, err)

		snapshot := manager.Current()
		assert.False(t, snapshot.Authenticated, "failed refresh clears the session")
		_, stored := f.repo.Stored()
		assert.False(t, stored)

		// The next call must attempt anew, not serve a stale token. With
		// the session cleared there is no refresh token left, so it fails
		// fast without another network call.
		_, err = manager.GetValidToken(t.Context())
		assert.ErrorIs(t, err, serviceerr.ErrNoRefreshToken)
		assert.Equal(t, 1, f.auth.RefreshCalls())
	})

	// N concurrent callers inside the expiry window: the refresh endpoint
	// is hit exactly once and every caller observes the same token.
	t.Run("concurrent callers coalesce into one refresh", func(t *testing.T) {
		const callers = 25

		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(5*time.Second))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})

		release := make(chan struct{})
		f.auth.RefreshFunc = func(refreshToken string) (session.TokenPair, error) {
			<-release
			return session.TokenPair{AccessToken: fresh, RefreshToken: "ref-2"}, nil
		}

		manager := f.start(t)

		var wg sync.WaitGroup
		results := make([]string, callers)
		errs := make([]error, callers)
		for i := range callers {
			wg.Go(func() {
				results[i], errs[i] = manager.GetValidToken(t.Context())
			})
		}

		// Let the callers pile up on the in-flight refresh, then settle it.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, 1, f.auth.RefreshCalls(), "refresh endpoint must be hit exactly once")
		for i := range callers {
			require.NoError(t, errs[i])
			assert.Equal(t, fresh, results[i])
		}
	})
}

func TestManager_Logout(t *testing.T) {
	t.Run("clears local and persisted state", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})
		manager := f.start(t)

		require.NoError(t, manager.Logout(t.Context()))

		assert.False(t, manager.Current().Authenticated)
		_, stored := f.repo.Stored()
		assert.False(t, stored)
		assert.Equal(t, 1, f.auth.LogoutCalls())
	})

	t.Run("server-side failure is swallowed", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})
		f.auth.LogoutErr = errors.New("backend down")
		manager := f.start(t)

		require.NoError(t, manager.Logout(t.Context()))
		assert.False(t, manager.Current().Authenticated)
	})

	// A refresh that settles after logout must not re-authenticate the
	// cleared session.
	t.Run("refresh landing after logout is discarded", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(5*time.Second))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})

		release := make(chan struct{})
		f.auth.RefreshFunc = func(refreshToken string) (session.TokenPair, error) {
			<-release
			return session.TokenPair{AccessToken: fresh, RefreshToken: "ref-2"}, nil
		}

		manager := f.start(t)

		got := make(chan error, 1)
		go func() {
			_, err := manager.GetValidToken(t.Context())
			got <- err
		}()

		// Wait until the refresh is in flight, log out, then let the
		// refresh settle.
		require.Eventually(t, func() bool { return f.auth.RefreshCalls() == 1 },
			time.Second, 5*time.Millisecond)
		require.NoError(t, manager.Logout(t.Context()))
		close(release)

		assert.ErrorIs(t, <-got, serviceerr.ErrSessionCleared)
		assert.False(t, manager.Current().Authenticated,
			"settled refresh must not re-authenticate a cleared session")
		_, stored := f.repo.Stored()
		assert.False(t, stored)
	})
}

func TestManager_Broadcasts(t *testing.T) {
	t.Run("login in one agent is adopted by the other without network calls", func(t *testing.T) {
		hub := sessionmock.NewHub()
		repo := sessionmock.NewInMemRepository(nil, nil, nil)

		authA := &sessionmock.AuthAPI{}
		managerA, err := session.NewManager(repo, hub.Endpoint(), authA, session.Config{CheckInterval: time.Hour})
		require.NoError(t, err)
		require.NoError(t, managerA.Start(t.Context()))
		t.Cleanup(managerA.Close)

		authB := &sessionmock.AuthAPI{}
		managerB, err := session.NewManager(repo, hub.Endpoint(), authB, session.Config{CheckInterval: time.Hour})
		require.NoError(t, err)
		require.NoError(t, managerB.Start(t.Context()))
		t.Cleanup(managerB.Close)

		token := makeToken(t, "jchiang", "admin", time.Now().Add(time.Hour))
		require.NoError(t, managerA.Login(t.Context(), token, "ref-a"))

		snapshot := managerB.Current()
		assert.True(t, snapshot.Authenticated)
		assert.Equal(t, "admin", snapshot.Role)

		gotToken, err := managerB.GetValidToken(t.Context())
		require.NoError(t, err)
		assert.Equal(t, token, gotToken)

		assert.Zero(t, authB.RefreshCalls(), "adoption must not hit the network")
		assert.Zero(t, authB.LogoutCalls())
	})

	t.Run("token-changed delivery is idempotent", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		manager := f.start(t)

		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})
		f.bus.Deliver(t.Context(), session.TopicTokenChanged)
		first := manager.Current()

		f.bus.Deliver(t.Context(), session.TopicTokenChanged)
		second := manager.Current()

		assert.Empty(t, cmp.Diff(first, second))
		assert.True(t, second.Authenticated)
		assert.Zero(t, f.auth.RefreshCalls())
	})

	t.Run("logout broadcast clears local state", func(t *testing.T) {
		f := newFixture()
		token := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: token, RefreshToken: "ref-1"})
		manager := f.start(t)
		require.True(t, manager.Current().Authenticated)

		f.bus.Deliver(t.Context(), session.TopicLogout)

		assert.False(t, manager.Current().Authenticated)
		assert.Zero(t, f.auth.LogoutCalls(), "observers must not call the backend again")

		// Idempotent: a second delivery is a no-op.
		f.bus.Deliver(t.Context(), session.TopicLogout)
		assert.False(t, manager.Current().Authenticated)
	})

	t.Run("stale marker with expired stored tokens is ignored", func(t *testing.T) {
		f := newFixture()
		manager := f.start(t)

		expired := makeToken(t, "jchiang", "user", time.Now().Add(-time.Minute))
		f.repo.Seed(session.TokenPair{AccessToken: expired, RefreshToken: "ref-1"})
		f.bus.Deliver(t.Context(), session.TopicTokenChanged)

		assert.False(t, manager.Current().Authenticated)
	})
}

func TestManager_Watcher(t *testing.T) {
	t.Run("proactively refreshes inside the expiry window", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(20*time.Second))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})
		f.auth.NextPair = session.TokenPair{AccessToken: fresh, RefreshToken: "ref-2"}

		manager := f.newManagerWithConfig(t, session.Config{CheckInterval: 20 * time.Millisecond})
		require.NoError(t, manager.Start(t.Context()))
		t.Cleanup(manager.Close)

		require.Eventually(t, func() bool { return f.auth.RefreshCalls() >= 1 },
			time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			got, err := manager.GetValidToken(t.Context())
			return err == nil && got == fresh
		}, time.Second, 10*time.Millisecond)

		assert.Equal(t, 1, f.auth.RefreshCalls(), "watcher must refresh once, not per tick")
	})

	t.Run("stops after close", func(t *testing.T) {
		f := newFixture()
		soon := makeToken(t, "jchiang", "user", time.Now().Add(20*time.Second))
		fresh := makeToken(t, "jchiang", "user", time.Now().Add(time.Hour))
		f.repo.Seed(session.TokenPair{AccessToken: soon, RefreshToken: "ref-1"})
		f.auth.NextPair = session.TokenPair{AccessToken: fresh, RefreshToken: "ref-2"}

		manager := f.newManagerWithConfig(t, session.Config{CheckInterval: 20 * time.Millisecond})
		require.NoError(t, manager.Start(t.Context()))
		manager.Close()

		// The token sits inside the expiry window the whole time; with the
		// watcher torn down, no tick may fire a refresh.
		time.Sleep(120 * time.Millisecond)
		assert.Zero(t, f.auth.RefreshCalls(), "no refresh may fire after close")
	})
}
