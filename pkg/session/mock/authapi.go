package sessionmock

import (
	"context"
	"sync"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
)

// AuthAPI is a scriptable stand-in for the auth backend. RefreshFunc, when
// set, produces the response; otherwise NextPair/RefreshErr are returned.
type AuthAPI struct {
	mu           sync.Mutex
	refreshCalls int
	logoutCalls  int

	RefreshFunc func(refreshToken string) (session.TokenPair, error)
	NextPair    session.TokenPair
	RefreshErr  error
	LogoutErr   error
}

var _ session.AuthAPI = (*AuthAPI)(nil)

func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	a.mu.Lock()
	a.refreshCalls++
	fn := a.RefreshFunc
	pair, err := a.NextPair, a.RefreshErr
	a.mu.Unlock()

	if fn != nil {
		return fn(refreshToken)
	}
	if err != nil {
		return session.TokenPair{}, err
	}

	return pair, nil
}

func (a *AuthAPI) Logout(ctx context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutCalls++

	return a.LogoutErr
}

func (a *AuthAPI) RefreshCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.refreshCalls
}

func (a *AuthAPI) LogoutCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.logoutCalls
}
