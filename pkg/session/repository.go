package session

import "context"

// Broadcast topics. Their stored values are timestamps and carry no data;
// observing a write is the whole signal.
const (
	TopicLogout       = "__logout_broadcast__"
	TopicTokenChanged = "__token_changed__"
)

// TokenRepository persists the token pair between runs and across agents.
// Implementations must treat a missing pair as serviceerr.ErrNotFound.
type TokenRepository interface {
	LoadTokens(ctx context.Context) (TokenPair, error)
	StoreTokens(ctx context.Context, pair TokenPair) error
	ClearTokens(ctx context.Context) error
}

// Broadcaster distributes change markers between agents sharing a token
// repository. Delivery is at-least-once and may be reordered relative to
// local mutations, so handlers must be idempotent. A subscriber never
// receives its own publishes.
type Broadcaster interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string, handler func(ctx context.Context)) error
}

// AuthAPI is the slice of the auth backend the manager depends on.
type AuthAPI interface {
	// Refresh exchanges a refresh token for a new token pair. The backend
	// rotates the refresh token on every call.
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	// Logout invalidates the server-side refresh tokens. Best effort: the
	// manager clears local state regardless of the outcome.
	Logout(ctx context.Context, accessToken string) error
}
