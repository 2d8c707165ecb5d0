package session

import "time"

// TokenPair is an access/refresh token pair as issued by the auth backend.
// The access token is a signed JWT, the refresh token is opaque to us and
// only ever sent back to the backend to mint a new pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims are the decoded fields of an access token. The decode is done
// without signature verification: the backend verifies signatures on every
// request, the client only needs the claims for display and for knowing
// when to refresh.
type Claims struct {
	Subject  string    // sub
	Role     string    // role, e.g. "admin" or "user"
	Name     string    // display name, may be empty
	Username string    // username, may be empty
	Type     string    // token type, "access" or "refresh"
	Expiry   time.Time // exp
}

// DisplayName resolves the name to show in a UI, falling back through
// name, username and subject.
func (c Claims) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Username != "":
		return c.Username
	case c.Subject != "":
		return c.Subject
	default:
		return "User"
	}
}

// Snapshot is the current session state as seen by consumers (route guards,
// UI). It carries no credentials besides the expiry of the current token.
type Snapshot struct {
	Authenticated bool
	Initialized   bool
	Role          string
	DisplayName   string
	Subject       string
	Expiry        time.Time
}
