package session_test

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
	sessionmock "github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session/mock"
)

// The signing key is irrelevant to the manager (claims are decoded without
// verification), it only has to produce a structurally valid JWS.
var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func makeToken(t *testing.T, subject, role string, expiry time.Time) string {
	t.Helper()

	return makeTokenWithClaims(t, expiry, map[string]any{
		"sub":  subject,
		"role": role,
		"type": "access",
	})
}

func makeTokenWithClaims(t *testing.T, expiry time.Time, custom map[string]any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: testSigningKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	claims := jwt.Claims{
		Issuer:   "fwh-system",
		IssuedAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		Expiry:   jwt.NewNumericDate(expiry),
	}

	raw, err := jwt.Signed(signer).Claims(claims).Claims(custom).Serialize()
	require.NoError(t, err)

	return raw
}

type testFixture struct {
	repo *sessionmock.Repository
	hub  *sessionmock.Hub
	bus  *sessionmock.Broadcaster
	auth *sessionmock.AuthAPI
}

func newFixture() *testFixture {
	hub := sessionmock.NewHub()

	return &testFixture{
		repo: sessionmock.NewInMemRepository(nil, nil, nil),
		hub:  hub,
		bus:  hub.Endpoint(),
		auth: &sessionmock.AuthAPI{},
	}
}

// newManager builds a manager with a watcher interval long enough to keep
// the background check out of call-count assertions.
func (f *testFixture) newManager(t *testing.T) *session.Manager {
	t.Helper()

	return f.newManagerWithConfig(t, session.Config{CheckInterval: time.Hour})
}

func (f *testFixture) newManagerWithConfig(t *testing.T, cfg session.Config) *session.Manager {
	t.Helper()

	manager, err := session.NewManager(f.repo, f.bus, f.auth, cfg)
	require.NoError(t, err)

	return manager
}

func (f *testFixture) start(t *testing.T) *session.Manager {
	t.Helper()

	manager := f.newManager(t)
	require.NoError(t, manager.Start(t.Context()))
	t.Cleanup(manager.Close)

	return manager
}
