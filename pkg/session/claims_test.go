package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
)

func TestClaimsDecoder_Decode(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	decoder := session.NewClaimsDecoder(time.Minute)

	t.Run("full claims", func(t *testing.T) {
		raw := makeTokenWithClaims(t, expiry, map[string]any{
			"sub":      "jchiang",
			"role":     "admin",
			"name":     "Jay Chiang",
			"username": "jchiang",
			"type":     "access",
		})

		claims, err := decoder.Decode(raw)
		require.NoError(t, err)

		assert.Equal(t, "jchiang", claims.Subject)
		assert.Equal(t, "admin", claims.Role)
		assert.Equal(t, "Jay Chiang", claims.Name)
		assert.Equal(t, "access", claims.Type)
		assert.True(t, claims.Expiry.Equal(expiry), "expiry %s != %s", claims.Expiry, expiry)
	})

	t.Run("expired token still decodes", func(t *testing.T) {
		// Expiry policy is the manager's, not the decoder's: the startup
		// flow needs the claims of an expired token to decide to refresh.
		raw := makeToken(t, "jchiang", "user", time.Now().Add(-time.Hour))

		claims, err := decoder.Decode(raw)
		require.NoError(t, err)
		assert.True(t, claims.Expiry.Before(time.Now()))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := decoder.Decode("not-a-token")
		assert.ErrorIs(t, err, serviceerr.ErrTokenMalformed)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := decoder.Decode("")
		assert.ErrorIs(t, err, serviceerr.ErrTokenMalformed)
	})

	t.Run("memoized decode is stable", func(t *testing.T) {
		raw := makeToken(t, "jchiang", "user", expiry)

		first, err := decoder.Decode(raw)
		require.NoError(t, err)
		second, err := decoder.Decode(raw)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestClaims_DisplayName(t *testing.T) {
	tests := []struct {
		name   string
		claims session.Claims
		want   string
	}{
		{
			name:   "name wins",
			claims: session.Claims{Name: "Jay Chiang", Username: "jchiang", Subject: "u-1"},
			want:   "Jay Chiang",
		},
		{
			name:   "username second",
			claims: session.Claims{Username: "jchiang", Subject: "u-1"},
			want:   "jchiang",
		},
		{
			name:   "subject third",
			claims: session.Claims{Subject: "u-1"},
			want:   "u-1",
		},
		{
			name:   "generic fallback",
			claims: session.Claims{},
			want:   "User",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.DisplayName())
		})
	}
}
