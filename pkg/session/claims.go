package session

import (
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	gocache "github.com/patrickmn/go-cache"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
)

// allowedAlgorithms are the signature algorithms the backend is known to
// issue. The signature itself is never verified here, but go-jose still
// requires the header algorithm to be on an allow list.
var allowedAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.RS256, jose.ES256}

// ClaimsDecoder decodes access token claims without verifying the
// signature. Verification happens server-side on every request; the decoded
// claims are only used for display and expiry scheduling and must never
// gate authorization.
//
// Decoded claims are memoized per raw token string because GetValidToken
// runs on every outbound request.
type ClaimsDecoder struct {
	cache *gocache.Cache
}

func NewClaimsDecoder(ttl time.Duration) *ClaimsDecoder {
	return &ClaimsDecoder{
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (d *ClaimsDecoder) Decode(raw string) (Claims, error) {
	if cached, ok := d.cache.Get(raw); ok {
		return cached.(Claims), nil
	}

	token, err := jwt.ParseSigned(raw, allowedAlgorithms)
	if err != nil {
		return Claims{}, errors.Join(serviceerr.ErrTokenMalformed, err)
	}

	var standard jwt.Claims
	var custom struct {
		Role     string `json:"role"`
		Name     string `json:"name"`
		Username string `json:"username"`
		Type     string `json:"type"`
	}
	if err := token.UnsafeClaimsWithoutVerification(&standard, &custom); err != nil {
		return Claims{}, errors.Join(serviceerr.ErrTokenMalformed, err)
	}

	claims := Claims{
		Subject:  standard.Subject,
		Role:     custom.Role,
		Name:     custom.Name,
		Username: custom.Username,
		Type:     custom.Type,
	}
	if standard.Expiry != nil {
		claims.Expiry = standard.Expiry.Time()
	}

	d.cache.Set(raw, claims, gocache.DefaultExpiration)

	return claims, nil
}
