// Package receipt signs analysis scores so a later leaderboard submission can
// prove where its numbers came from.
package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "broscore"

// Kind names the analysis a receipt was issued for.
type Kind string

const (
	KindCamera Kind = "camera"
	KindVoice  Kind = "voice"
)

// ErrInvalid is returned for receipts that fail verification.
var ErrInvalid = errors.New("invalid receipt")

// Claims are the signed fields of a receipt. The JWT ID is the analysis ID.
type Claims struct {
	Kind  Kind `json:"kind"`
	Score int  `json:"score"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 receipts.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer for secret. A non-positive ttl means receipts
// never expire.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(strings.TrimSpace(secret)), ttl: ttl, now: time.Now}
}

// Issue signs a receipt for one analysis.
func (s *Signer) Issue(kind Kind, analysisID string, score int) (string, error) {
	now := s.now()
	claims := Claims{
		Kind:  kind,
		Score: score,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			ID:       analysisID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify parses token and checks that it was issued for kind.
func (s *Signer) Verify(token string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: issued for %s analysis, not %s", ErrInvalid, claims.Kind, kind)
	}
	return claims, nil
}
