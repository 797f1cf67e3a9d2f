// Package auth verifies bearer credentials for the HTTP surface and the
// realtime handshake. Authorization semantics live in the external identity
// service; this package only checks and decodes tokens, failing closed.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waylink/platform-core/internal/domain"
)

var (
	// ErrMissingToken indicates no token was provided.
	ErrMissingToken = errors.New("missing authorization token")
	// ErrInvalidToken indicates the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidClaims indicates the token claims are invalid.
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims represents the JWT claims. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Plan   string   `json:"plan,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Identity is the result of a successful verification.
type Identity struct {
	UserID string
	Plan   domain.PlanID
	Claims *Claims
}

// Verifier validates an inbound credential, called once per connection
// attempt or request.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// JWTVerifier validates HMAC-signed JWTs.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// Verify implements Verifier. It accepts a raw token or a "Bearer ..."
// header value.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrInvalidClaims
	}

	plan := domain.PlanID(claims.Plan)
	if !plan.Valid() {
		plan = domain.PlanFree
	}

	return &Identity{UserID: claims.Subject, Plan: plan, Claims: claims}, nil
}

// GenerateToken mints a token, used by tests and the demo tooling.
func (v *JWTVerifier) GenerateToken(userID string, plan domain.PlanID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Plan: string(plan),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
