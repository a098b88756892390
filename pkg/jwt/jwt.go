// Package jwt issues and validates the access tokens that carry a principal.
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when user_id is empty.
	ErrEmptyUserID = errors.New("user_id cannot be empty")
	// ErrMissingAgency is returned for restricted tokens without an agency.
	ErrMissingAgency = errors.New("agency_id is required unless the token is unrestricted")
	// ErrEmptySecret is returned when the signing secret is not configured.
	ErrEmptySecret = errors.New("jwt secret is empty")
)

// Claims identify the principal of a request.
type Claims struct {
	UserID       string `json:"uid"`
	AgencyID     string `json:"aid,omitempty"`
	Unrestricted bool   `json:"unrestricted,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig configures a Generator.
type TokenConfig struct {
	Secret              string
	Issuer              string
	AccessTokenDuration time.Duration
}

// Generator signs and verifies HS256 access tokens.
type Generator struct {
	config TokenConfig
	now    func() time.Time
}

// NewGenerator creates a new Generator.
func NewGenerator(config TokenConfig) *Generator {
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	return &Generator{config: config, now: time.Now}
}

// GenerateAccessToken issues a token for the given principal.
func (g *Generator) GenerateAccessToken(userID, agencyID string, unrestricted bool) (string, time.Time, error) {
	return g.GenerateAccessTokenWithTTL(userID, agencyID, unrestricted, g.config.AccessTokenDuration)
}

// GenerateAccessTokenWithTTL is GenerateAccessToken with an explicit lifetime.
// The admin CLI uses it to mint longer lived service tokens.
func (g *Generator) GenerateAccessTokenWithTTL(userID, agencyID string, unrestricted bool, ttl time.Duration) (string, time.Time, error) {
	if g.config.Secret == "" {
		return "", time.Time{}, ErrEmptySecret
	}
	if userID == "" {
		return "", time.Time{}, ErrEmptyUserID
	}
	if agencyID == "" && !unrestricted {
		return "", time.Time{}, ErrMissingAgency
	}

	now := g.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		UserID:       userID,
		AgencyID:     agencyID,
		Unrestricted: unrestricted,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken verifies the signature, expiry and issuer of a token.
func (g *Generator) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	}
	if g.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(g.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.AgencyID == "" && !claims.Unrestricted {
		return nil, ErrMissingAgency
	}
	return claims, nil
}
