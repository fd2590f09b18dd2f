package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Token types carried in the "type" claim so a refresh token can never be
// replayed as an access token.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrMissingSubject       = errors.New("auth: subject claim must be provided")
	ErrUnexpectedTokenType  = errors.New("auth: unexpected token type")
)

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the HS256 token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// TokenPair is the access/refresh pair handed to clients on register,
// login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenIssuer mints and validates the backend's own JWTs.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TokenIssuer{config: cfg, clock: clock}
}

// IssueTokenPair produces a signed access/refresh pair for the user.
func (i *TokenIssuer) IssueTokenPair(userID string) (TokenPair, error) {
	if len(i.config.SigningSecret) == 0 {
		return TokenPair{}, ErrMissingSigningSecret
	}
	if userID == "" {
		return TokenPair{}, ErrMissingSubject
	}

	access, err := i.sign(userID, TokenTypeAccess, i.config.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(userID, TokenTypeRefresh, i.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.config.AccessTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) sign(userID, tokenType string, ttl time.Duration) (string, error) {
	now := i.clock().UTC()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.config.SigningSecret)
}

// ValidateToken checks signature, expiry, issuer and token type, and
// returns the subject user id.
func (i *TokenIssuer) ValidateToken(tokenString, expectedType string) (string, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", ErrMissingSigningSecret
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	if claims.TokenType != expectedType {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedTokenType, expectedType, claims.TokenType)
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
