// internal/web/auth.go - access code login and JWT sessions
package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bitaxe-monitor/internal/config"
)

const tokenIssuer = "bitaxe-monitor"

var ErrInvalidCode = errors.New("invalid access code")

type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator exchanges the access code for signed session tokens. Only
// the bcrypt hash of the code is kept in memory.
type Authenticator struct {
	enabled  bool
	codeHash []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) (*Authenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.LoginCode), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash login code: %w", err)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		// Sessions do not survive a restart without a configured secret.
		secret = uuid.NewString() + uuid.NewString()
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Authenticator{
		enabled:  cfg.Enabled,
		codeHash: hash,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// Login checks code and returns a signed token with its expiry.
func (a *Authenticator) Login(code string) (string, time.Time, error) {
	if bcrypt.CompareHashAndPassword(a.codeHash, []byte(code)) != nil {
		return "", time.Time{}, ErrInvalidCode
	}

	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
