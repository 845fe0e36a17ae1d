package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/pkg/config"
)

// MinSigningSecretLength is the shortest accepted HMAC secret.
const MinSigningSecretLength = 16

var (
	// ErrSigningSecretMissing means the server cannot mint tokens. It is a
	// configuration fault and is never retried.
	ErrSigningSecretMissing = errors.New("token signing secret is not configured")
	ErrInvalidToken         = errors.New("invalid token")
)

// TokenIssuer mints and validates HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer from the JWT config. A bad secret is
// only reported when a token is first requested.
func NewTokenIssuer(cfg config.JWTConfig) *TokenIssuer {
	expiry := time.Duration(cfg.ExpiryHours) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

func (t *TokenIssuer) checkSecret() error {
	if len(t.secret) < MinSigningSecretLength {
		return ErrSigningSecretMissing
	}
	return nil
}

// Issue signs a token for the account.
func (t *TokenIssuer) Issue(account *domain.Account) (string, error) {
	if err := t.checkSecret(); err != nil {
		return "", err
	}

	now := t.now()
	claims := jwt.MapClaims{
		"account_id": account.ID.String(),
		"email":      account.Email,
		"iss":        t.issuer,
		"iat":        now.Unix(),
		"exp":        now.Add(t.expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns the account it was issued for.
func (t *TokenIssuer) Validate(tokenString string) (domain.AccountID, error) {
	if err := t.checkSecret(); err != nil {
		return domain.AccountID{}, err
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return domain.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return domain.AccountID{}, ErrInvalidToken
	}
	accountID, ok := claims["account_id"].(string)
	if !ok || accountID == "" {
		return domain.AccountID{}, ErrInvalidToken
	}
	return domain.AccountIDFromString(accountID), nil
}
