// internal/auth/service.go
// Access tokens for the chat gateway

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingUser  = errors.New("user id is required")
)

const issuer = "kiekky-chat"

// Validator checks a bearer token and returns its claims.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

// TokenService issues and validates HS256 access tokens.
type TokenService struct {
	secret    string
	accessTTL time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, accessTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &TokenService{secret: secret, accessTTL: accessTTL, now: time.Now}
}

// IssueAccessToken mints a token for userID. username and email are carried
// as display hints only.
func (s *TokenService) IssueAccessToken(userID, username, email string) (string, error) {
	if userID == "" {
		return "", ErrMissingUser
	}
	now := s.now()
	claims := &utils.JWTClaims{
		UserID:   userID,
		Email:    email,
		Username: username,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return utils.GenerateJWT(claims, s.secret)
}

func (s *TokenService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := utils.ValidateJWT(token, s.secret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
