package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is an expired user token; provider token expiry is ErrProviderTokenExpired.
	ErrExpiredToken = errors.New("token expired")
)

const jwtLeeway = 30 * time.Second

// UserClaims identify the dashboard user on whose behalf connections are
// managed. The host application may carry the id in user_id or in sub.
type UserClaims struct {
	UserID uuid.UUID `json:"user_id"`
	jwt.RegisteredClaims
}

func (c *UserClaims) userID() (uuid.UUID, error) {
	if c.UserID != uuid.Nil {
		return c.UserID, nil
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// GenerateAccessToken mints a user token shaped like the ones the host
// application issues. The service itself only validates; the CLI and tests mint.
func GenerateAccessToken(userID uuid.UUID, config *Config) (string, error) {
	now := time.Now()

	claims := &UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    config.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(config.JWT.AccessTokenDuration) * time.Second)),
		},
	}
	if config.JWT.Audience != "" {
		claims.Audience = jwt.ClaimStrings{config.JWT.Audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.JWT.Secret))
}

// ValidateAccessToken returns the user id of an HS256 token signed with the
// shared secret. Issuer and audience are checked when configured.
func ValidateAccessToken(tokenString string, config *Config) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithIssuedAt(),
	}
	if config.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.JWT.Issuer))
	}
	if config.JWT.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.JWT.Audience))
	}

	var claims UserClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(config.JWT.Secret), nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return uuid.Nil, ErrExpiredToken
	case err != nil:
		return uuid.Nil, ErrInvalidToken
	}

	return claims.userID()
}
