package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "medassist"
	tokenAudience = "medassist-client"
)

// TokenPayload represents the validated payload data.
type TokenPayload struct {
	Sub       string
	Email     string
	Role      Role
	SessionID string
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type tokenClaims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs an access token bound to payload.SessionID.
func GenerateToken(secret string, payload TokenPayload, issuedAt, expiresAt time.Time) (string, error) {
	claims := tokenClaims{
		Email: payload.Email,
		Role:  payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        payload.SessionID,
			Subject:   payload.Sub,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken parses and validates the JWT against now.
func VerifyToken(secret, token string, now func() time.Time) (TokenPayload, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)

	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenPayload{}, ErrTokenExpired
		}
		return TokenPayload{}, ErrTokenInvalid
	}
	if parsed == nil || !parsed.Valid {
		return TokenPayload{}, ErrTokenInvalid
	}

	payload := TokenPayload{
		Sub:       claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.ID,
	}
	if payload.Sub == "" || payload.SessionID == "" || !payload.Role.Valid() {
		return TokenPayload{}, ErrTokenInvalid
	}

	return payload, nil
}
