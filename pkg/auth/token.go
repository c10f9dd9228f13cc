package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medvault/dlt-phr/pkg/types"
)

// Claims are the JWT claims the identity collaborator issues. The principal
// kind arrives pre-resolved; this service never parses credentials itself.
type Claims struct {
	PrincipalID   string `json:"principal_id"`
	PrincipalKind string `json:"principal_kind"`
	jwt.RegisteredClaims
}

// TokenValidator validates bearer tokens from the identity collaborator
type TokenValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenValidator creates a new token validator
func NewTokenValidator(secret, issuer, audience string) *TokenValidator {
	return &TokenValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Validate parses and validates a JWT, returning the caller principal
func (tv *TokenValidator) Validate(tokenString string) (types.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tv.secret, nil
		},
		jwt.WithIssuer(tv.issuer),
		jwt.WithAudience(tv.audience),
	)
	if err != nil {
		return types.Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return types.Principal{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return types.Principal{}, fmt.Errorf("invalid token claims")
	}

	var kind types.PrincipalKind
	switch claims.PrincipalKind {
	case string(types.PrincipalOwner):
		kind = types.PrincipalOwner
	case string(types.PrincipalDelegate):
		kind = types.PrincipalDelegate
	default:
		return types.Principal{}, fmt.Errorf("unknown principal kind: %s", claims.PrincipalKind)
	}

	if claims.PrincipalID == "" {
		return types.Principal{}, fmt.Errorf("missing principal id")
	}

	return types.Principal{Kind: kind, ID: claims.PrincipalID}, nil
}
