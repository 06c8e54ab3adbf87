// Package auth issues and verifies the HS256 tokens that identify an owner.
// Login itself lives elsewhere; this package only maps a token to an owner id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the owner id next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
}

func GenerateToken(ownerID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		OwnerID: ownerID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetOwnerIDFromToken verifies tokenString and returns its owner id.
// Expired tokens yield common.ErrTokenExpired, anything else that fails
// verification yields common.ErrInvalidToken.
func GetOwnerIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.OwnerID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.OwnerID, nil
}
