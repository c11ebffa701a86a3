package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const operatorIssuer = "tablepay-reconciler"

// Claims identify the operator allowed to trigger reconciliation.
type Claims struct {
	OperatorID string
	ExpiresAt  time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

const reconcileScope = "reconcile"

// GenerateOperatorToken signs a bearer credential for the operator with the
// pre-shared secret.
func GenerateOperatorToken(operatorID, secret string, expiry time.Duration) (string, error) {
	if operatorID == "" {
		return "", fmt.Errorf("GenerateOperatorToken: operator id required")
	}

	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			Issuer:    operatorIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope: reconcileScope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateOperatorToken: %w", err)
	}
	return signed, nil
}

func ValidateOperatorToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(operatorIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("ValidateOperatorToken: %w", err)
	}

	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("ValidateOperatorToken: invalid token claims")
	}
	if tc.Subject == "" || tc.Scope != reconcileScope {
		return nil, fmt.Errorf("ValidateOperatorToken: token not issued for reconciliation")
	}

	return &Claims{
		OperatorID: tc.Subject,
		ExpiresAt:  tc.ExpiresAt.Time,
	}, nil
}
