package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-operator-secret"

func TestGenerateAndValidateOperatorToken(t *testing.T) {
	token, err := GenerateOperatorToken("ops-alice", testSecret, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateOperatorToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ops-alice", claims.OperatorID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestGenerateOperatorToken_RequiresOperator(t *testing.T) {
	_, err := GenerateOperatorToken("", testSecret, time.Hour)
	assert.Error(t, err)
}

func TestValidateOperatorToken(t *testing.T) {
	valid, err := GenerateOperatorToken("ops-alice", testSecret, time.Hour)
	require.NoError(t, err)

	expired, err := GenerateOperatorToken("ops-alice", testSecret, -time.Hour)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops-alice",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops-alice",
		Issuer:    operatorIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		secret    string
		wantErrIs error
	}{
		{name: "expired token", token: expired, secret: testSecret, wantErrIs: jwt.ErrTokenExpired},
		{name: "wrong secret", token: valid, secret: "wrong-secret", wantErrIs: jwt.ErrTokenSignatureInvalid},
		{name: "malformed token", token: "not.a.valid.jwt", secret: testSecret, wantErrIs: jwt.ErrTokenMalformed},
		{name: "wrong issuer", token: foreign, secret: testSecret, wantErrIs: jwt.ErrTokenInvalidIssuer},
		{name: "missing scope", token: noScope, secret: testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateOperatorToken(tt.token, tt.secret)
			require.Error(t, err)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}
		})
	}
}

func TestOperatorContext(t *testing.T) {
	_, ok := OperatorFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithOperator(context.Background(), "ops-bob")
	id, ok := OperatorFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ops-bob", id)
}
