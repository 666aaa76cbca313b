package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, secret string, mutate func(*Claims)) string {
	t.Helper()

	claims := &Claims{
		UserID: "user-7",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "stratlab",
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if mutate != nil {
		mutate(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify(t *testing.T) {
	v := NewJWTVerifier(testSecret, "stratlab")

	claims, err := v.Verify(mintToken(t, testSecret, nil))
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
}

func TestVerify_UserIDFallsBackToSubject(t *testing.T) {
	v := NewJWTVerifier(testSecret, "stratlab")

	token := mintToken(t, testSecret, func(c *Claims) { c.UserID = "" })
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
}

func TestVerify_Rejections(t *testing.T) {
	v := NewJWTVerifier(testSecret, "stratlab")

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not.a.jwt",
		},
		{
			name:  "wrong secret",
			token: mintToken(t, "other-secret", nil),
		},
		{
			name: "expired",
			token: mintToken(t, testSecret, func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
			}),
		},
		{
			name: "missing expiry",
			token: mintToken(t, testSecret, func(c *Claims) {
				c.ExpiresAt = nil
			}),
		},
		{
			name: "wrong issuer",
			token: mintToken(t, testSecret, func(c *Claims) {
				c.Issuer = "someone-else"
			}),
		},
		{
			name: "no identity at all",
			token: mintToken(t, testSecret, func(c *Claims) {
				c.UserID = ""
				c.Subject = ""
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	// alg=none with an empty signature must never pass.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "user-7",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "stratlab",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret, "stratlab")
	_, err = v.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_IssuerOptional(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")

	token := mintToken(t, testSecret, func(c *Claims) { c.Issuer = "anything" })
	_, err := v.Verify(token)
	require.NoError(t, err)
}
