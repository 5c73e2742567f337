package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name          string
		password      string
		shouldFail    bool
		errorContains string
	}{
		{
			name:       "valid strong password",
			password:   "SecureP@ss1234",
			shouldFail: false,
		},
		{
			name:          "too short",
			password:      "Pass@1",
			shouldFail:    true,
			errorContains: "at least 12 characters",
		},
		{
			name:          "missing uppercase",
			password:      "securepass@1234",
			shouldFail:    true,
			errorContains: "uppercase",
		},
		{
			name:          "missing lowercase",
			password:      "SECUREPASS@1234",
			shouldFail:    true,
			errorContains: "lowercase",
		},
		{
			name:          "missing digit",
			password:      "SecurePass@xyzw",
			shouldFail:    true,
			errorContains: "digit",
		},
		{
			name:          "missing special character",
			password:      "SecurePass12345",
			shouldFail:    true,
			errorContains: "special",
		},
		{
			name:          "common password rejected",
			password:      "Postmaster123!",
			shouldFail:    true,
			errorContains: "too common",
		},
		{
			name:          "longer than bcrypt input",
			password:      "Aa1!" + string(make([]byte, 80)),
			shouldFail:    true,
			errorContains: "72 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.password)
			if !tt.shouldFail {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var pve *PasswordValidationError
			assert.True(t, errors.As(err, &pve))
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestPasswordPolicy_RelaxedClasses(t *testing.T) {
	policy := PasswordPolicy{MinLength: 8}

	assert.NoError(t, policy.Validate("lowercaseonly"))
	assert.Error(t, policy.Validate("short"))
}

func TestHasher_HashAndCompare(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := h.Hash("SecureP@ss1234")
	require.NoError(t, err)
	assert.NotEqual(t, "SecureP@ss1234", hash)

	assert.True(t, h.Compare(hash, "SecureP@ss1234"))
	assert.False(t, h.Compare(hash, "WrongP@ss1234"))
	assert.False(t, h.CompareDummy("SecureP@ss1234"))

	_, err = h.Hash("")
	assert.Error(t, err)
}

func TestHasher_MatchesAny(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	first, err := h.Hash("FirstP@ss1234")
	require.NoError(t, err)
	second, err := h.Hash("SecondP@ss1234")
	require.NoError(t, err)

	assert.True(t, h.MatchesAny([]string{first, second}, "SecondP@ss1234"))
	assert.False(t, h.MatchesAny([]string{first, second}, "ThirdP@ss1234"))
	assert.False(t, h.MatchesAny(nil, "FirstP@ss1234"))
}

func TestNewHasher_InvalidCost(t *testing.T) {
	_, err := NewHasher(100)
	assert.Error(t, err)
}

func TestOpaqueToken_HashIsStable(t *testing.T) {
	token, err := GenerateOpaqueToken()
	require.NoError(t, err)

	other, err := GenerateOpaqueToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	assert.Equal(t, HashOpaqueToken(token), HashOpaqueToken(token))
	assert.Len(t, HashOpaqueToken(token), 64)
	assert.True(t, ConstantTimeEqual(HashOpaqueToken(token), HashOpaqueToken(token)))
	assert.False(t, ConstantTimeEqual(HashOpaqueToken(token), HashOpaqueToken(other)))
}
