package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "catalog-sync")

	token, err := manager.Generate("user-1", []string{"operator"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := manager.Validate(token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{"operator"}, claims.Roles)
	assert.Equal(t, "catalog-sync", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "catalog-sync")
	other := NewJWTManager("other-secret", time.Hour, "catalog-sync")

	token, err := manager.Generate("user-1", nil)
	require.NoError(t, err)

	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute, "catalog-sync")

	token, err := manager.Generate("user-1", nil)
	require.NoError(t, err)

	_, err = manager.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestHasRole(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour, "catalog-sync")

	claims := &Claims{Roles: []string{"operator"}}
	assert.True(t, manager.HasRole(claims, "operator"))
	assert.False(t, manager.HasRole(claims, "auditor"))

	// администратор проходит любую проверку роли
	admin := &Claims{Roles: []string{"admin"}}
	assert.True(t, manager.HasRole(admin, "auditor"))
}
