package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	j := NewJWT("test-secret", time.Hour)

	token, err := j.Issue(Identity{UserID: "u1", Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := j.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "alice@example.com", id.Email)
}

func TestVerifyRejects(t *testing.T) {
	j := NewJWT("test-secret", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Verify(tt.token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	j := NewJWT("test-secret", -time.Minute)

	token, err := j.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = j.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewJWT("secret-a", time.Hour).Issue(Identity{UserID: "u1"})
	require.NoError(t, err)

	_, err = NewJWT("secret-b", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
