package user

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "user@example.com"},
		{"USER@EXAMPLE.COM", "user@example.com"},
		{"  User@Example.Com  ", "user@example.com"},
		{"\tuser@example.com\n", "user@example.com"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmail(tt.in), "input %q", tt.in)
	}
}

func TestConfirmed(t *testing.T) {
	u := &User{}
	assert.False(t, u.Confirmed())

	now := time.Now()
	u.EmailConfirmedAt = &now
	assert.True(t, u.Confirmed())
}

func TestUserJSONHidesSensitiveFields(t *testing.T) {
	now := time.Now()
	u := &User{
		Email:            "user@example.com",
		PasswordHash:     "$argon2id$...",
		EmailConfirmedAt: &now,
	}

	data, err := json.Marshal(u)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "argon2id")
	assert.NotContains(t, string(data), "PasswordHash")
}
