package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("expert-1", "Dr. Rao", "Expert")
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "expert-1", claims.PartyID)
	assert.Equal(t, "Expert", claims.Role)
	assert.Equal(t, "Dr. Rao", claims.Name)
}

func TestVerifyTokenRejectsForeignSecret(t *testing.T) {
	tok, err := NewJWTManager("one", 1).GenerateToken("user-1", "Asha", "User")
	require.NoError(t, err)
	_, err = NewJWTManager("two", 1).VerifyToken(tok)
	assert.Error(t, err, "不同密钥签发的 token 应校验失败")
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", 0)
	tok, err := m.GenerateToken("user-1", "Asha", "User")
	require.NoError(t, err)
	_, err = m.VerifyToken(tok)
	assert.Error(t, err, "过期 token 应被拒绝")
}
