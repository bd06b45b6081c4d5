package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndVerify(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("a1b2_report.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	require.NoError(t, signer.Verify(token, "a1b2_report.pdf"))
	require.ErrorIs(t, signer.Verify(token, "other.pdf"), ErrTokenInvalid)
	require.ErrorIs(t, signer.Verify("garbage", "a1b2_report.pdf"), ErrTokenInvalid)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	now := time.Now()
	signer.now = func() time.Time { return now }
	token, _, err := signer.Generate("a1b2_report.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.ErrorIs(t, signer.Verify(token, "a1b2_report.pdf"), ErrTokenExpired)
}

func TestSignedURLSignerRequiresSecret(t *testing.T) {
	signer := NewSignedURLSigner("", time.Minute)
	_, _, err := signer.Generate("name")
	require.Error(t, err)
}
