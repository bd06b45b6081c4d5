package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid is returned when a serve token is malformed or forged.
	ErrTokenInvalid = errors.New("invalid serve token")
	// ErrTokenExpired is returned when a serve token is past its expiry.
	ErrTokenExpired = errors.New("serve token expired")
)

// SignedURLSigner creates and validates short lived tokens for serving local objects.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token bound to the object name.
func (s *SignedURLSigner) Generate(name string) (string, time.Time, error) {
	if name == "" {
		return "", time.Time{}, fmt.Errorf("object name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	return ts + "." + s.sign(name, ts), expiresAt, nil
}

// Verify checks the token against the object name.
func (s *SignedURLSigner) Verify(token, name string) error {
	ts, signature, ok := strings.Cut(token, ".")
	if !ok || ts == "" || signature == "" {
		return ErrTokenInvalid
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}
	if !hmac.Equal([]byte(s.sign(name, ts)), []byte(signature)) {
		return ErrTokenInvalid
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return ErrTokenExpired
	}
	return nil
}

func (s *SignedURLSigner) sign(name, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(name + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
