package store

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// URLSigner issues HMAC tokens binding a blob path to an optional expiry.
// A zero TTL produces tokens that never expire.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewURLSigner builds a signer. An empty secret is replaced with a random one,
// which invalidates issued URLs on restart.
func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	if strings.TrimSpace(secret) == "" {
		secret = uuid.New().String()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl}
}

// Sign returns a token for path.
func (s *URLSigner) Sign(path string, now time.Time) string {
	var expires int64
	if s.ttl > 0 {
		expires = now.Add(s.ttl).Unix()
	}
	payload := fmt.Sprintf("%s:%d", path, expires)
	raw := fmt.Sprintf("%s:%s", payload, s.mac(payload))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Verify checks that token was issued for path and has not expired.
func (s *URLSigner) Verify(path, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.Wrap(ErrInvalidToken, "missing token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return errors.Wrap(ErrInvalidToken, "decode token")
	}
	// the path itself may contain ':' so split from the right
	raw := string(decoded)
	sigAt := strings.LastIndex(raw, ":")
	if sigAt < 0 {
		return errors.Wrap(ErrInvalidToken, "invalid token format")
	}
	payload, signature := raw[:sigAt], raw[sigAt+1:]
	expAt := strings.LastIndex(payload, ":")
	if expAt < 0 {
		return errors.Wrap(ErrInvalidToken, "invalid token format")
	}
	if payload[:expAt] != path {
		return errors.Wrap(ErrInvalidToken, "token does not match blob")
	}
	expires, err := strconv.ParseInt(payload[expAt+1:], 10, 64)
	if err != nil {
		return errors.Wrap(ErrInvalidToken, "invalid token expiration")
	}
	if expires > 0 && now.Unix() > expires {
		return errors.Wrap(ErrInvalidToken, "token expired")
	}
	expected, _ := hex.DecodeString(s.mac(payload))
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.Wrap(ErrInvalidToken, "invalid token signature")
	}
	if !hmac.Equal(expected, provided) {
		return errors.Wrap(ErrInvalidToken, "signature mismatch")
	}
	return nil
}

func (s *URLSigner) mac(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
