package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// APICreds are the L2 credentials issued by the CLOB for an address.
type APICreds struct {
	Key        string
	Secret     string // URL-safe or standard base64
	Passphrase string
}

// Empty reports whether no credentials are configured.
func (c APICreds) Empty() bool {
	return c.Key == "" || c.Secret == "" || c.Passphrase == ""
}

// String returns a redacted representation suitable for logging.
func (c APICreds) String() string {
	mask := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("APICreds{key=%s, secret=%s}", mask(c.Key), mask(c.Secret))
}

// L2Headers returns the authenticated request headers for the current time.
func (c APICreds) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt returns the authenticated request headers for a fixed Unix
// timestamp. The signature is base64url(HMAC-SHA256(secret, ts+method+path+body)).
func (c APICreds) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	mac := hmac.New(sha256.New, decodeSecret(c.Secret))
	mac.Write([]byte(ts + method + path + body))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// decodeSecret accepts both base64 alphabets and falls back to the raw bytes
// so a malformed secret yields a rejected signature instead of a panic.
func decodeSecret(secret string) []byte {
	s := strings.TrimSpace(secret)
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.StdEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b
		}
	}
	return []byte(s)
}
