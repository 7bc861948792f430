// Package token implements the compact signed-token format used for
// bearer authentication: three URL-safe base64 segments (header JSON,
// claims JSON, HMAC-SHA256 digest) joined by periods. Tokens are
// self-contained; revocation happens one layer up via the per-user
// token version counter.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingSecret = errors.New("token: signing secret is empty")
	ErrMalformed     = errors.New("token: malformed token")
	ErrSignature     = errors.New("token: signature mismatch")
	ErrExpired       = errors.New("token: expired")
)

// timeNow is swapped in tests to pin expiry checks to a fixed clock.
var timeNow = time.Now

const (
	algHS256 = "HS256"
	typJWT   = "JWT"
)

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Options carries the reserved-claim inputs for Issue. Zero values
// mean "omit the claim" (TTL <= 0 issues a token without exp).
type Options struct {
	Subject string
	Issuer  string
	TTL     time.Duration
}

// Issue signs a claim map. The reserved claims iat, sub, iss and exp
// are written by Issue itself; caller-supplied claims with the same
// names are overwritten.
func Issue(claims map[string]any, secret []byte, opts Options) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make(map[string]any, len(claims)+4)
	for k, v := range claims {
		payload[k] = v
	}

	iat := timeNow().Unix()
	payload["iat"] = iat
	if opts.Subject != "" {
		payload["sub"] = opts.Subject
	}
	if opts.Issuer != "" {
		payload["iss"] = opts.Issuer
	}
	if opts.TTL > 0 {
		payload["exp"] = iat + int64(opts.TTL/time.Second)
	}

	headerJSON, err := json.Marshal(header{Alg: algHS256, Typ: typJWT})
	if err != nil {
		return "", fmt.Errorf("token: marshal header: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}

	signingInput := encodeSegment(headerJSON) + "." + encodeSegment(payloadJSON)
	sig := sign([]byte(signingInput), secret)

	return signingInput + "." + encodeSegment(sig), nil
}

// Verify checks structure, algorithm, signature and expiry, in that
// order, and returns the claim map on success.
func Verify(tok string, secret []byte) (map[string]any, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformed
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrMalformed
	}
	var h header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, ErrMalformed
	}
	if h.Alg != algHS256 || h.Typ != typJWT {
		return nil, ErrMalformed
	}

	sig, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}
	expected := sign([]byte(parts[0]+"."+parts[1]), secret)
	if !hmac.Equal(sig, expected) {
		return nil, ErrSignature
	}

	claims, err := decodeClaims(parts[1])
	if err != nil {
		return nil, err
	}

	if exp, ok := NumericClaim(claims, "exp"); ok && exp <= timeNow().Unix() {
		return nil, ErrExpired
	}

	return claims, nil
}

// DecodeUnverified returns the claim map without checking the
// signature or expiry. Introspection only, never an access decision.
func DecodeUnverified(tok string) (map[string]any, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil, ErrMalformed
	}
	return decodeClaims(parts[1])
}

// NumericClaim reads an integer-valued claim, tolerating the float64
// that encoding/json produces for JSON numbers.
func NumericClaim(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func decodeClaims(segment string) (map[string]any, error) {
	payloadBytes, err := decodeSegment(segment)
	if err != nil {
		return nil, ErrMalformed
	}
	var claims map[string]any
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, ErrMalformed
	}
	return claims, nil
}

func sign(input, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(input)
	return mac.Sum(nil)
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeSegment accepts both padded and unpadded input by stripping
// any trailing padding before raw decoding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
