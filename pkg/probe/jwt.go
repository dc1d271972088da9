package probe

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// jwtToken is a decoded, unverified JWT. The signature is kept as text and
// never recomputed.
type jwtToken struct {
	prefix    string
	header    []byte
	payload   []byte
	signature string
}

// parseJWT accepts an optional "Scheme " prefix such as "Bearer ".
func parseJWT(token string) (*jwtToken, error) {
	t := &jwtToken{}
	if scheme, rest, ok := strings.Cut(strings.TrimSpace(token), " "); ok {
		t.prefix = scheme
		token = strings.TrimSpace(rest)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("jwt: want 3 segments, got %d", len(parts))
	}
	var err error
	if t.header, err = decodeSegment(parts[0]); err != nil {
		return nil, fmt.Errorf("jwt header: %w", err)
	}
	if t.payload, err = decodeSegment(parts[1]); err != nil {
		return nil, fmt.Errorf("jwt payload: %w", err)
	}
	if !gjson.ValidBytes(t.payload) || !gjson.ParseBytes(t.payload).IsObject() {
		return nil, fmt.Errorf("jwt payload is not a JSON object")
	}
	t.signature = parts[2]
	return t, nil
}

// decodeSegment tolerates missing padding and the standard alphabet.
func decodeSegment(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

// with returns the token with claim set to value, re-encoded without
// padding and carrying the original signature.
func (t *jwtToken) with(claim, value string, numeric bool) (string, error) {
	path := escapePath(claim)

	var (
		payload []byte
		err     error
	)
	if n, convErr := strconv.ParseInt(value, 10, 64); numeric && convErr == nil {
		payload, err = sjson.SetBytes(t.payload, path, n)
	} else {
		payload, err = sjson.SetBytes(t.payload, path, value)
	}
	if err != nil {
		return "", fmt.Errorf("set claim %q: %w", claim, err)
	}

	token := base64.RawURLEncoding.EncodeToString(t.header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		t.signature
	if t.prefix != "" {
		token = t.prefix + " " + token
	}
	return token, nil
}

// escapePath makes a claim name a literal sjson path.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
