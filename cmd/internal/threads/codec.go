package threads

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"taskchat/cmd/internal/ids"
	"taskchat/cmd/security/token"
)

// tokenPrefix versions the resumption token format.
const tokenPrefix = "ts1."

// Codec converts thread identifiers to and from opaque resumption tokens.
//
// Encode is a pure function of the thread id (and the configured key, if any).
// Decode never fails loudly: anything it cannot verify is reported as "no thread".
type Codec struct {
	key []byte
}

// NewCodec returns a Codec. A nil or empty key produces unsigned tokens.
func NewCodec(key []byte) *Codec {
	return &Codec{key: append([]byte(nil), key...)}
}

// Signed reports whether tokens carry an HMAC tag.
func (c *Codec) Signed() bool { return c != nil && len(c.key) > 0 }

type tokenBody struct {
	V   int    `json:"v"`
	TID string `json:"tid"`
}

// Encode returns the resumption token for threadID.
func (c *Codec) Encode(threadID string) string {
	b, _ := json.Marshal(tokenBody{V: 1, TID: threadID})
	tok := tokenPrefix + base64.RawURLEncoding.EncodeToString(b)
	if c.Signed() {
		tok += "." + token.HashHMACSHA256Hex(tok, c.key)
	}
	return tok
}

// Decode returns the thread id carried by tok. ok is false for malformed,
// tampered, or foreign tokens.
func (c *Codec) Decode(tok string) (threadID string, ok bool) {
	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, tokenPrefix) {
		return "", false
	}

	body := strings.TrimPrefix(tok, tokenPrefix)
	signed, tag, hasTag := strings.Cut(body, ".")
	if c.Signed() {
		if !hasTag || !token.VerifyHMACSHA256Hex(tokenPrefix+signed, tag, c.key) {
			return "", false
		}
	} else if hasTag {
		return "", false
	}

	raw, err := base64.RawURLEncoding.DecodeString(signed)
	if err != nil {
		return "", false
	}
	var tb tokenBody
	if err := json.Unmarshal(raw, &tb); err != nil {
		return "", false
	}
	if tb.V != 1 || !ids.IsThreadID(tb.TID) {
		return "", false
	}
	return tb.TID, true
}
