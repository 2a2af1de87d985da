// Package token provides the hashing primitives behind taskchat's opaque strings.
//
// Two modes exist:
//   - Unsigned: no key configured. Resumption tokens carry no MAC and callers
//     rely on the entropy of the thread identifier.
//   - Signed: TASKCHAT_STATE_HMAC_KEY is set (>= 32 bytes). Resumption tokens
//     carry an HMAC-SHA256 tag that is verified in constant time.
//
// HashSHA256Hex is also used to derive fixed-width limiter keys from
// client-supplied identities.
package token
