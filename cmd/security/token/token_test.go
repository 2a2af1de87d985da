package token

import (
	"errors"
	"strings"
	"testing"
)

func TestHashSHA256Hex_Stable(t *testing.T) {
	t.Parallel()

	a := HashSHA256Hex("127.0.0.1")
	b := HashSHA256Hex("127.0.0.1")
	if a != b || len(a) != 64 {
		t.Fatalf("unstable or wrong length: %q %q", a, b)
	}
	if a == HashSHA256Hex("127.0.0.2") {
		t.Fatalf("different inputs hashed equal")
	}
}

func TestVerifyHMACSHA256Hex(t *testing.T) {
	t.Parallel()

	key := []byte(strings.Repeat("k", MinKeyBytes))
	tag := HashHMACSHA256Hex("payload", key)

	if !VerifyHMACSHA256Hex("payload", tag, key) {
		t.Fatalf("expected valid tag")
	}
	if VerifyHMACSHA256Hex("payload2", tag, key) {
		t.Fatalf("expected tag mismatch for different payload")
	}
	if VerifyHMACSHA256Hex("payload", "zz", key) {
		t.Fatalf("expected non-hex tag to fail")
	}
	other := []byte(strings.Repeat("x", MinKeyBytes))
	if VerifyHMACSHA256Hex("payload", tag, other) {
		t.Fatalf("expected tag mismatch for different key")
	}
}

func TestParseHMACKey(t *testing.T) {
	t.Parallel()

	if _, err := ParseHMACKey("  ", MinKeyBytes); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("err=%v want ErrHMACKeyMissing", err)
	}
	if _, err := ParseHMACKey("short", MinKeyBytes); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("err=%v want ErrHMACKeyTooShort", err)
	}

	key, err := ParseHMACKey(" "+strings.Repeat("a", MinKeyBytes)+" ", MinKeyBytes)
	if err != nil {
		t.Fatalf("ParseHMACKey: %v", err)
	}
	if len(key) != MinKeyBytes {
		t.Fatalf("len=%d want %d", len(key), MinKeyBytes)
	}
}
