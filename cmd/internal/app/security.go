package app

import (
	"fmt"

	"taskchat/cmd/security/token"
)

// securityErrors enforces the startup security policy. Misconfiguration
// fails fast; there is no silent fallback to an unscreened or unsigned mode.
func (c Config) securityErrors() []error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	// Screening may only be skipped by explicit opt-in, never by omission.
	switch {
	case c.SafetyDisabled && c.SafetyEndpoint != "":
		bad("TASKCHAT_SAFETY_DISABLED cannot be combined with TASKCHAT_SAFETY_ENDPOINT")
	case !c.SafetyDisabled && (c.SafetyEndpoint == "" || c.SafetyKey == ""):
		bad("TASKCHAT_SAFETY_ENDPOINT and TASKCHAT_SAFETY_KEY are required unless TASKCHAT_SAFETY_DISABLED=true")
	}

	// Key lengths are measured in bytes because keys are used as raw bytes.
	if c.StateHMACKey != "" {
		if _, err := token.ParseHMACKey(c.StateHMACKey, token.MinKeyBytes); err != nil {
			bad("%s: %v (min %d bytes)", token.HMACEnvKey, err, token.MinKeyBytes)
		}
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < token.MinKeyBytes {
		bad("TASKCHAT_JWT_SECRET is too short (min %d bytes)", token.MinKeyBytes)
	}
	return errs
}

// StateKey returns the resumption-token signing key, or nil when unset.
func (c Config) StateKey() []byte {
	if c.StateHMACKey == "" {
		return nil
	}
	key, err := token.ParseHMACKey(c.StateHMACKey, token.MinKeyBytes)
	if err != nil {
		return nil
	}
	return key
}
