package key

import "strings"

// Reasons for validation failure.
const (
	ReasonValid       = ""
	ReasonNotFound    = "key_not_found"
	ReasonDeactivated = "key_deactivated"
	ReasonExhausted   = "usage_limit_reached"
	ReasonBadFormat   = "invalid_format"
)

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Record UsageRecord // Populated only if Valid=true
	Reason string      // Populated only if Valid=false
}

// lookupLen is how many leading characters of a raw key are stored in
// plaintext for store lookup. The `evntfy_<hint>_` preamble takes at most
// 12 characters, so the lookup always carries at least 8 random hex chars
// and two keys never share one.
const lookupLen = 20

// LookupPrefix returns the leading characters of a raw key used for
// store lookup. This is a PURE function.
func LookupPrefix(rawKey string) string {
	if len(rawKey) < lookupLen {
		return rawKey
	}
	return rawKey[:lookupLen]
}

// ValidateFormat checks whether a raw key has the expected shape before any
// store round trip. This is a PURE function.
func ValidateFormat(rawKey string) bool {
	if !strings.HasPrefix(rawKey, Prefix) {
		return false
	}
	// prefix + owner hint + "_" + 48 hex chars
	rest := strings.TrimPrefix(rawKey, Prefix)
	i := strings.IndexByte(rest, '_')
	if i < 0 {
		return false
	}
	return len(rest)-i-1 == 48
}

// Validate checks a stored record against admission preconditions.
// This is a PURE function - the live quota decision belongs to the meter.
func Validate(r UsageRecord) ValidationResult {
	if !r.Active {
		return ValidationResult{Valid: false, Reason: ReasonDeactivated}
	}
	if r.Exhausted() {
		return ValidationResult{Valid: false, Reason: ReasonExhausted}
	}
	return ValidationResult{Valid: true, Record: r}
}
