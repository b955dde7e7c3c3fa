package key_test

import (
	"strings"
	"testing"
	"time"

	"github.com/evntfy/evntfy/domain/key"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGenerate_Shape(t *testing.T) {
	raw, rec := key.Generate("688b82ca87cb6c572cd9df0d", 1000, now)

	if !strings.HasPrefix(raw, "evntfy_688b_") {
		t.Errorf("raw key = %q, want evntfy_688b_ prefix", raw)
	}
	if !key.ValidateFormat(raw) {
		t.Errorf("generated key %q fails format check", raw)
	}
	if rec.OwnerID != "688b82ca87cb6c572cd9df0d" {
		t.Errorf("ownerId = %q", rec.OwnerID)
	}
	if rec.UsageLimit != 1000 || rec.UsageCount != 0 {
		t.Errorf("usage = %d/%d, want 0/1000", rec.UsageCount, rec.UsageLimit)
	}
	if !rec.Active {
		t.Error("new key must be active")
	}
	if rec.Lookup != raw[:20] {
		t.Errorf("lookup = %q, want %q", rec.Lookup, raw[:20])
	}
}

func TestGenerate_LookupsDistinctForSameOwner(t *testing.T) {
	rawA, recA := key.Generate("owner_1", 100, now)
	rawB, recB := key.Generate("owner_1", 100, now)

	if recA.Lookup == recB.Lookup {
		t.Fatalf("two keys for one owner share lookup %q", recA.Lookup)
	}
	if key.LookupPrefix(rawA) != recA.Lookup || key.LookupPrefix(rawB) != recB.Lookup {
		t.Error("lookup prefix of the raw key must match its own record")
	}
}

func TestGenerate_MatchesOwnHash(t *testing.T) {
	raw, rec := key.Generate("owner", 10, now)

	if !key.Match(rec, raw) {
		t.Error("raw key must match its own record")
	}
	if key.Match(rec, raw+"x") {
		t.Error("tampered key must not match")
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"no prefix", "sk_abc", false},
		{"missing hint separator", "evntfy_" + strings.Repeat("a", 48), false},
		{"short random part", "evntfy_user_abc", false},
		{"valid", "evntfy_user_" + strings.Repeat("a", 48), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := key.ValidateFormat(tt.in); got != tt.want {
				t.Errorf("ValidateFormat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := key.UsageRecord{Key: "key_1", OwnerID: "o1", UsageLimit: 5, Active: true}

	if res := key.Validate(base); !res.Valid {
		t.Errorf("active under-limit key rejected: %s", res.Reason)
	}

	inactive := base
	inactive.Active = false
	if res := key.Validate(inactive); res.Valid || res.Reason != key.ReasonDeactivated {
		t.Errorf("inactive key: valid=%v reason=%q", res.Valid, res.Reason)
	}

	exhausted := base
	exhausted.UsageCount = 5
	if res := key.Validate(exhausted); res.Valid || res.Reason != key.ReasonExhausted {
		t.Errorf("exhausted key: valid=%v reason=%q", res.Valid, res.Reason)
	}
}
