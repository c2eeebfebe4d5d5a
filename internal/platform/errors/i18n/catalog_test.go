package i18n

import (
	"strings"
	"testing"
)

func TestGetCatalogFallback(t *testing.T) {
	base := GetCatalog("en-US")
	if base == nil {
		t.Fatal("expected base catalog")
	}
	if got := GetCatalog("missing-locale"); got != base {
		t.Fatal("expected fallback to en-US catalog")
	}
	if got := GetCatalog(""); got != base {
		t.Fatal("expected empty locale to use en-US catalog")
	}
}

func TestGetCatalogMatchesRegionlessLocale(t *testing.T) {
	if got := GetCatalog("pt").Locale(); got != "pt-BR" {
		t.Fatalf("locale = %q, want %q", got, "pt-BR")
	}
}

func TestFormatRendersMetadata(t *testing.T) {
	got := GetCatalog("en-US").Format("INSUFFICIENT_FUNDS", map[string]string{
		"Item": "firewall", "Cost": "400", "Available": "300",
	})
	want := "Not enough budget: firewall costs 400 but only 300 is available."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}

func TestEveryCodeHasDistinctMessage(t *testing.T) {
	cat := GetCatalog("en-US")
	codes := []string{
		"INVALID_TRANSITION", "WRONG_PHASE", "INSUFFICIENT_FUNDS", "ALREADY_STAGED",
		"NOT_STAGED", "INVALID_ACTION", "PLACEMENT_MISMATCH", "VOTE_LOCKED",
		"NOT_FOUND", "STALE_STATE", "SYNC_FAILED", "UNAUTHORIZED", "CONFLICT",
	}
	seen := map[string]string{}
	for _, code := range codes {
		msg := cat.Format(code, nil)
		if msg == code {
			t.Fatalf("no message for %s", code)
		}
		if other, dup := seen[msg]; dup {
			t.Fatalf("%s and %s share message %q", code, other, msg)
		}
		seen[msg] = code
	}
	if !strings.Contains(cat.Format("STALE_STATE", nil), "re-evaluate") {
		t.Fatal("expected STALE_STATE to ask for re-evaluation")
	}
}

func TestFormatFallbacks(t *testing.T) {
	cat := NewCatalog("test", map[Code]string{
		"code":   "hello {{.Name}}",
		"broken": "{{ if .Name }}",
	})
	if got := cat.Format("unknown", nil); got != "unknown" {
		t.Fatalf("Format(unknown) = %q, want code fallback", got)
	}
	if got := cat.Format("code", nil); got != "hello " {
		t.Fatalf("Format(code) = %q, want %q", got, "hello ")
	}
	if got := cat.Format("broken", nil); got != "{{ if .Name }}" {
		t.Fatalf("Format(broken) = %q, want raw template", got)
	}
}

func TestRegisterCatalog(t *testing.T) {
	custom := NewCatalog("custom", map[Code]string{"code": "ok"})
	RegisterCatalog("custom", custom)
	if got := GetCatalog("custom"); got != custom {
		t.Fatal("expected registered catalog")
	}
}
