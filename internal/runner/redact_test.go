package runner

import (
	"strings"
	"testing"
)

func TestRedactTokenAssignment(t *testing.T) {
	got := Redact("EXPO_TOKEN=abc123XYZ")
	if got != "EXPO_TOKEN=[REDACTED]" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestRedactJSONFields(t *testing.T) {
	cases := map[string]string{
		`"token": "abc"`:           `"token": "[REDACTED]"`,
		`"password":"hunter2"`:     `"password": "[REDACTED]"`,
		`{"secret": "s3cr3t", "name": "app"}`: `{"secret": "[REDACTED]", "name": "app"}`,
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Fatalf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactBearerHeader(t *testing.T) {
	got := Redact("Authorization: Bearer abc.def.ghi")
	if got != "Authorization: Bearer [REDACTED]" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestRedactLeavesOrdinaryTextAlone(t *testing.T) {
	in := "Resolving dependencies... done\nBuilt build/app/outputs/bundle/release/app-release.aab"
	if got := Redact(in); got != in {
		t.Fatalf("ordinary text was altered: %q", got)
	}
}

func TestRedactMultipleSecretsInOneBlock(t *testing.T) {
	in := "EXPO_TOKEN=tok123\nresponse: {\"accessToken\": \"xyz\"}\ncurl -H 'Authorization: Bearer eyJ.abc.123'"
	got := Redact(in)
	if strings.Contains(got, "tok123") || strings.Contains(got, "xyz") || strings.Contains(got, "eyJ.abc.123") {
		t.Fatalf("secret survived redaction: %q", got)
	}
}
