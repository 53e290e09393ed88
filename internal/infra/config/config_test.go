package config

import (
	"strings"
	"testing"
)

func TestSanitizeLogLevelWarningNamesVariable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		envName string
		value   string
	}{
		{name: "invalidFileLevel", envName: "LOG_FILE_LEVEL", value: "verbose"},
		{name: "unsetFileLevel", envName: "LOG_FILE_LEVEL", value: ""},
		{name: "invalidConsoleLevel", envName: "LOG_LEVEL", value: "trace"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var warnings []string
			got := sanitizeLogLevel(tc.envName, tc.value, "info", &warnings)
			if got != "info" {
				t.Fatalf("sanitizeLogLevel() = %q, want default %q", got, "info")
			}
			if len(warnings) != 1 {
				t.Fatalf("warnings = %v, want exactly one", warnings)
			}
			// Предупреждение обязано называть именно ту переменную, что читалась.
			if !strings.Contains(warnings[0], tc.envName) {
				t.Fatalf("warning %q does not name %s", warnings[0], tc.envName)
			}
		})
	}
}

func TestSanitizeLogLevelAcceptsKnownLevels(t *testing.T) {
	t.Parallel()

	for _, lvl := range []string{"debug", "info", "warn", "error", "  WARN  "} {
		var warnings []string
		got := sanitizeLogLevel("LOG_LEVEL", lvl, "info", &warnings)
		if want := strings.ToLower(strings.TrimSpace(lvl)); got != want {
			t.Fatalf("sanitizeLogLevel(%q) = %q, want %q", lvl, got, want)
		}
		if len(warnings) != 0 {
			t.Fatalf("sanitizeLogLevel(%q) produced warnings %v", lvl, warnings)
		}
	}
}
