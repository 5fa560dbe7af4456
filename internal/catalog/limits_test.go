package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeOverrides(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesMissingFile(t *testing.T) {
	o, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	got, err := o.Apply(DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultLimits() {
		t.Fatalf("empty overrides changed limits: %+v", got)
	}
}

func TestOverridesTighten(t *testing.T) {
	path := writeOverrides(t, strings.Join([]string{
		"max_cost_per_operation: 250",
		"max_resources_per_operation: 3",
		"max_instance_size: large",
		"customer_rate_per_hour: 20",
		"max_session_duration: 5m",
	}, "\n"))

	o, err := LoadOverrides(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := o.Apply(DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if got.MaxCostPerOperation != 250 {
		t.Errorf("MaxCostPerOperation = %v, want 250", got.MaxCostPerOperation)
	}
	if got.MaxResourcesPerOperation != 3 {
		t.Errorf("MaxResourcesPerOperation = %d, want 3", got.MaxResourcesPerOperation)
	}
	if got.MaxInstanceSize != "large" {
		t.Errorf("MaxInstanceSize = %q, want large", got.MaxInstanceSize)
	}
	if got.CustomerRatePerHour != 20 {
		t.Errorf("CustomerRatePerHour = %d, want 20", got.CustomerRatePerHour)
	}
	if got.MaxSessionDuration != 5*time.Minute {
		t.Errorf("MaxSessionDuration = %s, want 5m", got.MaxSessionDuration)
	}
	// Untouched fields keep defaults.
	if got.GlobalRatePerHour != DefaultLimits().GlobalRatePerHour {
		t.Errorf("GlobalRatePerHour changed without an override")
	}
}

func TestOverridesCannotLoosen(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"cost", "max_cost_per_operation: 5000"},
		{"resources", "max_resources_per_operation: 100"},
		{"size", "max_instance_size: 8xlarge"},
		{"global rate", "global_rate_per_hour: 10000"},
		{"customer rate", "customer_rate_per_hour: 500"},
		{"session", "max_session_duration: 1h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := LoadOverrides(writeOverrides(t, tt.content))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := o.Apply(DefaultLimits()); err == nil {
				t.Fatalf("expected loosening override %q to be rejected", tt.content)
			}
		})
	}
}

func TestOverridesUnknownSizeRejected(t *testing.T) {
	o, err := LoadOverrides(writeOverrides(t, "max_instance_size: enormous"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Apply(DefaultLimits()); err == nil {
		t.Fatal("expected unknown size token to be rejected")
	}
}

func TestOverridesBadYAML(t *testing.T) {
	if _, err := LoadOverrides(writeOverrides(t, "max_cost_per_operation: [not a number")); err == nil {
		t.Fatal("expected parse error")
	}
}
