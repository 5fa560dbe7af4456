package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// HardLimits are the numeric ceilings the boundary enforces before any
// customer-configurable check runs.
type HardLimits struct {
	// MaxCostPerOperation is the ceiling for a single operation's estimated
	// cost, in USD.
	MaxCostPerOperation float64 `yaml:"max_cost_per_operation" json:"max_cost_per_operation"`

	// MaxResourcesPerOperation caps how many resources one request may name.
	MaxResourcesPerOperation int `yaml:"max_resources_per_operation" json:"max_resources_per_operation"`

	// MaxInstanceSize is the largest EC2 size token a request may ask for.
	MaxInstanceSize string `yaml:"max_instance_size" json:"max_instance_size"`

	// GlobalRatePerHour and CustomerRatePerHour bound validations per
	// rolling hour window.
	GlobalRatePerHour   int `yaml:"global_rate_per_hour" json:"global_rate_per_hour"`
	CustomerRatePerHour int `yaml:"customer_rate_per_hour" json:"customer_rate_per_hour"`

	// MaxSessionDuration caps how long issued credentials live.
	MaxSessionDuration time.Duration `yaml:"max_session_duration" json:"max_session_duration"`
}

// DefaultLimits returns the built-in hard limit table.
func DefaultLimits() HardLimits {
	return HardLimits{
		MaxCostPerOperation:      1000,
		MaxResourcesPerOperation: 10,
		MaxInstanceSize:          "xlarge",
		GlobalRatePerHour:        1000,
		CustomerRatePerHour:      100,
		MaxSessionDuration:       15 * time.Minute,
	}
}

// Overrides are optional deployment-level limit adjustments. Only values
// stricter than the defaults are applied; an attempt to loosen a limit is
// rejected at load time so a misconfigured file cannot widen the boundary.
type Overrides struct {
	MaxCostPerOperation      *float64       `yaml:"max_cost_per_operation"`
	MaxResourcesPerOperation *int           `yaml:"max_resources_per_operation"`
	MaxInstanceSize          *string        `yaml:"max_instance_size"`
	GlobalRatePerHour        *int           `yaml:"global_rate_per_hour"`
	CustomerRatePerHour      *int           `yaml:"customer_rate_per_hour"`
	MaxSessionDuration       *time.Duration `yaml:"max_session_duration"`
}

// LoadOverrides reads a YAML overrides file. A missing file yields zero
// overrides, not an error.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, fmt.Errorf("catalog: read overrides: %w", err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("catalog: parse overrides: %w", err)
	}
	return o, nil
}

// Apply merges overrides into the limit table, tighten-only.
func (o Overrides) Apply(base HardLimits) (HardLimits, error) {
	if o.MaxCostPerOperation != nil {
		if *o.MaxCostPerOperation > base.MaxCostPerOperation {
			return base, fmt.Errorf("catalog: override max_cost_per_operation %.2f loosens limit %.2f", *o.MaxCostPerOperation, base.MaxCostPerOperation)
		}
		base.MaxCostPerOperation = *o.MaxCostPerOperation
	}
	if o.MaxResourcesPerOperation != nil {
		if *o.MaxResourcesPerOperation > base.MaxResourcesPerOperation {
			return base, fmt.Errorf("catalog: override max_resources_per_operation %d loosens limit %d", *o.MaxResourcesPerOperation, base.MaxResourcesPerOperation)
		}
		base.MaxResourcesPerOperation = *o.MaxResourcesPerOperation
	}
	if o.MaxInstanceSize != nil {
		cur, ok := SizeOrdinal(base.MaxInstanceSize)
		next, ok2 := SizeOrdinal(*o.MaxInstanceSize)
		if !ok2 {
			return base, fmt.Errorf("catalog: override max_instance_size %q is not a known size", *o.MaxInstanceSize)
		}
		if ok && next > cur {
			return base, fmt.Errorf("catalog: override max_instance_size %q loosens limit %q", *o.MaxInstanceSize, base.MaxInstanceSize)
		}
		base.MaxInstanceSize = *o.MaxInstanceSize
	}
	if o.GlobalRatePerHour != nil {
		if *o.GlobalRatePerHour > base.GlobalRatePerHour {
			return base, fmt.Errorf("catalog: override global_rate_per_hour %d loosens limit %d", *o.GlobalRatePerHour, base.GlobalRatePerHour)
		}
		base.GlobalRatePerHour = *o.GlobalRatePerHour
	}
	if o.CustomerRatePerHour != nil {
		if *o.CustomerRatePerHour > base.CustomerRatePerHour {
			return base, fmt.Errorf("catalog: override customer_rate_per_hour %d loosens limit %d", *o.CustomerRatePerHour, base.CustomerRatePerHour)
		}
		base.CustomerRatePerHour = *o.CustomerRatePerHour
	}
	if o.MaxSessionDuration != nil {
		if *o.MaxSessionDuration > base.MaxSessionDuration {
			return base, fmt.Errorf("catalog: override max_session_duration %s loosens limit %s", *o.MaxSessionDuration, base.MaxSessionDuration)
		}
		base.MaxSessionDuration = *o.MaxSessionDuration
	}
	return base, nil
}
