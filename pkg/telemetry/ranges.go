package telemetry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Range is the inclusive expected interval for one sensor field.
type Range struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// RangeTable maps field names to their expected ranges. It is loaded once
// at startup and must not be mutated afterwards; Detect only reads it.
type RangeTable map[string]Range

// DefaultRangeTable returns the compiled-in expected ranges.
func DefaultRangeTable() RangeTable {
	return RangeTable{
		"temperature":   {Low: -20, High: 50},
		"humidity":      {Low: 0, High: 100},
		"soil_moisture": {Low: 0, High: 100},
	}
}

// Validate checks the low <= high invariant for every entry.
func (t RangeTable) Validate() error {
	for field, r := range t {
		if r.Low > r.High {
			return fmt.Errorf("range for field %q is inverted: low %v > high %v", field, r.Low, r.High)
		}
	}
	return nil
}

// LoadRangeTable reads a YAML range table from disk and validates it.
// The file maps field names to low/high pairs, e.g.:
//
//	temperature:
//	  low: -20
//	  high: 50
func LoadRangeTable(path string) (RangeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read range table: %w", err)
	}
	var table RangeTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse range table %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
