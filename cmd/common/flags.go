package common

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// CommonFlags contains flags shared by every command
type CommonFlags struct {
	ConfigFile *string
	EnvFile    *string
	DataFile   *string
	Verbose    *bool
	Version    *bool
}

// RegisterCommonFlags registers common flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		ConfigFile: fs.String("config", "", "Path to YAML configuration file (defaults when empty)"),
		EnvFile:    fs.String("env", ".env", "Environment file with ENGINE_* overrides"),
		DataFile:   fs.String("data", "", "Path to OHLCV CSV (overrides data.file)"),
		Verbose:    fs.Bool("verbose", false, "Enable debug logging"),
		Version:    fs.Bool("version", false, "Show version information"),
	}
}

// FlagValidator collects flag validation errors
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{}
}

// ValidateFloat checks min <= value <= max
func (v *FlagValidator) ValidateFloat(name string, value, min, max float64) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %.4f and %.4f, got: %.4f", name, min, max, value))
	}
	return v
}

// ValidateInt checks min <= value <= max
func (v *FlagValidator) ValidateInt(name string, value, min, max int) *FlagValidator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d, got: %d", name, min, max, value))
	}
	return v
}

// ValidateFile checks that path exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	}
	return v
}

// AddError adds a custom validation error
func (v *FlagValidator) AddError(message string) *FlagValidator {
	v.errors = append(v.errors, message)
	return v
}

// Err returns all validation errors as one error, or nil
func (v *FlagValidator) Err() error {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("validation error: %s", v.errors[0])
	}
	return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
}
