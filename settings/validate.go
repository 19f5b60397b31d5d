// Package settings stores and validates the scanner tunables.
//
// Every store validates on write so the resolver in the clamav package only
// ever sees well-formed values; it still treats anything odd as absent.
package settings

import (
	"math"
	"strconv"
	"strings"

	clamav "github.com/DevHatRo/clamav-instream-go"
)

// Keys lists the settings used by the scanner.
var Keys = []string{
	clamav.SettingHostPort,
	clamav.SettingMaxScanLength,
	clamav.SettingConnectionTimeout,
	clamav.SettingResponseTimeout,
}

// Setter is a writable settings store.
type Setter interface {
	Set(key, value string) error
}

// Validate checks value for key and returns its normalized form.
// An empty value is always valid and means "use the default".
// Keys this package does not know are passed through unchanged.
func Validate(key, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	switch key {
	case clamav.SettingHostPort:
		if !strings.Contains(value, ":") {
			return "", clamav.NewValidationError("the host and port must be of the form <host>:<port>", nil)
		}
		return value, nil

	case clamav.SettingMaxScanLength:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return "", clamav.NewValidationError("max scan length must be empty or a positive integer", err)
		}
		return strconv.FormatInt(n, 10), nil

	case clamav.SettingConnectionTimeout, clamav.SettingResponseTimeout:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || !(f > 0) || math.IsInf(f, 0) {
			return "", clamav.NewValidationError("timeout must be empty or a positive number", err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}

	return value, nil
}
