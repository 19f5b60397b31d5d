package settings

import (
	"os"
	"strings"

	clamav "github.com/DevHatRo/clamav-instream-go"
)

// Env reads settings from environment variables. The variable for a key is
// the key upper-cased with dots replaced by underscores, so
// "clamav.host_port" is read from CLAMAV_HOST_PORT.
type Env struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// EnvVar returns the environment variable name for key.
func EnvVar(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns the environment value for key, or "" if unset.
func (e Env) Get(key string) string {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(EnvVar(key))
	return strings.TrimSpace(v)
}

// Chain looks a key up in each provider in turn and returns the first
// non-empty value.
type Chain []clamav.Settings

// Get returns the first non-empty value for key.
func (c Chain) Get(key string) string {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v := s.Get(key); v != "" {
			return v
		}
	}
	return ""
}
