package clamav

import (
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// Setting keys read by ResolveConfig.
const (
	SettingHostPort          = "clamav.host_port"
	SettingMaxScanLength     = "clamav.max_scan_length"
	SettingConnectionTimeout = "clamav.connection_timeout"
	SettingResponseTimeout   = "clamav.response_timeout"
)

// Defaults applied when a setting is absent or unusable.
const (
	DefaultHost            = "clamav"
	DefaultPort            = 3310
	DefaultHostPort        = "clamav:3310"
	DefaultMaxScanLength   = 64 * 1024 * 1024
	DefaultConnectTimeout  = 30 * time.Second
	DefaultResponseTimeout = 30 * time.Second
)

// Settings is a string-keyed settings provider.
// An empty value means the setting is absent.
type Settings interface {
	Get(key string) string
}

// ScanConfig holds the tunables for a single scan. It is resolved once per
// scan so concurrent scans may see different values.
type ScanConfig struct {
	Host            string
	Port            int
	MaxScanLength   int64
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

// DefaultConfig returns the configuration used when no settings are present.
func DefaultConfig() ScanConfig {
	return ScanConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		MaxScanLength:   DefaultMaxScanLength,
		ConnectTimeout:  DefaultConnectTimeout,
		ResponseTimeout: DefaultResponseTimeout,
	}
}

// Addr returns the daemon address in host:port form.
func (c ScanConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ResolveConfig reads the scan tunables from s. It never fails: missing,
// empty, non-numeric and non-positive values fall back to the defaults.
//
// The host and port are split on the last ':' so an IPv6 literal must be
// written with a port, and a bare IPv6 address without one is not supported.
func ResolveConfig(s Settings) ScanConfig {
	cfg := DefaultConfig()
	if s == nil {
		return cfg
	}

	if host, port, ok := SplitHostPort(s.Get(SettingHostPort)); ok {
		cfg.Host, cfg.Port = host, port
	}
	if n, ok := parsePositiveInt(s.Get(SettingMaxScanLength)); ok {
		cfg.MaxScanLength = n
	}
	if d, ok := parseSeconds(s.Get(SettingConnectionTimeout)); ok {
		cfg.ConnectTimeout = d
	}
	if d, ok := parseSeconds(s.Get(SettingResponseTimeout)); ok {
		cfg.ResponseTimeout = d
	}
	return cfg
}

// SplitHostPort splits v on its last ':'. ok is false when v is empty, has no
// ':', has an empty host, or the port is not in 1-65535.
func SplitHostPort(v string) (host string, port int, ok bool) {
	v = strings.TrimSpace(v)
	i := strings.LastIndexByte(v, ':')
	if i <= 0 {
		return "", 0, false
	}
	host = strings.TrimSuffix(strings.TrimPrefix(v[:i], "["), "]")
	if host == "" {
		return "", 0, false
	}
	port, err := strconv.Atoi(v[i+1:])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

func parsePositiveInt(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseSeconds(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsNaN(f) || f >= math.MaxInt64/float64(time.Second) {
		return 0, false
	}
	d := time.Duration(f * float64(time.Second))
	if d <= 0 {
		return 0, false
	}
	return d, true
}
