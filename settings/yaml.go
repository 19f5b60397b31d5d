package settings

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML mapping from path and writes every entry to dst.
// Nested mappings are flattened with dots, so both
//
//	clamav.host_port: clamd:3310
//
// and
//
//	clamav:
//	  host_port: clamd:3310
//
// set the same key. Invalid values are reported together; valid ones are
// still written.
func LoadYAML(path string, dst Setter) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	return ImportYAML(data, dst)
}

// ImportYAML is LoadYAML for an in-memory document.
func ImportYAML(data []byte, dst Setter) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	flat := make(map[string]string)
	flatten("", doc, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := dst.Set(k, flat[k]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		case string:
			out[key] = val
		case int:
			out[key] = strconv.Itoa(val)
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
