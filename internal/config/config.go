package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/foveanode/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag when reading environment overrides.
const EnvPrefix = "FOVEANODE_"

// optionField is one settable field of a service options struct.
type optionField struct {
	value   reflect.Value
	flag    string
	tomlKey string
	envKey  string
}

// LoadConfig fills opts, a pointer to a flat options struct, from the file
// named by its Config field and then from FOVEANODE_* variables. Flags set
// on cmd's command line are left alone, so the order of precedence is
// flags, environment, file, defaults. A missing file is not an error.
func LoadConfig(opts any, cmd *cobra.Command) error {
	fields, configPath := optionFields(opts)
	fromCLI := changedFlags(cmd)

	file, err := readOptionsFile(configPath)
	if err != nil {
		return err
	}

	var envErrs []error
	for _, f := range fields {
		if fromCLI[f.flag] {
			continue
		}
		if f.tomlKey != "" && file != nil {
			if raw := lookupDotted(file, f.tomlKey); raw != nil {
				assignTOML(f.value, raw)
			}
		}
		if f.envKey == "" {
			continue
		}
		if s := os.Getenv(EnvPrefix + f.envKey); s != "" {
			if err := assignEnv(f.value, s); err != nil {
				envErrs = append(envErrs, fmt.Errorf("%s%s: %w", EnvPrefix, f.envKey, err))
			}
		}
	}
	return errors.Join(envErrs...)
}

func optionFields(opts any) ([]optionField, string) {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	var configPath string
	fields := make([]optionField, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if sf.Name == "Config" {
			configPath = v.Field(i).String()
			continue
		}
		fields = append(fields, optionField{
			value:   v.Field(i),
			flag:    flagName(sf.Name),
			tomlKey: sf.Tag.Get("toml"),
			envKey:  sf.Tag.Get("env"),
		})
	}
	return fields, configPath
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

func readOptionsFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var file map[string]any
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file, nil
}

// flagName maps a field name to its kebab-case flag, e.g. "FeedbackAddr"
// to "feedback-addr".
func flagName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookupDotted resolves a key such as "server.port" against nested tables.
func lookupDotted(table map[string]any, key string) any {
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		return table[head]
	}
	sub, ok := table[head].(map[string]any)
	if !ok {
		return nil
	}
	return lookupDotted(sub, rest)
}

// assignTOML stores a decoded TOML value. Mismatched types are skipped.
func assignTOML(field reflect.Value, raw any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := raw.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := raw.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		if n, ok := tomlInt(raw); ok {
			field.SetInt(n)
		}
	case reflect.Float64:
		switch f := raw.(type) {
		case float64:
			field.SetFloat(f)
		case int64:
			field.SetFloat(float64(f))
		}
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok {
			return
		}
		switch field.Type().Elem().Kind() {
		case reflect.String:
			out := make([]string, 0, len(items))
			for _, it := range items {
				if s, ok := it.(string); ok {
					out = append(out, s)
				}
			}
			field.Set(reflect.ValueOf(out))
		case reflect.Int:
			out := make([]int, 0, len(items))
			for _, it := range items {
				if n, ok := tomlInt(it); ok {
					out = append(out, int(n))
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
}

func tomlInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// assignEnv parses an environment value into field. Lists are comma
// separated.
func assignEnv(field reflect.Value, s string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		parts := strings.Split(s, ",")
		switch field.Type().Elem().Kind() {
		case reflect.String:
			out := make([]string, len(parts))
			for i, p := range parts {
				out[i] = strings.TrimSpace(p)
			}
			field.Set(reflect.ValueOf(out))
		case reflect.Int:
			out := make([]int, len(parts))
			for i, p := range parts {
				n, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil {
					return err
				}
				out[i] = n
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table of the service config. Keys
// other than level and format set per-module levels. Defaults are returned
// when the file is missing or unreadable.
func LoadLoggingConfig(configPath string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}
	if configPath == "" {
		return cfg
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var file struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg
	}

	for key, value := range file.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}
