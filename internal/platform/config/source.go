package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source answers key lookups from stacked layers, highest precedence first. A present but
// unparsable value falls back to the default and is recorded in malformed.
type source struct {
	layers    []map[string]string
	malformed []string
}

func (s loadSettings) source() (*source, error) {
	dotenv, err := readDotEnv(s.envFile)
	if err != nil {
		return nil, err
	}
	src := &source{}
	if s.envMap != nil {
		src.layers = append(src.layers, s.envMap)
	}
	if s.useSystemEnv {
		src.layers = append(src.layers, systemEnv())
	}
	if dotenv != nil {
		src.layers = append(src.layers, dotenv)
	}
	return src, nil
}

// EnvironmentValues returns the merged key/value view Load reads from, so callers can configure
// dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newLoadSettings(opts).source()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for i := len(src.layers) - 1; i >= 0; i-- {
		maps.Copy(values, src.layers[i])
	}
	return values, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func systemEnv() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			env[key] = value
		}
	}
	return env
}

// raw returns the trimmed value of the first layer defining key.
func (s *source) raw(key string) string {
	for _, layer := range s.layers {
		if value, ok := layer[key]; ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (s *source) str(key, fallback string) string {
	if value := s.raw(key); value != "" {
		return value
	}
	return fallback
}

func (s *source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

// parse applies fn to a set value, recording the key when fn fails.
func parse[T any](s *source, key string, fallback T, fn func(string) (T, error)) T {
	value := s.raw(key)
	if value == "" {
		return fallback
	}
	parsed, err := fn(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return parsed
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	return parse(s, key, fallback, time.ParseDuration)
}

func (s *source) integer(key string, fallback int) int {
	return parse(s, key, fallback, strconv.Atoi)
}

func (s *source) i32(key string, fallback int32) int32 {
	return parse(s, key, fallback, func(v string) (int32, error) {
		n, err := strconv.ParseInt(v, 10, 32)
		return int32(n), err
	})
}

func (s *source) boolean(key string, fallback bool) bool {
	return parse(s, key, fallback, func(v string) (bool, error) {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	})
}

// list splits a comma separated value, dropping empty items.
func (s *source) list(key string) []string {
	out := []string{}
	for _, item := range strings.Split(s.raw(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// labels reads "label=value" pairs with lower-cased labels, such as per-environment audiences.
func (s *source) labels(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range s.list(key) {
		label, value, ok := strings.Cut(item, "=")
		label, value = strings.ToLower(strings.TrimSpace(label)), strings.TrimSpace(value)
		if ok && label != "" && value != "" {
			out[label] = value
		}
	}
	return out
}
