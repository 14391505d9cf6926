package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed settings from the environment. A set but malformed variable falls
// back to its default and is reported by err, so a typo never silently changes behavior.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (r *envReader) invalid(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *envReader) asString(key, def string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return def
}

func (r *envReader) asInt(key string, def int) int {
	value, ok := r.lookup(key)
	if !ok || value == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		r.invalid(key, value, err)
		return def
	}
	return v
}

func (r *envReader) asBool(key string, def bool) bool {
	value, ok := r.lookup(key)
	if !ok || value == "" {
		return def
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid(key, value, err)
		return def
	}
	return v
}

func (r *envReader) asDuration(key string, def time.Duration) time.Duration {
	value, ok := r.lookup(key)
	if !ok || value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.invalid(key, value, err)
		return def
	}
	return d
}

// asList splits a comma separated variable, dropping blanks. An empty list yields def.
func (r *envReader) asList(key string, def []string) []string {
	value, ok := r.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func ensureLeadingSlash(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
