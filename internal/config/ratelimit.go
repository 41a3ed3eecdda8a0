package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig tunes the token bucket guarding registration and login.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads the RATE_LIMIT_* variables.  Values that do not
// parse are reported in the returned error.
func LoadRateLimitConfig() (RateLimitConfig, error) {
	env := &envReader{}
	cfg := loadRateLimitConfig(env)
	return cfg, env.err()
}

func loadRateLimitConfig(env *envReader) RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        env.bool("RATE_LIMIT_ENABLED", true),
		Capacity:       env.int("RATE_LIMIT_CAPACITY", 10),
		RefillTokens:   env.int("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: env.dur("RATE_LIMIT_REFILL_INTERVAL", 6*time.Second),
		TTL:            env.dur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          env.bool("RATE_LIMIT_DEBUG", false),
	}
	if b := env.int("RATE_LIMIT_BURST", -1); b > 0 {
		def.Capacity = b
	}
	if every := env.dur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		def.RefillTokens = 1
		def.RefillInterval = every
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	return def
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// envReader parses typed variables.  An unset variable yields the default;
// a set one that does not parse yields the default and is remembered.
type envReader struct {
	errs []error
}

func (r *envReader) fail(k, v, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not a valid %s", k, v, want))
}

func (r *envReader) err() error { return errors.Join(r.errs...) }

func (r *envReader) bool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	r.fail(k, v, "boolean")
	return d
}

func (r *envReader) int(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(k, v, "integer")
		return d
	}
	return n
}

func (r *envReader) dur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		r.fail(k, v, "duration")
		return d
	}
	return dur
}
