package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const envPrefix = "TWOOTR_"

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted secrets. MaxLength also caps hashing work.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// envSetting applies one TWOOTR_* variable to cfg.
type envSetting struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var envSettings = []envSetting{
	{"PASSWORD_MIN_LEN", func(c *Config, v string) (err error) {
		c.Policy.MinLength, err = parseIntIn(v, 1, 1024)
		return err
	}},
	{"PASSWORD_MAX_LEN", func(c *Config, v string) (err error) {
		c.Policy.MaxLength, err = parseIntIn(v, 1, 4096)
		return err
	}},
	{"PASSWORD_REJECT_VERY_WEAK", func(c *Config, v string) (err error) {
		c.Policy.RejectVeryWeak, err = strconv.ParseBool(strings.TrimSpace(v))
		return err
	}},
	{"ARGON2_MEMORY_KIB", func(c *Config, v string) (err error) {
		c.Params.MemoryKiB, err = parseU32In(v, 8*1024, 1024*1024)
		return err
	}},
	{"ARGON2_ITERATIONS", func(c *Config, v string) (err error) {
		c.Params.Iterations, err = parseU32In(v, 1, 20)
		return err
	}},
	{"ARGON2_PARALLELISM", func(c *Config, v string) error {
		u, err := parseU32In(v, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"ARGON2_SALT_LEN", func(c *Config, v string) (err error) {
		c.Params.SaltLength, err = parseU32In(v, 8, 64)
		return err
	}},
	{"ARGON2_KEY_LEN", func(c *Config, v string) (err error) {
		c.Params.KeyLength, err = parseU32In(v, 16, 64)
		return err
	}},
}

// FromEnv overlays TWOOTR_PASSWORD_* and TWOOTR_ARGON2_* onto base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	for _, s := range envSettings {
		name := envPrefix + s.key
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := s.apply(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", name, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}

func parseIntIn(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}

func parseU32In(s string, lo, hi uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < lo || u > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return u, nil
}
