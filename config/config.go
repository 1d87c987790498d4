// Package config loads the settings shared by the mqcore commands, from an
// optional YAML file overlaid with MQCORE_<SECTION>_<FIELD> environment
// variables, and builds the corresponding runtime components.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joeycumines/go-mqcore/msg"
	"github.com/joeycumines/go-mqcore/reactor"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/yaml.v3"
)

// Pool kinds.
const (
	PoolGC     = "gc"
	PoolBucket = "bucket"
	PoolSync   = "sync"
)

type (
	// Config is the root of the configuration file.
	Config struct {
		Reactor ReactorConfig `yaml:"reactor"`
		Pool    PoolConfig    `yaml:"pool"`
		Log     LogConfig     `yaml:"log"`
	}

	// ReactorConfig maps to reactor options.
	ReactorConfig struct {
		// ErrorLogRate limits warnings per category, e.g. "1s:5,1m:60".
		// The value "none" disables limiting.
		ErrorLogRate Rates         `yaml:"error_log_rate"`
		Name         string        `yaml:"name"`
		PollTimeout  time.Duration `yaml:"poll_timeout"`
	}

	// PoolConfig selects the allocation strategies for message buffers.
	PoolConfig struct {
		// Buffers is PoolGC or PoolBucket.
		Buffers string `yaml:"buffers"`
		// Counters is PoolGC or PoolSync.
		Counters string `yaml:"counters"`
		// MaxBufferSize bounds PoolBucket buffers, e.g. "4MiB".
		MaxBufferSize ByteSize `yaml:"max_buffer_size"`
	}

	// LogConfig configures the JSON logger.
	LogConfig struct {
		// Level is a syslog keyword, e.g. "info", or "disabled".
		Level string `yaml:"level"`
		// TimeField names the timestamp field, empty to omit it.
		TimeField string `yaml:"time_field"`
	}

	// ByteSize is a size in bytes, written in human form like "64KiB".
	ByteSize int64

	// Rates is a set of rate limits, as accepted by catrate.NewLimiter.
	Rates map[time.Duration]int
)

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Reactor: ReactorConfig{
			PollTimeout:  reactor.DefaultPollTimeout,
			ErrorLogRate: Rates(maps.Clone(reactor.DefaultErrorLogRate)),
		},
		Pool: PoolConfig{
			Buffers:       PoolBucket,
			Counters:      PoolSync,
			MaxBufferSize: msg.DefaultMaxBufferSize,
		},
		Log: LogConfig{
			Level:     logiface.LevelInformational.String(),
			TimeField: "time",
		},
	}
}

// Load reads the file at path, if path is not empty, over Default, then
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cfg.Decode(bytes.NewReader(b)); err != nil {
			return nil, err
		}
	}
	if err := (EnvLoader{}).Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays YAML from r onto x. Unknown fields are rejected.
func (x *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(x); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (x *Config) Validate() error {
	var errs []error
	if x.Reactor.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reactor.poll_timeout must be positive, got %s", x.Reactor.PollTimeout))
	}
	for d, n := range x.Reactor.ErrorLogRate {
		if d <= 0 || n <= 0 {
			errs = append(errs, fmt.Errorf("reactor.error_log_rate: invalid rate %d per %s", n, d))
		}
	}
	if !slices.Contains([]string{PoolGC, PoolBucket}, x.Pool.Buffers) {
		errs = append(errs, fmt.Errorf("pool.buffers: unknown kind %q", x.Pool.Buffers))
	}
	if !slices.Contains([]string{PoolGC, PoolSync}, x.Pool.Counters) {
		errs = append(errs, fmt.Errorf("pool.counters: unknown kind %q", x.Pool.Counters))
	}
	if x.Pool.MaxBufferSize < 0 {
		errs = append(errs, fmt.Errorf("pool.max_buffer_size must not be negative, got %d", x.Pool.MaxBufferSize))
	}
	if _, err := ParseLevel(x.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// NewAllocator builds an allocator with the configured strategies.
func (x *Config) NewAllocator() *msg.Allocator {
	var opts []msg.AllocatorOption
	if x.Pool.Buffers == PoolBucket {
		opts = append(opts, msg.WithBufferPool(msg.NewBucketBufferPool(int(x.Pool.MaxBufferSize))))
	}
	if x.Pool.Counters == PoolSync {
		opts = append(opts, msg.WithCounterPool(msg.NewSyncCounterPool()))
	}
	return msg.NewAllocator(opts...)
}

// ReactorOptions returns the options for reactor.New, logging to logger.
func (x *Config) ReactorOptions(logger *logiface.Logger[logiface.Event]) []reactor.Option {
	opts := []reactor.Option{
		reactor.WithLogger(logger),
		reactor.WithPollTimeout(x.Reactor.PollTimeout),
		reactor.WithErrorLogRate(x.Reactor.ErrorLogRate),
	}
	if x.Reactor.Name != "" {
		opts = append(opts, reactor.WithName(x.Reactor.Name))
	}
	return opts
}

// NewLogger returns a JSON logger writing to w.
func (x *Config) NewLogger(w io.Writer) (*logiface.Logger[logiface.Event], error) {
	level, err := ParseLevel(x.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(x.Log.TimeField),
		),
		stumpy.L.WithLevel(level),
	).Logger(), nil
}

// ParseLevel parses the keyword returned by logiface.Level.String.
func ParseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// ParseByteSize parses a size like "4MiB" or "512k", in binary units.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return ByteSize(n), nil
}

// String formats x in binary units, e.g. "4MiB".
func (x ByteSize) String() string { return units.BytesSize(float64(x)) }

// MarshalYAML implements yaml.Marshaler.
func (x ByteSize) MarshalYAML() (any, error) { return x.String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler, see ParseByteSize.
func (x *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// ParseRates parses comma separated "duration:count" pairs, or "none".
func ParseRates(s string) (Rates, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return Rates{}, nil
	}
	rates := make(Rates)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q, expected duration:count", pair)
		}
		d, err := time.ParseDuration(k)
		if err != nil {
			return nil, err
		}
		var n int
		if _, err := fmt.Sscan(v, &n); err != nil {
			return nil, fmt.Errorf("invalid rate count %q: %w", v, err)
		}
		rates[d] = n
	}
	return rates, nil
}

// String formats x as accepted by ParseRates, ordered by duration.
func (x Rates) String() string {
	if len(x) == 0 {
		return "none"
	}
	keys := make([]time.Duration, 0, len(x))
	for d := range x {
		keys = append(keys, d)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, d := range keys {
		parts[i] = fmt.Sprintf("%s:%d", d, x[d])
	}
	return strings.Join(parts, ",")
}

// MarshalYAML implements yaml.Marshaler.
func (x Rates) MarshalYAML() (any, error) { return x.String(), nil }

// UnmarshalYAML implements yaml.Unmarshaler, see ParseRates.
func (x *Rates) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseRates(node.Value)
	if err != nil {
		return err
	}
	*x = v
	return nil
}
