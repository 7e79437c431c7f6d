package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/abtrack/pkg/abtrack/assign"
	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Settings is the typed view of an abtrack config file.
type Settings struct {
	Collector CollectorSettings
	Retry     RetrySettings
	Store     StoreSettings

	// Seed makes assignment reproducible when set.
	Seed *uint64

	Experiments []assign.Experiment
}

// CollectorSettings configures the HTTP transport.
type CollectorSettings struct {
	URL      string
	EchoPath string
	Timeout  time.Duration
	Headers  map[string]string
}

// RetrySettings configures the retry scheduler.
type RetrySettings struct {
	Interval time.Duration

	// ProbeAddr is a host:port dialed to detect connectivity. Empty means
	// always online.
	ProbeAddr     string
	ProbeInterval time.Duration
}

// StoreSettings selects and configures the persistent store.
type StoreSettings struct {
	Driver string

	// Path is the database file for sqlite and the directory for file.
	Path string

	// RetryAttempts bounds store retries. 1 disables retrying.
	RetryAttempts int
}

// DefaultSettings returns the settings used for absent keys.
func DefaultSettings() Settings {
	return Settings{
		Collector: CollectorSettings{
			URL:      "https://httpbin.org/post",
			EchoPath: "json.event",
			Timeout:  10 * time.Second,
		},
		Retry: RetrySettings{
			Interval:      10 * time.Second,
			ProbeInterval: 5 * time.Second,
		},
		Store: StoreSettings{
			Driver:        DriverSQLite,
			Path:          "abtrack.db",
			RetryAttempts: 3,
		},
	}
}

// SettingsFrom extracts Settings from cfg, filling defaults.
func SettingsFrom(cfg Config) (Settings, error) {
	s := DefaultSettings()

	s.Collector.URL = cfg.String("collector.url", s.Collector.URL)
	s.Collector.EchoPath = cfg.String("collector.echo_path", s.Collector.EchoPath)
	s.Collector.Timeout = cfg.Duration("collector.timeout", s.Collector.Timeout)
	s.Collector.Headers = cfg.StringMap("collector.headers", nil)

	s.Retry.Interval = cfg.Duration("retry.interval", s.Retry.Interval)
	s.Retry.ProbeAddr = cfg.String("retry.probe_addr", "")
	s.Retry.ProbeInterval = cfg.Duration("retry.probe_interval", s.Retry.ProbeInterval)

	s.Store.Driver = cfg.String("store.driver", s.Store.Driver)
	s.Store.Path = cfg.String("store.path", s.Store.Path)
	s.Store.RetryAttempts = cfg.Int("store.retry_attempts", s.Store.RetryAttempts)

	if cfg.Has("seed") {
		seed := cfg.Int("seed", -1)
		if seed < 0 {
			return Settings{}, fmt.Errorf("seed must be a non-negative integer")
		}
		u := uint64(seed)
		s.Seed = &u
	}

	exps, err := decodeExperiments(cfg.Any("experiments", nil))
	if err != nil {
		return Settings{}, err
	}
	s.Experiments = exps

	return s, s.Validate()
}

// LoadSettings reads and validates a config file.
func LoadSettings(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFrom(cfg)
}

// Validate checks values that have no usable default.
func (s Settings) Validate() error {
	var errs []error
	switch s.Store.Driver {
	case DriverMemory, DriverSQLite, DriverFile:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", s.Store.Driver))
	}
	if s.Store.Driver != DriverMemory && s.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required"))
	}
	if s.Retry.Interval <= 0 {
		errs = append(errs, errors.New("retry.interval: must be positive"))
	}
	for _, exp := range s.Experiments {
		if err := exp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("experiments: %w", err))
		}
	}
	return errors.Join(errs...)
}

// decodeExperiments converts the generic experiments list by round-tripping
// it through YAML into the typed form.
func decodeExperiments(raw any) ([]assign.Experiment, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("experiments: %w", err)
	}
	var exps []assign.Experiment
	if err := yaml.Unmarshal(data, &exps); err != nil {
		return nil, fmt.Errorf("experiments: %w", err)
	}
	return exps, nil
}

// OpenStore builds the configured store, wrapped with retries when
// RetryAttempts is above one.
func OpenStore(s StoreSettings) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch s.Driver {
	case DriverMemory:
		st = store.NewMemoryStore()
	case DriverSQLite:
		st, err = store.NewSQLiteStore(s.Path)
	case DriverFile:
		st, err = store.NewFileStore(s.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
	if err != nil {
		return nil, err
	}

	if s.RetryAttempts > 1 {
		return store.WithRetry(st, aberrors.NewRetryConfig(aberrors.WithMaxAttempts(s.RetryAttempts))), nil
	}
	return st, nil
}
