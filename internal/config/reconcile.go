package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReconcileConfig carries the tunable knobs of the reconciliation flow.
// It can be reloaded at runtime from reconcile.yml without a restart.
type ReconcileConfig struct {
	Verification VerificationConfig `mapstructure:"verification"`
	Orders       OrderConfig        `mapstructure:"orders"`
	Sweeper      SweeperConfig      `mapstructure:"sweeper"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
}

type VerificationConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	BackoffInitial time.Duration `mapstructure:"backoffInitial"`
	BackoffMax     time.Duration `mapstructure:"backoffMax"`
}

type OrderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
	LockTTL   time.Duration `mapstructure:"lockTTL"`
}

type NotifierConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	QueueSize   int           `mapstructure:"queueSize"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Verification: VerificationConfig{
			MaxAttempts:    4,
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     8 * time.Second,
		},
		Orders: OrderConfig{
			TTL: 30 * time.Minute,
		},
		Sweeper: SweeperConfig{
			Interval:  time.Minute,
			BatchSize: 100,
			LockTTL:   5 * time.Minute,
		},
		Notifier: NotifierConfig{
			MaxAttempts: 3,
			QueueSize:   256,
			Backoff:     2 * time.Second,
		},
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewReconcileConfigHolder reads reconcile.yml when present, falls back to
// defaults otherwise, and hot-reloads on file change.
func NewReconcileConfigHolder() (*ReconcileConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/enrollpay/config")
	v.AddConfigPath("/etc/enrollpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENROLLPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &ReconcileConfigHolder{}
	holder.current.Store(DefaultReconcileConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return holder, nil
	}

	cfg, err := unmarshalReconcile(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalReconcile(v)
		if err != nil {
			log.Printf("[reconcile-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[reconcile-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

// Store replaces the active config. Tests use it to tighten timings.
func (h *ReconcileConfigHolder) Store(cfg ReconcileConfig) {
	h.current.Store(cfg)
}

func unmarshalReconcile(v *viper.Viper) (ReconcileConfig, error) {
	cfg := DefaultReconcileConfig()
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return ReconcileConfig{}, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return ReconcileConfig{}, err
	}
	return cfg, nil
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.Verification.MaxAttempts < 1 {
		return errors.New("reconcile.verification.maxAttempts must be at least 1")
	}
	if cfg.Orders.TTL <= 0 {
		return errors.New("reconcile.orders.ttl must be positive")
	}
	if cfg.Sweeper.Interval <= 0 {
		return errors.New("reconcile.sweeper.interval must be positive")
	}
	if cfg.Sweeper.BatchSize < 1 {
		return errors.New("reconcile.sweeper.batchSize must be at least 1")
	}
	if cfg.Notifier.MaxAttempts < 1 {
		return errors.New("reconcile.notifier.maxAttempts must be at least 1")
	}
	return nil
}
