// Package config loads the engine configuration.
//
// Values come from the defaults below, then an optional YAML file, then
// SHARDMATCH_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"shardmatch/infra/cache"
	"shardmatch/infra/ids"
	"shardmatch/infra/kafka"
	"shardmatch/infra/logging"
	"shardmatch/infra/memory"
)

const envPrefix = "SHARDMATCH_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Engine      Engine         `yaml:"engine"`
	Outbox      Outbox         `yaml:"outbox"`
	Broadcaster Broadcaster    `yaml:"broadcaster"`
	Kafka       kafka.Config   `yaml:"kafka"`
	Redis       cache.Config   `yaml:"redis"`
	Metrics     Metrics        `yaml:"metrics"`
	Log         logging.Config `yaml:"log"`
	Load        LoadConfig     `yaml:"load"`
}

type Engine struct {
	Instruments   []string      `yaml:"instruments"`
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	EventCapacity int           `yaml:"event_capacity"`
	OrderHint     int           `yaml:"order_hint"`
	IDBlockSize   uint64        `yaml:"id_block_size"`
	WaitStrategy  string        `yaml:"wait_strategy"` // spin, yield, backoff
	MaxBackoff    time.Duration `yaml:"max_backoff"`
}

type Outbox struct {
	Dir  string `yaml:"dir"` // empty disables the outbox
	Sync bool   `yaml:"sync"`
}

type Broadcaster struct {
	Interval   time.Duration `yaml:"interval"`
	MaxRetries uint32        `yaml:"max_retries"`
	Compact    bool          `yaml:"compact"`
}

type Metrics struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// LoadConfig drives the synthetic order flow of the server binary.
type LoadConfig struct {
	Orders     int     `yaml:"orders"`
	BasePrice  float64 `yaml:"base_price"`
	PriceRange int     `yaml:"price_range"`
	MaxQty     uint64  `yaml:"max_qty"`
	CancelPct  int     `yaml:"cancel_pct"`
	ModifyPct  int     `yaml:"modify_pct"`
	Seed       int64   `yaml:"seed"`
	DepthTop   int     `yaml:"depth_top"`
}

func Default() Config {
	return Config{
		Engine: Engine{
			Instruments:   []string{"SPY", "QQQ", "AAPL", "MSFT"},
			Workers:       2,
			QueueCapacity: 1 << 16,
			EventCapacity: 1 << 16,
			OrderHint:     1_000_000,
			IDBlockSize:   ids.DefaultBlockSize,
			WaitStrategy:  "spin",
			MaxBackoff:    time.Millisecond,
		},
		Outbox: Outbox{Sync: true},
		Broadcaster: Broadcaster{
			Interval:   250 * time.Millisecond,
			MaxRetries: 5,
		},
		Kafka: kafka.Config{
			Topic:  "executions",
			Client: kafka.ClientSarama,
		},
		Redis: cache.Config{
			TTL:       cache.DefaultTTL,
			KeyPrefix: "depth:",
		},
		Log: logging.Config{Level: "info", Format: "json"},
		Load: LoadConfig{
			Orders:     100_000,
			BasePrice:  100,
			PriceRange: 20,
			MaxQty:     1000,
			CancelPct:  10,
			ModifyPct:  5,
			Seed:       1,
			DepthTop:   10,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case len(e.Instruments) == 0:
		return errors.Wrap(ErrInvalid, "engine.instruments is empty")
	case e.Workers <= 0:
		return errors.Wrapf(ErrInvalid, "engine.workers=%d", e.Workers)
	case e.QueueCapacity < 2:
		return errors.Wrapf(ErrInvalid, "engine.queue_capacity=%d", e.QueueCapacity)
	case e.EventCapacity < 2:
		return errors.Wrapf(ErrInvalid, "engine.event_capacity=%d", e.EventCapacity)
	case e.OrderHint < 0:
		return errors.Wrapf(ErrInvalid, "engine.order_hint=%d", e.OrderHint)
	}
	if _, err := memory.ParseWaitStrategy(e.WaitStrategy, e.MaxBackoff); err != nil {
		return errors.Wrapf(ErrInvalid, "engine.wait_strategy: %v", err)
	}

	seen := make(map[string]bool, len(e.Instruments))
	for _, inst := range e.Instruments {
		if inst == "" || seen[inst] {
			return errors.Wrapf(ErrInvalid, "engine.instruments: empty or duplicate %q", inst)
		}
		seen[inst] = true
	}

	if c.Kafka.Enabled() {
		if c.Outbox.Dir == "" {
			return errors.Wrap(ErrInvalid, "kafka needs outbox.dir")
		}
		switch c.Kafka.Client {
		case "", kafka.ClientSarama, kafka.ClientKafkaGo:
		default:
			return errors.Wrapf(ErrInvalid, "kafka.client=%q", c.Kafka.Client)
		}
	}
	if l := c.Load; l.BasePrice <= 0 || l.MaxQty == 0 || l.CancelPct < 0 || l.ModifyPct < 0 || l.CancelPct+l.ModifyPct > 100 {
		return errors.Wrap(ErrInvalid, "load: base_price and max_qty must be positive, cancel_pct+modify_pct <= 100")
	}
	return nil
}

// ---- environment ----

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "%s%s", envPrefix, key))
				return
			}
			*dst = i
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "%s%s", envPrefix, key))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "%s%s", envPrefix, key))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	list("INSTRUMENTS", &c.Engine.Instruments)
	num("WORKERS", &c.Engine.Workers)
	num("QUEUE_CAPACITY", &c.Engine.QueueCapacity)
	num("EVENT_CAPACITY", &c.Engine.EventCapacity)
	num("ORDER_HINT", &c.Engine.OrderHint)
	str("WAIT_STRATEGY", &c.Engine.WaitStrategy)
	dur("MAX_BACKOFF", &c.Engine.MaxBackoff)
	if v, ok := lookup("ID_BLOCK_SIZE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, errors.Wrap(err, envPrefix+"ID_BLOCK_SIZE"))
		} else {
			c.Engine.IDBlockSize = n
		}
	}

	str("OUTBOX_DIR", &c.Outbox.Dir)
	flag("OUTBOX_SYNC", &c.Outbox.Sync)
	dur("BROADCAST_INTERVAL", &c.Broadcaster.Interval)

	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_CLIENT", &c.Kafka.Client)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	dur("REDIS_TTL", &c.Redis.TTL)

	str("METRICS_LISTEN", &c.Metrics.Listen)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	num("LOAD_ORDERS", &c.Load.Orders)

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
