package bootstrap

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 让 time.Duration 可以直接写在 YAML 里（"30s"、"5m"）。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 是整个服务的配置树，启动时从 YAML 文件加载一次。
type Config struct {
	App struct {
		ServiceName string `yaml:"service_name"`
		Port        int    `yaml:"port"`

		CartReservationTTLMinutes  int      `yaml:"cart_reservation_ttl_minutes"`
		OrderReservationTTLMinutes int      `yaml:"order_reservation_ttl_minutes"`
		CheckoutTimeout            Duration `yaml:"checkout_timeout"`

		Sweep struct {
			Interval    Duration `yaml:"interval"`
			BatchSize   int      `yaml:"batch_size"`
			Concurrency int      `yaml:"concurrency"`
		} `yaml:"sweep"`

		SettlementRetry struct {
			Interval   Duration `yaml:"interval"`
			MaxRetries int      `yaml:"max_retries"`
			BatchSize  int      `yaml:"batch_size"`
		} `yaml:"settlement_retry"`

		RateLimit struct {
			Limit  int      `yaml:"limit"`
			Window Duration `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"app"`

	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`

		Kafka struct {
			Brokers     []string `yaml:"brokers"`
			EventTopic  string   `yaml:"event_topic"`
			PayoutTopic string   `yaml:"payout_topic"`
			// PaymentEventTopic 是内部支付事件流，与 webhook 互为冗余入口。
			PaymentEventTopic string `yaml:"payment_event_topic"`
		} `yaml:"kafka"`

		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`

		Zookeeper struct {
			Servers        []string `yaml:"servers"`
			SessionTimeout Duration `yaml:"session_timeout"`
		} `yaml:"zookeeper"`

		Nacos struct {
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`

		Pricing struct {
			ResolveURL string `yaml:"resolve_url"`
			// MarkupFloorRule 是 CEL 表达式，对 {price, cost, floor_rate} 求值，
			// 返回 true 表示报价未击穿保护毛利。
			MarkupFloorRule string  `yaml:"markup_floor_rule"`
			FloorRate       float64 `yaml:"floor_rate"`
		} `yaml:"pricing"`

		Webhook struct {
			Secret string `yaml:"secret"`
		} `yaml:"webhook"`
	} `yaml:"infra"`
}

var currentConfig atomic.Pointer[Config]

// Init 从 CONFIG_PATH（默认 ./config.yaml）加载配置。
// 个别敏感项允许环境变量覆盖。
func Init() {
	path := getEnv("CONFIG_PATH", "config.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("FATAL: failed to read config file %s: %v", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		log.Fatalf("FATAL: failed to parse config file %s: %v", path, err)
	}

	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		cfg.Infra.Mysql.DSN = dsn
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Infra.Webhook.Secret = secret
	}
	if addrs := os.Getenv("NACOS_SERVER_ADDRS"); addrs != "" {
		cfg.Infra.Nacos.Addrs = addrs
	}

	applyDefaults(cfg)
	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置。必须先调用 Init。
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		log.Fatal("FATAL: bootstrap.Init must be called before GetCurrentConfig")
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.App.CartReservationTTLMinutes <= 0 {
		cfg.App.CartReservationTTLMinutes = 15
	}
	if cfg.App.OrderReservationTTLMinutes <= 0 {
		cfg.App.OrderReservationTTLMinutes = 30
	}
	if cfg.App.CheckoutTimeout.Std() <= 0 {
		cfg.App.CheckoutTimeout = Duration(15 * time.Second)
	}
	if cfg.App.Sweep.Interval.Std() <= 0 {
		cfg.App.Sweep.Interval = Duration(30 * time.Second)
	}
	if cfg.App.Sweep.BatchSize <= 0 {
		cfg.App.Sweep.BatchSize = 200
	}
	if cfg.App.Sweep.Concurrency <= 0 {
		cfg.App.Sweep.Concurrency = 8
	}
	if cfg.App.SettlementRetry.Interval.Std() <= 0 {
		cfg.App.SettlementRetry.Interval = Duration(15 * time.Second)
	}
	if cfg.App.SettlementRetry.MaxRetries <= 0 {
		cfg.App.SettlementRetry.MaxRetries = 5
	}
	if cfg.App.SettlementRetry.BatchSize <= 0 {
		cfg.App.SettlementRetry.BatchSize = 100
	}
	if cfg.App.RateLimit.Limit <= 0 {
		cfg.App.RateLimit.Limit = 20
	}
	if cfg.App.RateLimit.Window.Std() <= 0 {
		cfg.App.RateLimit.Window = Duration(time.Second)
	}
	if cfg.Infra.Zookeeper.SessionTimeout.Std() <= 0 {
		cfg.Infra.Zookeeper.SessionTimeout = Duration(5 * time.Second)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
