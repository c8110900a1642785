// Package deployconfig loads the deployment-level configuration
// cmd/gateway needs before it can even open internal/gwconfig's function
// document: where to listen, how to reach the analytical store, which
// cache/object-store backend to use, and the deployment-analytics opt-out
// flags. Grounded on the teacher's cmd/axonhub/main.go, which loads an
// equivalent deployment document via a conf.Load() the same shape as this
// one (spf13/viper, env-var overrides); that package wasn't itself part of
// the retrieved example set, so this one is newly written in its idiom
// rather than adapted line-for-line (see DESIGN.md).
package deployconfig

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tensorzero/gateway/internal/cache"
	"github.com/tensorzero/gateway/internal/gwerrors"
	"github.com/tensorzero/gateway/internal/objectstore"
)

// Config is the full deployment document: everything cmd/gateway wires up
// before the request-serving pipeline itself starts.
type Config struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Debug   bool          `mapstructure:"debug"`
	Timeout time.Duration `mapstructure:"timeout"`

	ConfigFile string `mapstructure:"config_file"`

	ClickHouseURL      string        `mapstructure:"clickhouse_url"`
	ClickHouseDatabase string        `mapstructure:"clickhouse_database"`
	BatchMaxRows       int           `mapstructure:"batch_max_rows"`
	BatchMaxInterval   time.Duration `mapstructure:"batch_max_interval"`

	Cache cache.Config `mapstructure:"cache"`

	ObjectStore objectstore.Config `mapstructure:"object_store"`

	DeploymentID     string `mapstructure:"deployment_id"`
	DisableAnalytics bool   `mapstructure:"disable_analytics"`
	AnalyticsURL     string `mapstructure:"analytics_url"`

	EvaluationConcurrency int `mapstructure:"evaluation_concurrency"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	MetricsExporter string `mapstructure:"metrics_exporter"`
	ServiceName     string `mapstructure:"service_name"`
}

// Load reads environment variables (spec.md §6: CLICKHOUSE_URL,
// TENSORZERO_CONFIG_FILE, TENSORZERO_DISABLE_PSEUDONYMOUS_USAGE_ANALYTICS,
// TENSORZERO_HOWDY_URL, plus this gateway's own GATEWAY_* ambient settings,
// including GATEWAY_METRICS_EXPORTER: "none" (default), "stdout", or "otlp")
// into a Config, applying defaults for everything left unset.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 3000)
	v.SetDefault("debug", false)
	v.SetDefault("timeout", 5*time.Minute)
	v.SetDefault("clickhouse_database", "tensorzero")
	v.SetDefault("batch_max_rows", 1000)
	v.SetDefault("batch_max_interval", time.Second)
	v.SetDefault("evaluation_concurrency", 8)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_exporter", "none")
	v.SetDefault("service_name", "tensorzero-gateway")

	bind(v, "host", "GATEWAY_HOST")
	bind(v, "port", "GATEWAY_PORT")
	bind(v, "debug", "GATEWAY_DEBUG")
	bind(v, "timeout", "GATEWAY_TIMEOUT")
	bind(v, "config_file", "TENSORZERO_CONFIG_FILE")
	bind(v, "clickhouse_url", "CLICKHOUSE_URL")
	bind(v, "clickhouse_database", "CLICKHOUSE_DATABASE")
	bind(v, "deployment_id", "GATEWAY_DEPLOYMENT_ID")
	bind(v, "disable_analytics", "TENSORZERO_DISABLE_PSEUDONYMOUS_USAGE_ANALYTICS")
	bind(v, "analytics_url", "TENSORZERO_HOWDY_URL")
	bind(v, "log_level", "GATEWAY_LOG_LEVEL")
	bind(v, "log_file", "GATEWAY_LOG_FILE")
	bind(v, "cache.mode", "GATEWAY_CACHE_MODE")
	bind(v, "cache.redis.url", "GATEWAY_CACHE_REDIS_URL")
	bind(v, "object_store.backend", "GATEWAY_OBJECT_STORE_BACKEND")
	bind(v, "object_store.rootpath", "GATEWAY_OBJECT_STORE_ROOT")
	bind(v, "object_store.bucket", "GATEWAY_OBJECT_STORE_BUCKET")
	bind(v, "object_store.region", "GATEWAY_OBJECT_STORE_REGION")
	bind(v, "object_store.endpoint", "GATEWAY_OBJECT_STORE_ENDPOINT")
	bind(v, "metrics_exporter", "GATEWAY_METRICS_EXPORTER")
	bind(v, "service_name", "GATEWAY_SERVICE_NAME")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "decode deployment config")
	}

	return cfg, nil
}

func bind(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}
