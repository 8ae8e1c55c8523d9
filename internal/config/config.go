// Package config resolves the loader's settings from defaults, an optional
// config file, environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/utkarsh5026/bulkload/internal/cpu"
	"github.com/utkarsh5026/bulkload/internal/executor"
	"github.com/utkarsh5026/bulkload/internal/sink"
	"github.com/utkarsh5026/bulkload/internal/source"
)

const (
	EnvPrefix = "BULKLOAD"

	ModeProcess   = "process"
	ModeInProcess = "inprocess"

	MaxPoolSize = 8
)

type Config struct {
	Pool     PoolConfig
	Postgres PostgresConfig
	Source   SourceConfig
	Worker   WorkerConfig
	Run      RunConfig
	Logging  LoggingConfig
}

type PoolConfig struct {
	Size             int
	TaskTimeoutMs    int64
	StartupTimeoutMs int64
	// MaxInFlight bounds outstanding batches; 0 means twice the pool size.
	MaxInFlight int
	RateLimit   float64
	RateBurst   int
	Mode        string
	Affinity    bool
}

type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	Table           string
	MaxConns        int32
	ConnectAttempts int
}

type SourceConfig struct {
	Path      string
	BatchSize int
	Delimiter string
	CountRows bool
}

type WorkerConfig struct {
	PrimaryKey string
	NullMarker string
}

type RunConfig struct {
	Truncate    bool
	DryRun      bool
	Progress    bool
	FailOnFatal bool
	MetricsAddr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// legacyEnv maps keys to the environment variable names the loader has
// always honoured. Every key is also readable as BULKLOAD_<KEY>.
var legacyEnv = map[string]string{
	"pool.size":          "CLUSTER_SIZE",
	"pool.taskTimeoutMs": "BATCH_TIMEOUT_MS",
	"postgres.maxConns":  "DB_POOL_MAX",
	"postgres.host":      "DB_HOST",
	"postgres.port":      "DB_PORT",
	"postgres.user":      "DB_USER",
	"postgres.password":  "DB_PASS",
	"postgres.database":  "DB_NAME",
}

// childKeys are the settings a worker process needs; see ChildEnv.
var childKeys = []string{
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.table",
	"postgres.maxConns",
	"postgres.connectAttempts",
	"worker.primaryKey",
	"worker.nullMarker",
	"run.dryRun",
	"logging.level",
	"logging.format",
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("pool.size", min(cpu.NumCPU(), MaxPoolSize))
	v.SetDefault("pool.taskTimeoutMs", int64(5*time.Minute/time.Millisecond))
	v.SetDefault("pool.startupTimeoutMs", int64(30*time.Second/time.Millisecond))
	v.SetDefault("pool.maxInFlight", 0)
	v.SetDefault("pool.rateLimit", 0.0)
	v.SetDefault("pool.rateBurst", 1)
	v.SetDefault("pool.mode", ModeProcess)
	v.SetDefault("pool.affinity", false)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "admin")
	v.SetDefault("postgres.password", "admin")
	v.SetDefault("postgres.database", "postgres")
	v.SetDefault("postgres.table", sink.DefaultTable)
	v.SetDefault("postgres.maxConns", 1)
	v.SetDefault("postgres.connectAttempts", 5)

	v.SetDefault("source.path", "./data-to-import/planilha.CSV")
	v.SetDefault("source.batchSize", source.DefaultBatchSize)
	v.SetDefault("source.delimiter", ",")
	v.SetDefault("source.countRows", true)

	v.SetDefault("worker.primaryKey", executor.DefaultPrimaryKey)
	v.SetDefault("worker.nullMarker", executor.DefaultNullMarker)

	v.SetDefault("run.truncate", true)
	v.SetDefault("run.dryRun", false)
	v.SetDefault("run.progress", true)
	v.SetDefault("run.failOnFatal", true)
	v.SetDefault("run.metricsAddr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// New returns a viper instance with defaults and environment bindings in place.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, env)
	}
	return v
}

// Load reads the optional config file into v and resolves the configuration.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decoding configuration")
	}
	c.Pool.Size = min(max(c.Pool.Size, 1), MaxPoolSize)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Pool.TaskTimeoutMs <= 0 {
		result = multierror.Append(result, errors.Errorf("pool.taskTimeoutMs must be positive, got %d", c.Pool.TaskTimeoutMs))
	}
	if c.Pool.StartupTimeoutMs <= 0 {
		result = multierror.Append(result, errors.Errorf("pool.startupTimeoutMs must be positive, got %d", c.Pool.StartupTimeoutMs))
	}
	if c.Pool.MaxInFlight < 0 {
		result = multierror.Append(result, errors.Errorf("pool.maxInFlight must not be negative, got %d", c.Pool.MaxInFlight))
	}
	if c.Pool.Mode != ModeProcess && c.Pool.Mode != ModeInProcess {
		result = multierror.Append(result, errors.Errorf("pool.mode must be %q or %q, got %q", ModeProcess, ModeInProcess, c.Pool.Mode))
	}
	if c.Postgres.MaxConns < 1 {
		result = multierror.Append(result, errors.Errorf("postgres.maxConns must be at least 1, got %d", c.Postgres.MaxConns))
	}
	if c.Postgres.Table == "" {
		result = multierror.Append(result, errors.New("postgres.table must be set"))
	}
	if c.Source.BatchSize < 1 {
		result = multierror.Append(result, errors.Errorf("source.batchSize must be at least 1, got %d", c.Source.BatchSize))
	}
	if _, err := source.ParseDelimiter(c.Source.Delimiter); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "source.delimiter"))
	}
	if c.Worker.PrimaryKey == "" {
		result = multierror.Append(result, errors.New("worker.primaryKey must be set"))
	}
	return result.ErrorOrNil()
}

func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Pool.TaskTimeoutMs) * time.Millisecond
}

func (c Config) StartupTimeout() time.Duration {
	return time.Duration(c.Pool.StartupTimeoutMs) * time.Millisecond
}

// MaxInFlight is the backpressure limit: the configured value, or twice the
// pool size.
func (c Config) MaxInFlight() int {
	if c.Pool.MaxInFlight > 0 {
		return c.Pool.MaxInFlight
	}
	return 2 * c.Pool.Size
}

func (c Config) SinkConfig() sink.PostgresConfig {
	return sink.PostgresConfig{
		Host:            c.Postgres.Host,
		Port:            c.Postgres.Port,
		User:            c.Postgres.User,
		Password:        c.Postgres.Password,
		Database:        c.Postgres.Database,
		Table:           c.Postgres.Table,
		MaxConns:        c.Postgres.MaxConns,
		ConnectAttempts: c.Postgres.ConnectAttempts,
	}
}

func (c Config) SourceOptions() source.Options {
	delimiter, _ := source.ParseDelimiter(c.Source.Delimiter)
	return source.Options{BatchSize: c.Source.BatchSize, Delimiter: delimiter}
}

// ChildEnv renders the settings a worker process needs as BULKLOAD_*
// variables, so a child resolves the same values as the coordinator even when
// they came from flags or a config file.
func ChildEnv(v *viper.Viper) []string {
	env := make([]string, 0, len(childKeys))
	for _, key := range childKeys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		env = append(env, fmt.Sprintf("%s=%v", name, v.Get(key)))
	}
	return env
}
