package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	dErrors "basenet/pkg/domain-errors"
	strs "basenet/pkg/platform/strings"
)

// Config is the full runtime configuration of a basenet process.
type Config struct {
	Topology  Topology  `yaml:"topology" validate:"required"`
	Partition Partition `yaml:"partition" validate:"required"`
	Defrag    Defrag    `yaml:"defrag" validate:"required"`

	Database Database    `yaml:"database"`
	Redis    RedisConfig `yaml:"redis"`
	Kafka    Kafka       `yaml:"kafka"`
	Metrics  Metrics     `yaml:"metrics"`
	Source   Source      `yaml:"source"`
	Log      Log         `yaml:"log"`
}

// Topology holds the geometric thresholds of the executor. None has a
// default.
type Topology struct {
	Tolerance    float64 `yaml:"tolerance" validate:"gt=0"`
	SearchBuffer float64 `yaml:"search_buffer" validate:"gtefield=Tolerance"`
	LoopBound    int     `yaml:"loop_bound" validate:"gte=1"`
}

// Partition describes how the extent is cut into longitude strips.
type Partition struct {
	Count        int      `yaml:"count" validate:"gte=1"`
	Extent       Extent   `yaml:"extent" validate:"required"`
	BorderMargin *float64 `yaml:"border_margin" validate:"required,gte=0"`
}

// Extent is the processed area in source coordinates.
type Extent struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x" validate:"gtfield=MinX"`
	MaxY float64 `yaml:"max_y" validate:"gtfield=MinY"`
}

func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.MinX, e.MinY}, Max: orb.Point{e.MaxX, e.MaxY}}
}

// Defrag configures segment defragmentation. MinSegmentLength is measured
// in coordinate units along the edge.
type Defrag struct {
	MinSegmentLength *float64 `yaml:"min_segment_length" validate:"required,gte=0"`
}

type Database struct {
	DSN       string        `yaml:"dsn"`
	TxTimeout time.Duration `yaml:"tx_timeout"`
}

// RedisConfig configures the run lock backend. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
	MinIdleConns int           `yaml:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job"`
}

// Source locates the import data: a GeoJSON file or an HTTP endpoint.
type Source struct {
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default lookup locations for dotenv files.
var EnvFiles = []string{".env"}

// Load reads path (optional) as YAML, applies BASENET_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	for _, f := range EnvFiles {
		_ = godotenv.Load(f)
	}

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) defaults() {
	if c.Database.TxTimeout == 0 {
		c.Database.TxTimeout = 5 * time.Minute
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 2 * time.Hour
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 4
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "basenet"
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags and reports every failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return dErrors.Newf(dErrors.CodeValidation, "invalid configuration: %s", strings.Join(fields, ", "))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid configuration")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	floats := map[string]*float64{
		"BASENET_TOLERANCE":     &c.Topology.Tolerance,
		"BASENET_SEARCH_BUFFER": &c.Topology.SearchBuffer,
		"BASENET_EXTENT_MIN_X":  &c.Partition.Extent.MinX,
		"BASENET_EXTENT_MIN_Y":  &c.Partition.Extent.MinY,
		"BASENET_EXTENT_MAX_X":  &c.Partition.Extent.MaxX,
		"BASENET_EXTENT_MAX_Y":  &c.Partition.Extent.MaxY,
	}
	for key, dst := range floats {
		if err := setFloat(lookup, key, dst); err != nil {
			return err
		}
	}

	optional := map[string]**float64{
		"BASENET_BORDER_MARGIN":      &c.Partition.BorderMargin,
		"BASENET_MIN_SEGMENT_LENGTH": &c.Defrag.MinSegmentLength,
	}
	for key, dst := range optional {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = &f
	}

	ints := map[string]*int{
		"BASENET_LOOP_BOUND": &c.Topology.LoopBound,
		"BASENET_PARTITIONS": &c.Partition.Count,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
	}

	strVars := map[string]*string{
		"BASENET_DATABASE_DSN":    &c.Database.DSN,
		"BASENET_REDIS_URL":       &c.Redis.URL,
		"BASENET_KAFKA_TOPIC":     &c.Kafka.Topic,
		"BASENET_PUSHGATEWAY_URL": &c.Metrics.PushgatewayURL,
		"BASENET_SOURCE_PATH":     &c.Source.Path,
		"BASENET_SOURCE_URL":      &c.Source.URL,
		"BASENET_LOG_LEVEL":       &c.Log.Level,
		"BASENET_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strVars {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("BASENET_KAFKA_BROKERS"); ok {
		if brokers := strs.SplitList(v, ","); len(brokers) > 0 {
			c.Kafka.Brokers = brokers
		}
	}

	durations := map[string]*time.Duration{
		"BASENET_TX_TIMEOUT":     &c.Database.TxTimeout,
		"BASENET_LOCK_TTL":       &c.Redis.LockTTL,
		"BASENET_SOURCE_TIMEOUT": &c.Source.Timeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func setFloat(lookup lookupFunc, key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = f
	return nil
}
