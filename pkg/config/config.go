package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
	"github.com/travigo/livetrains/pkg/realtime/trainstate"
	"github.com/travigo/livetrains/pkg/util"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "livetrains.yml"

const environmentPrefix = "LIVETRAINS_"

type Config struct {
	Feed          FeedConfig          `yaml:"feed"`
	History       HistoryConfig       `yaml:"history"`
	Details       DetailsConfig       `yaml:"details"`
	API           APIConfig           `yaml:"api"`
	Redis         RedisConfig         `yaml:"redis"`
	MongoDB       MongoDBConfig       `yaml:"mongodb"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Stomp         StompConfig         `yaml:"stomp"`
	NATS          NATSConfig          `yaml:"nats"`
	Sinks         SinksConfig         `yaml:"sinks"`
}

type FeedConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	HubPath string `yaml:"hub_path" validate:"required"`

	portalpasazera.Headers `yaml:",inline"`

	Region portalpasazera.Region `yaml:"region"`

	GPSFilter bool   `yaml:"gps_filter"`
	Filter    string `yaml:"filter"`

	ReceiveTimeout   Duration `yaml:"receive_timeout"`
	NegotiateTimeout Duration `yaml:"negotiate_timeout"`

	ReconnectBackoff     bool     `yaml:"reconnect_backoff"`
	ReconnectMaxInterval Duration `yaml:"reconnect_max_interval"`
}

type HistoryConfig struct {
	MaxFixes         int      `yaml:"max_fixes" validate:"gte=2"`
	Window           Duration `yaml:"window"`
	DebounceDistance float64  `yaml:"debounce_distance" validate:"gte=0"`
	DebounceInterval Duration `yaml:"debounce_interval"`
	MaxSpeed         float64  `yaml:"max_speed" validate:"gt=0"`
}

type DetailsConfig struct {
	TokenTTL       Duration `yaml:"token_ttl"`
	RequestTimeout Duration `yaml:"request_timeout"`
	Cache          string   `yaml:"cache" validate:"oneof=memory redis"`
}

type APIConfig struct {
	Listen string `yaml:"listen"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database" validate:"gte=0"`
}

type PostgresConfig struct {
	Connection string `yaml:"connection"`
}

type MongoDBConfig struct {
	Connection string `yaml:"connection"`
	Database   string `yaml:"database"`
}

type ElasticsearchConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	IndexPrefix string `yaml:"index_prefix"`
	Insecure    bool   `yaml:"insecure"`
}

type StompConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Destination string `yaml:"destination"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// SinksConfig toggles the outputs each published batch is written to
type SinksConfig struct {
	Queue         bool `yaml:"queue"`
	Stomp         bool `yaml:"stomp"`
	NATS          bool `yaml:"nats"`
	MongoDB       bool `yaml:"mongodb"`
	Postgres      bool `yaml:"postgres"`
	Elasticsearch bool `yaml:"elasticsearch"`
}

func Default() *Config {
	return &Config{
		Feed: FeedConfig{
			BaseURL:          portalpasazera.DefaultBaseURL,
			HubPath:          "alltrainshub",
			Headers:          portalpasazera.DefaultHeaders,
			Region:           portalpasazera.DefaultRegion,
			ReceiveTimeout:   NewDuration(2 * time.Minute),
			NegotiateTimeout: NewDuration(30 * time.Second),

			ReconnectMaxInterval: NewDuration(time.Minute),
		},
		History: HistoryConfig{
			MaxFixes:         trainstate.DefaultConfig.MaxFixes,
			Window:           NewDuration(trainstate.DefaultConfig.Window),
			DebounceDistance: trainstate.DefaultConfig.DebounceDistance,
			DebounceInterval: NewDuration(trainstate.DefaultConfig.DebounceInterval),
			MaxSpeed:         trainstate.DefaultConfig.MaxSpeedKMH,
		},
		Details: DetailsConfig{
			TokenTTL:       NewDuration(time.Hour),
			RequestTimeout: NewDuration(30 * time.Second),
			Cache:          "memory",
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Postgres: PostgresConfig{
			Connection: "postgres://localhost:5432/livetrains",
		},
		MongoDB: MongoDBConfig{
			Connection: "mongodb://localhost:27017/",
			Database:   "livetrains",
		},
		Elasticsearch: ElasticsearchConfig{
			IndexPrefix: "livetrains-positions",
		},
		Stomp: StompConfig{
			Destination: "/topic/livetrains.positions",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "livetrains",
		},
	}
}

// Load reads the optional YAML file at path on top of the defaults, then applies
// .env and LIVETRAINS_ environment overrides and validates the result
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath) {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvironment(util.GetEnvironmentVariables(environmentPrefix)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func (c *Config) applyEnvironment(env map[string]string) error {
	stringValues := map[string]*string{
		"FEED_BASE_URL":          &c.Feed.BaseURL,
		"FEED_HUB_PATH":          &c.Feed.HubPath,
		"FEED_USER_AGENT":        &c.Feed.UserAgent,
		"FEED_COOKIE":            &c.Feed.Cookie,
		"FEED_FILTER":            &c.Feed.Filter,
		"DETAILS_CACHE":          &c.Details.Cache,
		"API_LISTEN":             &c.API.Listen,
		"REDIS_ADDRESS":          &c.Redis.Address,
		"REDIS_PASSWORD":         &c.Redis.Password,
		"MONGODB_CONNECTION":     &c.MongoDB.Connection,
		"MONGODB_DATABASE":       &c.MongoDB.Database,
		"POSTGRES_CONNECTION":    &c.Postgres.Connection,
		"ELASTICSEARCH_ADDRESS":  &c.Elasticsearch.Address,
		"ELASTICSEARCH_USERNAME": &c.Elasticsearch.Username,
		"ELASTICSEARCH_PASSWORD": &c.Elasticsearch.Password,
		"STOMP_ADDRESS":          &c.Stomp.Address,
		"STOMP_USERNAME":         &c.Stomp.Username,
		"STOMP_PASSWORD":         &c.Stomp.Password,
		"NATS_URL":               &c.NATS.URL,
	}
	for key, target := range stringValues {
		if value := env[key]; value != "" {
			*target = value
		}
	}

	bools := map[string]*bool{
		"FEED_GPS_FILTER":        &c.Feed.GPSFilter,
		"FEED_RECONNECT_BACKOFF": &c.Feed.ReconnectBackoff,
	}
	for key, target := range bools {
		if value := env[key]; value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s%s: %w", environmentPrefix, key, err)
			}
			*target = parsed
		}
	}

	durations := map[string]*Duration{
		"FEED_RECEIVE_TIMEOUT":   &c.Feed.ReceiveTimeout,
		"FEED_NEGOTIATE_TIMEOUT": &c.Feed.NegotiateTimeout,
		"DETAILS_TOKEN_TTL":      &c.Details.TokenTTL,
	}
	for key, target := range durations {
		if value := env[key]; value != "" {
			parsed, err := ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s%s: %w", environmentPrefix, key, err)
			}
			*target = parsed
		}
	}

	if value := env["REDIS_DATABASE"]; value != "" {
		database, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sREDIS_DATABASE: %w", environmentPrefix, err)
		}
		c.Redis.Database = database
	}

	// Comma separated list of sink names
	if value, exists := env["SINKS"]; exists {
		c.Sinks = SinksConfig{}
		for _, sink := range splitList(value) {
			switch sink {
			case "queue":
				c.Sinks.Queue = true
			case "stomp":
				c.Sinks.Stomp = true
			case "nats":
				c.Sinks.NATS = true
			case "mongodb":
				c.Sinks.MongoDB = true
			case "postgres":
				c.Sinks.Postgres = true
			case "elasticsearch":
				c.Sinks.Elasticsearch = true
			default:
				return fmt.Errorf("%sSINKS: unknown sink %q", environmentPrefix, sink)
			}
		}
	}

	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			items = append(items, item)
		}
	}

	return items
}

// TrackerConfig converts the history settings for the position tracker
func (h HistoryConfig) TrackerConfig() trainstate.Config {
	config := trainstate.DefaultConfig
	config.MaxFixes = h.MaxFixes
	config.Window = h.Window.Duration
	config.DebounceDistance = h.DebounceDistance
	config.DebounceInterval = h.DebounceInterval.Duration
	config.MaxSpeedKMH = h.MaxSpeed

	return config
}

// ReconnectBackOff is nil when reconnects should happen immediately
func (f FeedConfig) ReconnectBackOff() backoff.BackOff {
	if !f.ReconnectBackoff {
		return nil
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.MaxElapsedTime = 0
	if f.ReconnectMaxInterval.Duration > 0 {
		exponential.MaxInterval = f.ReconnectMaxInterval.Duration
	}

	return exponential
}
