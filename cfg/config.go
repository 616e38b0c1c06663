package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/rs/zerolog/log"
)

// Engine identifies the source log engine
type Engine string

const (
	EngineMongoDB Engine = "mongodb"
	EngineTokuMX  Engine = "tokumx"
)

// MongoConfiguration describes the watched source
type MongoConfiguration struct {
	URL                  string         `toml:"url"`
	Username             string         `toml:"username"`
	Password             string         `toml:"password"`
	AuthSource           string         `toml:"auth_source"`
	Database             string         `toml:"database"`
	Collection           string         `toml:"collection"`             // Collection, or GridFS bucket when gridfs = true
	ImportAllCollections bool           `toml:"import_all_collections"` // Watch every collection of the database
	GridFS               bool           `toml:"gridfs"`
	Engine               Engine         `toml:"engine"`
	InitialTimestamp     string         `toml:"initial_timestamp"` // "T:I" or "gtid:<hex>"
	Filter               map[string]any `toml:"filter"`            // Top-level equality filter on record payloads
	IncludeFields        []string       `toml:"include_fields"`
	ExcludeFields        []string       `toml:"exclude_fields"`
	ConnectTimeoutMS     int            `toml:"connect_timeout_ms"`
	SocketTimeoutMS      int            `toml:"socket_timeout_ms"`
	ServerSelectionMS    int            `toml:"server_selection_timeout_ms"`
}

// RiverConfiguration tunes the tailing loop
type RiverConfiguration struct {
	QueueSize     int  `toml:"queue_size"`    // Bounded event queue capacity
	IdleDelayMS   int  `toml:"idle_delay_ms"` // Sleep after the cursor is caught up
	RetryDelayMS  int  `toml:"retry_delay_ms"`
	InitialImport bool `toml:"initial_import"` // Import existing documents when no checkpoint exists
}

// SinkConfiguration describes the downstream consumer
type SinkConfiguration struct {
	Name                   string   `toml:"name"`
	Type                   string   `toml:"type"`   // elasticsearch, kafka, nats
	Format                 string   `toml:"format"` // document, debezium
	URLs                   []string `toml:"urls"`   // Elasticsearch addresses
	Username               string   `toml:"username"`
	Password               string   `toml:"password"`
	Index                  string   `toml:"index"` // Elasticsearch index, defaults to the collection name
	Brokers                []string `toml:"brokers"`
	NatsURL                string   `toml:"nats_url"`
	TopicPrefix            string   `toml:"topic_prefix"`
	BatchSize              int      `toml:"batch_size"`
	FlushIntervalMS        int      `toml:"flush_interval_ms"`
	RetryInitialMS         int      `toml:"retry_initial_ms"`
	RetryMaxMS             int      `toml:"retry_max_ms"`
	RetryMultiplier        float64  `toml:"retry_multiplier"`
	MaxRetries             int      `toml:"max_retries"`
	FilterCollections      []string `toml:"filter_collections"` // Glob patterns
	DropCollection         bool     `toml:"drop_collection"`    // Delete the index when the collection is dropped
	IncludeCollectionField string   `toml:"include_collection_field"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // Pre-shared key, empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`

	Mongo      MongoConfiguration      `toml:"mongo"`
	River      RiverConfiguration      `toml:"river"`
	Sink       SinkConfiguration       `toml:"sink"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NameFlag       = flag.String("name", "", "River name (overrides config)")
	ResetFlag      = flag.Bool("reset", false, "Clear persisted position and status before starting")
)

// Default configuration
var Config = &Configuration{
	Name:    "", // Auto-generate
	DataDir: "./river-data",

	Mongo: MongoConfiguration{
		URL:               "mongodb://localhost:27017",
		Engine:            EngineMongoDB,
		ConnectTimeoutMS:  30000,
		SocketTimeoutMS:   60000,
		ServerSelectionMS: 30000,
	},

	River: RiverConfiguration{
		QueueSize:    1000,
		IdleDelayMS:  500,
		RetryDelayMS: 10000,
	},

	Sink: SinkConfiguration{
		Type:            "elasticsearch",
		Format:          "document",
		URLs:            []string{"http://localhost:9200"},
		BatchSize:       100,
		FlushIntervalMS: 1000,
		RetryInitialMS:  100,
		RetryMaxMS:      30000,
		RetryMultiplier: 2.0,
		MaxRetries:      100,
		DropCollection:  true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NameFlag != "" {
		Config.Name = *NameFlag
	}

	if Config.Name == "" {
		name, err := generateName()
		if err != nil {
			return fmt.Errorf("failed to generate river name: %w", err)
		}
		Config.Name = name
		log.Info().Str("name", Config.Name).Msg("Auto-generated river name")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateName derives a stable river name from the machine ID
func generateName() (string, error) {
	id, err := machineid.ProtectedID("mongo-river")
	if err != nil {
		return "", err
	}
	return "river-" + id[:12], nil
}

// Validate checks configuration for errors
func Validate() error {
	m := &Config.Mongo

	if m.URL == "" {
		return fmt.Errorf("mongo url is required")
	}
	if m.Database == "" {
		return fmt.Errorf("mongo database is required")
	}
	if m.ImportAllCollections && m.Collection != "" {
		return fmt.Errorf("mongo collection must be empty when import_all_collections is set")
	}
	if !m.ImportAllCollections && m.Collection == "" {
		return fmt.Errorf("mongo collection is required unless import_all_collections is set")
	}
	if m.GridFS && m.ImportAllCollections {
		return fmt.Errorf("gridfs mode watches a single bucket and cannot import all collections")
	}

	switch m.Engine {
	case "":
		m.Engine = EngineMongoDB
	case EngineMongoDB, EngineTokuMX:
	default:
		return fmt.Errorf("invalid mongo engine: %s", m.Engine)
	}

	if _, err := oplog.ParsePosition(m.InitialTimestamp); err != nil {
		return fmt.Errorf("invalid initial_timestamp: %w", err)
	}

	if len(m.IncludeFields) > 0 && len(m.ExcludeFields) > 0 {
		log.Warn().
			Strs("include_fields", m.IncludeFields).
			Strs("exclude_fields", m.ExcludeFields).
			Msg("Both include and exclude fields configured, include_fields is ignored")
	}

	if Config.River.QueueSize < 1 {
		return fmt.Errorf("river queue size must be >= 1")
	}
	if Config.River.IdleDelayMS < 1 {
		return fmt.Errorf("river idle delay must be >= 1ms")
	}
	if Config.River.RetryDelayMS < 1 {
		return fmt.Errorf("river retry delay must be >= 1ms")
	}

	s := &Config.Sink
	if s.Name == "" {
		s.Name = s.Type
	}
	switch s.Type {
	case "elasticsearch":
		if len(s.URLs) == 0 {
			return fmt.Errorf("elasticsearch sink requires at least one url")
		}
	case "kafka":
		if len(s.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires at least one broker")
		}
	case "nats":
		if s.NatsURL == "" {
			return fmt.Errorf("nats sink requires nats_url")
		}
	default:
		return fmt.Errorf("invalid sink type: %s", s.Type)
	}

	switch s.Format {
	case "document", "debezium":
	default:
		return fmt.Errorf("invalid sink format: %s", s.Format)
	}

	if s.BatchSize < 1 {
		return fmt.Errorf("sink batch size must be >= 1")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("sink max retries must be >= 0")
	}
	if s.RetryMultiplier != 0 && s.RetryMultiplier < 1 {
		return fmt.Errorf("sink retry multiplier must be >= 1")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	switch strings.ToLower(Config.Logging.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}

// InitialPosition returns the parsed mongo.initial_timestamp
func InitialPosition() oplog.Position {
	pos, err := oplog.ParsePosition(Config.Mongo.InitialTimestamp)
	if err != nil {
		return oplog.Position{}
	}
	return pos
}
