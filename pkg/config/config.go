// Package config loads binlogtap's YAML configuration document: MySQL
// connection settings, the watched schema/table filters, the surrogate-key
// map, and the Redis/dump-directory/object-store settings every component
// needs.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MySQL holds the connection settings for the binlog stream and the
// information_schema key-resolution queries.
type MySQL struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Addr renders the host:port pair go-sql-driver/mysql and go-mysql expect.
func (m MySQL) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Config is the single document `-c CONFIG_FILE` loads for all three
// binlogtap subcommands (produce, dump, load).
type Config struct {
	// ServerID is this pipeline's distinct MySQL replication server id.
	ServerID uint32 `yaml:"server_id"`

	MySQL MySQL `yaml:"mysql"`

	// PositionURL selects the position store backend by scheme: a
	// "redis://host:port/db" URL opens the Redis backend; a "bolt:///dir"
	// URL opens a local BoltDB file at <dir>/position.db instead (the URL's
	// path is the directory; a host part is not), for running the producer
	// without standing up Redis. CacheURL is always a "redis://host:port/db"
	// URL for the staging cache's database, conventionally the position
	// database number plus one.
	PositionURL string `yaml:"position_url"`
	CacheURL    string `yaml:"cache_url"`

	// Schemas and Tables are watch filters; nil/empty means "all".
	Schemas []string `yaml:"schemas"`
	Tables  []string `yaml:"tables"`

	// SurrogateKeys maps a qualified table name to the unique-key column
	// list used when the table has no declared primary key.
	SurrogateKeys map[string][]string `yaml:"surrogate_keys"`

	// Events is the subset of {insert, update, delete} to watch. Empty
	// means all three.
	Events []string `yaml:"events"`

	// Blocking selects blocking vs. tail-and-exit mode for the Producer.
	Blocking bool `yaml:"blocking"`

	// DumpThreshold triggers an out-of-band dump once the cache holds more
	// than this many rows. Zero disables threshold-based dumping.
	DumpThreshold int64 `yaml:"dump_threshold"`

	// LatencyThreshold is the seconds of event-to-now lag that triggers a
	// warning log.
	LatencyThreshold int64 `yaml:"latency_threshold"`

	// DumpCommand is the external command the Producer invokes to trigger
	// a dump.
	DumpCommand string `yaml:"dump_command"`

	// DumpDir is the Dumper's output root.
	DumpDir string `yaml:"dump_dir"`

	// MaxRows bounds a single CSV batch / cache dump chunk.
	MaxRows int `yaml:"max_rows"`

	// LogDir, when set, routes non-verbose logging to <LogDir>/dump.log,
	// load.log or producer.log (per subcommand) instead of stderr.
	LogDir  string `yaml:"log_dir"`
	Verbose bool   `yaml:"verbose"`

	// Upload is nil when no object-store destination is configured.
	Upload *Upload `yaml:"upload,omitempty"`
}

// Upload configures the optional cloud object-store destination.
type Upload struct {
	// Provider is "gcs" or "s3".
	Provider string `yaml:"provider"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"` // S3 only
}

// Load reads and parses a YAML config document from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// WatchedEvents returns the event filter in lower-case, defaulting to all
// three actions when the config leaves it empty.
func (c *Config) WatchedEvents() []string {
	if len(c.Events) == 0 {
		return []string{"insert", "update", "delete"}
	}
	out := make([]string, len(c.Events))
	for i, e := range c.Events {
		out[i] = strings.ToLower(e)
	}
	return out
}

// SurrogateKeyFor returns the configured surrogate key columns for a
// qualified table, or nil if none is configured.
func (c *Config) SurrogateKeyFor(table string) []string {
	if c.SurrogateKeys == nil {
		return nil
	}
	return c.SurrogateKeys[table]
}
