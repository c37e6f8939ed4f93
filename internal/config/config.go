// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// rootKey is the YAML root wrapper; env vars use the INGEST_ prefix
// (e.g. INGEST_LOG_LEVEL).
const rootKey = "ingest"

// Source types.
const (
	SourceTypeFile = "file"
	SourceTypeExec = "exec"
)

// Sink types.
const (
	SinkTypeConsole = "console"
	SinkTypeWire    = "wire"
	SinkTypePcap    = "pcap"
	SinkTypeKafka   = "kafka"
)

// IngestConfig is the top-level configuration under `ingest:`.
type IngestConfig struct {
	Log     LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Reader  ReaderConfig   `mapstructure:"reader" yaml:"reader"`
	Sources []SourceConfig `mapstructure:"sources" yaml:"sources"`
	Sink    SinkConfig     `mapstructure:"sink" yaml:"sink"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Reader ───

// ReaderConfig tunes the batch file reader.
type ReaderConfig struct {
	BatchSize    int    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxFrameSize uint32 `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	BufferSize   int    `mapstructure:"buffer_size" yaml:"buffer_size"` // bytes buffered per open file
}

// ─── Sources ───

// SourceConfig describes one capture source. File sources use Path; exec
// sources use Cmd, Args and Link. Fallback is an alternative source tried when
// this one reports an unsupported container.
type SourceConfig struct {
	Name     string         `mapstructure:"name" yaml:"name"`
	Type     string         `mapstructure:"type" yaml:"type"`
	Path     string         `mapstructure:"path" yaml:"path,omitempty"`
	Cmd      string         `mapstructure:"cmd" yaml:"cmd,omitempty"`
	Args     []string       `mapstructure:"args" yaml:"args,omitempty"`
	Link     uint32         `mapstructure:"link" yaml:"link,omitempty"`
	Fallback map[string]any `mapstructure:"fallback" yaml:"fallback,omitempty"`
}

// FallbackSource decodes the fallback sub-tree. It returns nil when no
// fallback is configured.
func (s SourceConfig) FallbackSource() (*SourceConfig, error) {
	if len(s.Fallback) == 0 {
		return nil, nil
	}
	var fb SourceConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &fb,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(s.Fallback); err != nil {
		return nil, fmt.Errorf("source %s: invalid fallback: %w", s.Name, err)
	}
	if fb.Name == "" {
		fb.Name = s.Name + "-fallback"
	}
	if len(fb.Fallback) > 0 {
		return nil, fmt.Errorf("source %s: nested fallback is not supported", s.Name)
	}
	if err := fb.validate(); err != nil {
		return nil, err
	}
	return &fb, nil
}

func (s *SourceConfig) validate() error {
	switch s.Type {
	case SourceTypeFile:
		if s.Path == "" {
			return fmt.Errorf("source %s: path is required for type file", s.Name)
		}
	case SourceTypeExec:
		if s.Cmd == "" {
			return fmt.Errorf("source %s: cmd is required for type exec", s.Name)
		}
		if s.Link == 0 {
			s.Link = 1 // ethernet
		}
	default:
		return fmt.Errorf("source %s: unsupported type %q (must be file/exec)", s.Name, s.Type)
	}
	return nil
}

// ─── Sink ───

// SinkConfig selects where frames go.
type SinkConfig struct {
	Type   string          `mapstructure:"type" yaml:"type"`
	Path   string          `mapstructure:"path" yaml:"path,omitempty"` // wire/pcap output; empty = stdout
	Decode bool            `mapstructure:"decode" yaml:"decode"`       // console: gopacket layer summary
	BPF    string          `mapstructure:"bpf" yaml:"bpf,omitempty"`   // tcpdump -ddd program text
	Kafka  KafkaSinkConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Brokers      []string `mapstructure:"brokers" yaml:"brokers"`
	Topic        string   `mapstructure:"topic" yaml:"topic"`
	Compression  string   `mapstructure:"compression" yaml:"compression"` // none / gzip / snappy / lz4
	BatchSize    int      `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout string   `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// BatchTimeoutDuration parses BatchTimeout. Validation guarantees it parses.
func (k KafkaSinkConfig) BatchTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(k.BatchTimeout)
	return d
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ingest: ...`.
type configRoot struct {
	Ingest IngestConfig `mapstructure:"ingest" yaml:"ingest"`
}

// Load loads configuration from file. Sources are required.
func Load(path string) (*IngestConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("config validation failed: at least one source is required")
	}
	return cfg, nil
}

// Default returns the configuration made of defaults and environment
// overrides only. CLI commands that take their sources from flags start here.
func Default() (*IngestConfig, error) {
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	// The `ingest.` key prefix maps to INGEST_ through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*IngestConfig, error) {
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Ingest
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault(rootKey+".log.level", "info")
	v.SetDefault(rootKey+".log.format", "text")
	v.SetDefault(rootKey+".log.file.enabled", false)
	v.SetDefault(rootKey+".log.file.path", "/var/log/otus-ingest/ingest.log")
	v.SetDefault(rootKey+".log.file.rotation.max_size_mb", 100)
	v.SetDefault(rootKey+".log.file.rotation.max_age_days", 30)
	v.SetDefault(rootKey+".log.file.rotation.max_backups", 5)
	v.SetDefault(rootKey+".log.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault(rootKey+".metrics.enabled", false)
	v.SetDefault(rootKey+".metrics.listen", ":9091")
	v.SetDefault(rootKey+".metrics.path", "/metrics")

	// Reader defaults
	v.SetDefault(rootKey+".reader.batch_size", 256)
	v.SetDefault(rootKey+".reader.max_frame_size", 16<<20)
	v.SetDefault(rootKey+".reader.buffer_size", 64<<10)

	// Sink defaults
	v.SetDefault(rootKey+".sink.type", SinkTypeConsole)
	v.SetDefault(rootKey+".sink.decode", false)
	v.SetDefault(rootKey+".sink.kafka.compression", "snappy")
	v.SetDefault(rootKey+".sink.kafka.batch_size", 100)
	v.SetDefault(rootKey+".sink.kafka.batch_timeout", "1s")
}

// ValidateAndApplyDefaults validates configuration and fills per-source
// defaults that viper cannot express for list items.
func (cfg *IngestConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true")
	}

	// ── Reader ──
	if cfg.Reader.BatchSize <= 0 {
		return fmt.Errorf("reader.batch_size must be positive, got %d", cfg.Reader.BatchSize)
	}
	if cfg.Reader.BufferSize < 0 {
		return fmt.Errorf("reader.buffer_size must not be negative, got %d", cfg.Reader.BufferSize)
	}
	if cfg.Reader.MaxFrameSize == 0 {
		return fmt.Errorf("reader.max_frame_size must be positive")
	}

	// ── Sources ──
	seen := make(map[string]bool, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("source-%d", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		seen[src.Name] = true
		if err := src.validate(); err != nil {
			return err
		}
		if _, err := src.FallbackSource(); err != nil {
			return err
		}
	}

	// ── Sink ──
	switch cfg.Sink.Type {
	case SinkTypeConsole, SinkTypeWire:
	case SinkTypePcap:
		if cfg.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for sink type pcap")
		}
	case SinkTypeKafka:
		k := &cfg.Sink.Kafka
		if len(k.Brokers) == 0 {
			return fmt.Errorf("sink.kafka.brokers is required for sink type kafka")
		}
		if k.Topic == "" {
			return fmt.Errorf("sink.kafka.topic is required for sink type kafka")
		}
		switch strings.ToLower(k.Compression) {
		case "", "none", "gzip", "snappy", "lz4":
		default:
			return fmt.Errorf("invalid sink.kafka.compression: %s (must be none/gzip/snappy/lz4)", k.Compression)
		}
		if _, err := time.ParseDuration(k.BatchTimeout); err != nil {
			return fmt.Errorf("invalid sink.kafka.batch_timeout %q: %w", k.BatchTimeout, err)
		}
	default:
		return fmt.Errorf("unsupported sink type: %s (must be console/wire/pcap/kafka)", cfg.Sink.Type)
	}

	return nil
}

// Dump renders the resolved configuration as YAML under the root key.
func Dump(cfg *IngestConfig) ([]byte, error) {
	return yaml.Marshal(configRoot{Ingest: *cfg})
}
