// Package subproc runs an external capture producer and reads frames from its
// standard output.
package subproc

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"

	"firestige.xyz/otus-ingest/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxFrameSize bounds the payload announced by a single header line.
const DefaultMaxFrameSize = 16 << 20

// Config describes the producer process. Link is stamped on every frame; the
// producer's own notion of link type is not trusted.
type Config struct {
	Cmd          string   `mapstructure:"cmd" json:"cmd"`
	Args         []string `mapstructure:"args" json:"args"`
	Link         uint32   `mapstructure:"link" json:"link"`
	MaxFrameSize uint32   `mapstructure:"max_frame_size" json:"max_frame_size,omitempty"`
}

// ParseConfig accepts a JSON document (string or []byte), a decoded map such
// as a viper sub-tree, or a Config.
func ParseConfig(v any) (Config, error) {
	var cfg Config
	switch src := v.(type) {
	case Config:
		cfg = src
	case *Config:
		if src == nil {
			return Config{}, fmt.Errorf("%w: nil producer config", core.ErrConfig)
		}
		cfg = *src
	case string:
		if err := json.UnmarshalFromString(src, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: producer config: %w", core.ErrConfig, err)
		}
	case []byte:
		if err := json.Unmarshal(src, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: producer config: %w", core.ErrConfig, err)
		}
	case map[string]any:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      false,
		})
		if err != nil {
			return Config{}, err
		}
		if err := dec.Decode(src); err != nil {
			return Config{}, fmt.Errorf("%w: producer config: %w", core.ErrConfig, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported producer config type %T", core.ErrConfig, v)
	}
	return cfg, cfg.Validate()
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Cmd == "" {
		return fmt.Errorf("%w: producer cmd is required", core.ErrConfig)
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	return nil
}
