package main

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/vkngwrapper/arsenal/batchmem"
	"gopkg.in/yaml.v2"
)

const envVarPrefix = "BATCHSIM"

// Config controls how the simulated allocator is created. Every field can be set from the config
// file and overridden from BATCHSIM_* environment variables.
type Config struct {
	LogLevel               string `envconfig:"LOG_LEVEL"               default:"INFO" yaml:"logLevel"`
	BestFit                bool   `envconfig:"BEST_FIT"                               yaml:"bestFit"`
	ExternallySynchronized bool   `envconfig:"EXTERNALLY_SYNCHRONIZED"                yaml:"externallySynchronized"`
	HeapSizeLimits         []int  `envconfig:"HEAP_SIZE_LIMITS"                       yaml:"heapSizeLimits"`
	MaxBlockCount          int    `envconfig:"MAX_BLOCK_COUNT"                        yaml:"maxBlockCount"`
}

// LoadConfig reads the config file, if one is named, and then applies the environment
func LoadConfig(path string) (*Config, error) {
	var c Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}

		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, errors.Wrap(err, "unmarshaling config file")
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "parsing environment variables")
	}

	return &c, nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return level, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

func (c *Config) CreateOptions() batchmem.CreateOptions {
	var flags batchmem.CreateFlags
	if c.BestFit {
		flags |= batchmem.AllocatorCreateBestFit
	}
	if c.ExternallySynchronized {
		flags |= batchmem.AllocatorCreateExternallySynchronized
	}

	return batchmem.CreateOptions{
		Flags:          flags,
		HeapSizeLimits: c.HeapSizeLimits,
		MaxBlockCount:  c.MaxBlockCount,
	}
}
