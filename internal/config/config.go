// Package config loads cafledger settings from file, environment and flags,
// and installs the global zap logger.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g. CAFLEDGER_DB_DIR.
const EnvPrefix = "CAFLEDGER"

// Config holds the full application configuration.
type Config struct {
	DBDir   string        `yaml:"db_dir" mapstructure:"db_dir"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Naming  NamingConfig  `yaml:"naming" mapstructure:"naming"`
	Convert ConvertConfig `yaml:"convert" mapstructure:"convert"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level         string `yaml:"level" mapstructure:"level"`
	Format        string `yaml:"format" mapstructure:"format"`
	ProgressEvery int    `yaml:"progress_every" mapstructure:"progress_every"`
}

// CatalogConfig configures the SAMWeb catalog client.
type CatalogConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	Experiment     string  `yaml:"experiment" mapstructure:"experiment"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	LookupWorkers  int     `yaml:"lookup_workers" mapstructure:"lookup_workers"`
	SourceSuffix   string  `yaml:"source_suffix" mapstructure:"source_suffix"`
	StandardSuffix string  `yaml:"standard_suffix" mapstructure:"standard_suffix"`
}

// Endpoint returns BaseURL with any {experiment} placeholder filled in.
func (c CatalogConfig) Endpoint() string {
	return strings.TrimRight(strings.ReplaceAll(c.BaseURL, "{experiment}", c.Experiment), "/")
}

// NamingConfig maps intermediate file names back to source rows and forward
// to final artifact names.
type NamingConfig struct {
	IntermediateSuffix string `yaml:"intermediate_suffix" mapstructure:"intermediate_suffix"`
	SourceExt          string `yaml:"source_ext" mapstructure:"source_ext"`
	FinalSuffix        string `yaml:"final_suffix" mapstructure:"final_suffix"`
}

// ConvertConfig configures the external merge and flatten executables.
type ConvertConfig struct {
	MergeBin    string `yaml:"merge_bin" mapstructure:"merge_bin"`
	FlattenBin  string `yaml:"flatten_bin" mapstructure:"flatten_bin"`
	WorkDir     string `yaml:"work_dir" mapstructure:"work_dir"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	StderrLimit int    `yaml:"stderr_limit" mapstructure:"stderr_limit"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_dir", "db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.progress_every", 100)
	v.SetDefault("catalog.base_url", "https://samweb.fnal.gov:8483/sam/{experiment}/api")
	v.SetDefault("catalog.experiment", "icarus")
	v.SetDefault("catalog.timeout_secs", 60)
	v.SetDefault("catalog.rate_per_sec", 10.0)
	v.SetDefault("catalog.max_attempts", 3)
	v.SetDefault("catalog.lookup_workers", 1)
	v.SetDefault("catalog.source_suffix", "_larcv")
	v.SetDefault("catalog.standard_suffix", "_caf")
	v.SetDefault("naming.intermediate_suffix", "_lite.h5")
	v.SetDefault("naming.source_ext", ".root")
	v.SetDefault("naming.final_suffix", "_flat.root")
	v.SetDefault("convert.merge_bin", "merge_sources_simulation")
	v.SetDefault("convert.flatten_bin", "flatten_caf")
	v.SetDefault("convert.work_dir", "")
	v.SetDefault("convert.timeout_secs", 0)
	v.SetDefault("convert.stderr_limit", 10*1024)
}

// New returns a viper instance with defaults, env binding and config search
// paths applied. An explicit file, when non-empty, replaces the search.
func New(file string) *viper.Viper {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cafledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "cafledger"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	return v
}

// Load reads the optional config file and unmarshals v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the batch cannot run with.
func (c *Config) Validate() error {
	if c.DBDir == "" {
		return eris.New("config: db_dir must not be empty")
	}
	if c.Naming.IntermediateSuffix == "" {
		return eris.New("config: naming.intermediate_suffix must not be empty")
	}
	if c.Catalog.LookupWorkers < 1 {
		return eris.Errorf("config: catalog.lookup_workers must be >= 1, got %d", c.Catalog.LookupWorkers)
	}
	if c.Catalog.MaxAttempts < 1 {
		return eris.Errorf("config: catalog.max_attempts must be >= 1, got %d", c.Catalog.MaxAttempts)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
