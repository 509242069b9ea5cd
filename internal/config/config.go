package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/zjy-dev/bytecover/internal/coverage"
	"github.com/zjy-dev/bytecover/internal/instrument"
)

// Config is the top-level "config" section of config.yaml.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	LogDir   string         `mapstructure:"log_dir"`
	Coverage CoverageConfig `mapstructure:"coverage"`
	Report   ReportConfig   `mapstructure:"report"`
}

// CoverageConfig controls which modules and members are instrumented.
type CoverageConfig struct {
	Include                 []string `mapstructure:"include"`
	Exclude                 []string `mapstructure:"exclude"`
	IncludeDirectories      []string `mapstructure:"include_directories"`
	ExcludeByAttribute      []string `mapstructure:"exclude_by_attribute"`
	ExcludeByFile           []string `mapstructure:"exclude_by_file"`
	DoesNotReturnAttributes []string `mapstructure:"does_not_return_attribute"`
	SingleHit               bool     `mapstructure:"single_hit"`
	UseSourceLink           bool     `mapstructure:"use_source_link"`
	MergeWith               string   `mapstructure:"merge_with"`
	TempDir                 string   `mapstructure:"temp_dir"`
}

// ReportConfig controls result output and threshold checks.
type ReportConfig struct {
	Output        string  `mapstructure:"output"`
	MarkdownDir   string  `mapstructure:"markdown_dir"`
	Threshold     float64 `mapstructure:"threshold"`
	ThresholdType string  `mapstructure:"threshold_type"`
	ThresholdStat string  `mapstructure:"threshold_stat"`
}

// Load reads a configuration file from the "configs" directory into a struct.
// The configName parameter should be the base name of the file without the extension (e.g., "config").
// The result parameter should be a pointer to a struct that the configuration will be unmarshaled into.
func Load(configName string, result interface{}) error {
	v := newViper(configName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	return nil
}

func newViper(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config.log_level", "info")
	v.SetDefault("config.log_dir", "")
	v.SetDefault("config.report.output", "coverage.json")
	v.SetDefault("config.report.threshold", 0)
	v.SetDefault("config.report.threshold_type", "line,branch,method")
	v.SetDefault("config.report.threshold_stat", "minimum")
}

// LoadConfig reads configs/config.yaml. A missing file yields the defaults.
func LoadConfig() (*Config, error) {
	v := newViper("config")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadConfigFile reads the configuration from an explicit path.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// decode goes through Unmarshal rather than UnmarshalKey so nested defaults
// are merged with a partial file.
func decode(v *viper.Viper) (*Config, error) {
	var file struct {
		Config Config `mapstructure:"config"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	return &file.Config, nil
}

// ToParameters converts the coverage section into instrumentation parameters.
func (c *Config) ToParameters() *instrument.Parameters {
	cc := c.Coverage
	return &instrument.Parameters{
		IncludeFilters:          cc.Include,
		ExcludeFilters:          cc.Exclude,
		IncludeDirectories:      cc.IncludeDirectories,
		ExcludeAttributes:       cc.ExcludeByAttribute,
		ExcludedSourceFiles:     cc.ExcludeByFile,
		DoesNotReturnAttributes: cc.DoesNotReturnAttributes,
		SingleHit:               cc.SingleHit,
		UseSourceLink:           cc.UseSourceLink,
		MergeWith:               cc.MergeWith,
	}
}

// Thresholds converts the report section into a threshold policy.
func (c *Config) Thresholds() (coverage.Thresholds, coverage.ThresholdStatistic, error) {
	types, err := coverage.ParseThresholdTypes(c.Report.ThresholdType)
	if err != nil {
		return nil, 0, err
	}
	stat, err := coverage.ParseThresholdStatistic(c.Report.ThresholdStat)
	if err != nil {
		return nil, 0, err
	}

	thresholds := coverage.Thresholds{}
	for _, t := range []coverage.ThresholdType{coverage.ThresholdLine, coverage.ThresholdBranch, coverage.ThresholdMethod} {
		if types&t != 0 {
			thresholds[t] = c.Report.Threshold
		}
	}
	return thresholds, stat, nil
}
