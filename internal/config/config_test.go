package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/bytecover/internal/coverage"
)

// setupTestConfigs creates a temporary directory structure for testing.
// It returns the temporary configs directory and a cleanup function.
func setupTestConfigs(t *testing.T) (string, func()) {
	configDir := t.TempDir()

	// Viper requires a "configs" subdirectory to be present.
	actualConfigPath := filepath.Join(configDir, "configs")
	err := os.Mkdir(actualConfigPath, 0755)
	require.NoError(t, err)

	// Change working directory to the parent of "configs"
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(configDir))

	cleanup := func() {
		os.Chdir(oldWd)
	}

	return actualConfigPath, cleanup
}

const fullConfig = `
config:
  log_level: "debug"
  log_dir: "logs"
  coverage:
    include:
      - "[Calc]*"
    exclude:
      - "[*]Demo.Generated*"
    include_directories:
      - "plugins"
    exclude_by_attribute:
      - "Obsolete"
    exclude_by_file:
      - "*.g.cs"
    does_not_return_attribute:
      - "Terminates"
    single_hit: true
    use_source_link: true
    merge_with: "out/previous.json"
    temp_dir: "/var/tmp"
  report:
    output: "out/coverage.json"
    threshold: 80
    threshold_type: "line,branch"
    threshold_stat: "total"
`

func TestLoadConfig_Success(t *testing.T) {
	actualConfigPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	err := os.WriteFile(filepath.Join(actualConfigPath, "config.yaml"), []byte(fullConfig), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, []string{"[Calc]*"}, cfg.Coverage.Include)
	assert.Equal(t, []string{"*.g.cs"}, cfg.Coverage.ExcludeByFile)
	assert.True(t, cfg.Coverage.SingleHit)
	assert.Equal(t, "/var/tmp", cfg.Coverage.TempDir)
	assert.Equal(t, "out/coverage.json", cfg.Report.Output)
	assert.Equal(t, 80.0, cfg.Report.Threshold)

	params := cfg.ToParameters()
	assert.Equal(t, []string{"[Calc]*"}, params.IncludeFilters)
	assert.Equal(t, []string{"[*]Demo.Generated*"}, params.ExcludeFilters)
	assert.Equal(t, []string{"plugins"}, params.IncludeDirectories)
	assert.Equal(t, []string{"Obsolete"}, params.ExcludeAttributes)
	assert.Equal(t, []string{"Terminates"}, params.DoesNotReturnAttributes)
	assert.True(t, params.SingleHit)
	assert.True(t, params.UseSourceLink)
	assert.Equal(t, "out/previous.json", params.MergeWith)

	thresholds, stat, err := cfg.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, coverage.Thresholds{coverage.ThresholdLine: 80, coverage.ThresholdBranch: 80}, thresholds)
	assert.Equal(t, coverage.StatisticTotal, stat)
}

func TestLoadConfig_Defaults(t *testing.T) {
	actualConfigPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	// partial file: defaults fill in the rest
	content := `
config:
  coverage:
    single_hit: true
`
	err := os.WriteFile(filepath.Join(actualConfigPath, "config.yaml"), []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Coverage.SingleHit)
	assert.Equal(t, "coverage.json", cfg.Report.Output)
	assert.Equal(t, "line,branch,method", cfg.Report.ThresholdType)
	assert.Equal(t, "minimum", cfg.Report.ThresholdStat)
}

func TestLoadConfig_FileNotExists(t *testing.T) {
	_, cleanup := setupTestConfigs(t)
	defer cleanup()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Coverage.Include)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_FileNotExists(t *testing.T) {
	_, cleanup := setupTestConfigs(t)
	defer cleanup()

	var cfg Config
	err := Load("non_existent_config", &cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EmptyFile(t *testing.T) {
	actualConfigPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	err := os.WriteFile(filepath.Join(actualConfigPath, "empty.yaml"), []byte(""), 0644)
	require.NoError(t, err)

	var cfg Config
	err = Load("empty", &cfg)
	assert.NoError(t, err) // Viper doesn't error on empty files, just unmarshals nothing
	assert.Empty(t, cfg.LogLevel)
}

func TestLoad_MalformedYAML(t *testing.T) {
	actualConfigPath, cleanup := setupTestConfigs(t)
	defer cleanup()

	malformedContent := "config: test\n  log_level: oops" // Bad indentation
	err := os.WriteFile(filepath.Join(actualConfigPath, "malformed.yaml"), []byte(malformedContent), 0644)
	require.NoError(t, err)

	var cfg Config
	err = Load("malformed", &cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = LoadConfigFile(filepath.Join(actualConfigPath, "malformed.yaml"))
	assert.Error(t, err)
}

func TestThresholds_Invalid(t *testing.T) {
	cfg := &Config{Report: ReportConfig{ThresholdType: "lines", ThresholdStat: "minimum"}}
	_, _, err := cfg.Thresholds()
	assert.Error(t, err)

	cfg = &Config{Report: ReportConfig{ThresholdType: "line", ThresholdStat: "median"}}
	_, _, err = cfg.Thresholds()
	assert.Error(t, err)
}

func TestThresholds_SeveralStatistics(t *testing.T) {
	cfg := &Config{Report: ReportConfig{Threshold: 75, ThresholdType: "branch", ThresholdStat: "minimum,average"}}
	thresholds, stat, err := cfg.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, coverage.Thresholds{coverage.ThresholdBranch: 75}, thresholds)
	assert.Equal(t, coverage.StatisticMinimum|coverage.StatisticAverage, stat)
}
