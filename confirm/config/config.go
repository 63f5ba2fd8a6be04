// Package config loads the confirmation engine configuration from a YAML file and the
// environment. Environment variables are read here, once, and nowhere else.
package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/settlemint/txconfirm/confirm/policy"
)

const (
	// EnvTimeoutSeconds overrides the confirmation timeout of every network.
	EnvTimeoutSeconds = "ATK_TRANSACTION_TIMEOUT_SECONDS"

	defaultArtifactsDir = "artifacts"
	defaultCIRetries    = 2
)

// ciEnvVars are the conventional variables CI providers set.
var ciEnvVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"JENKINS_URL",
	"DRONE",
	"BUILDKITE",
	"BUILD_NUMBER",
	"CONTINUOUS_INTEGRATION",
}

// ConfirmationConfig configures receipt polling and failure diagnosis.
type ConfirmationConfig struct {
	TimeoutSeconds *int   `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty"` // Overrides the per network confirmation timeout
	ArtifactsDir   string `mapstructure:"artifacts_dir" yaml:"artifacts_dir"`               // Root of the compiled contract artifacts
	CIRetries      int    `mapstructure:"ci_retries" yaml:"ci_retries"`                     // Extra polling passes after a timeout in CI
}

// RPCConfig lists the JSON-RPC endpoints, primary first.
type RPCConfig struct {
	URLs []string `mapstructure:"urls" yaml:"urls"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Config wraps the entire configuration.
type Config struct {
	Confirmation ConfirmationConfig `mapstructure:"confirmation" yaml:"confirmation"`
	RPC          RPCConfig          `mapstructure:"rpc" yaml:"rpc"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`

	// CI is detected from the environment, it is never read from file.
	CI bool `mapstructure:"-" yaml:"-"`
}

// PolicyConfig returns the inputs of the policy resolver.
func (c *Config) PolicyConfig() policy.Config {
	return policy.Config{
		IsCI:            c.CI,
		OverrideSeconds: c.Confirmation.TimeoutSeconds,
	}
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables only.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("confirmation.artifacts_dir", defaultArtifactsDir)
	v.SetDefault("confirmation.ci_retries", defaultCIRetries)

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Confirmation.CIRetries < 0 {
		cfg.Confirmation.CIRetries = 0
	}
	cfg.RPC.URLs = splitURLs(cfg.RPC.URLs)
	cfg.CI = DetectCI(os.LookupEnv)

	return cfg, nil
}

// splitURLs accepts both YAML lists and a single comma separated env value.
func splitURLs(in []string) []string {
	var out []string
	for _, s := range in {
		for part := range strings.SplitSeq(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}

	return out
}

// DetectCI reports whether any conventional CI variable is set to a truthy value.
func DetectCI(lookup func(string) (string, bool)) bool {
	for _, name := range ciEnvVars {
		val, ok := lookup(name)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "0", "false", "no":
			continue
		}

		return true
	}

	return false
}

// envBindings maps config keys to the environment variables that can provide them, preferred
// name first.
var envBindings = map[string][]string{
	"confirmation.timeout_seconds": {EnvTimeoutSeconds},
	"confirmation.artifacts_dir":   {"ATK_ARTIFACTS_DIR"},
	"confirmation.ci_retries":      {"ATK_CI_TIMEOUT_RETRIES"},
	"rpc.urls":                     {"ATK_RPC_URLS", "ATK_RPC_URL"},
	"log.level":                    {"ATK_LOG_LEVEL", "LOG_LEVEL"},
}

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}
