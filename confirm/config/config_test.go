package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCIEnv blanks every CI variable so the host CI does not leak into the test.
func clearCIEnv(t *testing.T) {
	t.Helper()

	for _, name := range ciEnvVars {
		t.Setenv(name, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const fileConfig = `
confirmation:
  timeout_seconds: 45
  artifacts_dir: ./out/artifacts
  ci_retries: 1
rpc:
  urls:
    - http://localhost:8545
    - http://localhost:8546
log:
  level: debug
`

func Test_Load(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	clearCIEnv(t)

	cfg, err := Load(writeConfigFile(t, fileConfig))
	require.NoError(t, err)

	require.NotNil(t, cfg.Confirmation.TimeoutSeconds)
	assert.Equal(t, 45, *cfg.Confirmation.TimeoutSeconds)
	assert.Equal(t, "./out/artifacts", cfg.Confirmation.ArtifactsDir)
	assert.Equal(t, 1, cfg.Confirmation.CIRetries)
	assert.Equal(t, []string{"http://localhost:8545", "http://localhost:8546"}, cfg.RPC.URLs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.CI)
}

func Test_Load_EnvOverridesFile(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	clearCIEnv(t)
	t.Setenv(EnvTimeoutSeconds, "120")
	t.Setenv("ATK_RPC_URLS", "http://a:8545, http://b:8545")
	t.Setenv("GITHUB_ACTIONS", "true")

	cfg, err := Load(writeConfigFile(t, fileConfig))
	require.NoError(t, err)

	require.NotNil(t, cfg.Confirmation.TimeoutSeconds)
	assert.Equal(t, 120, *cfg.Confirmation.TimeoutSeconds)
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.RPC.URLs)
	assert.True(t, cfg.CI)

	pc := cfg.PolicyConfig()
	assert.True(t, pc.IsCI)
	assert.Equal(t, 120, *pc.OverrideSeconds)
}

func Test_Load_MissingFileFallsBackToEnv(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	clearCIEnv(t)
	t.Setenv("ATK_ARTIFACTS_DIR", "/tmp/artifacts")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/artifacts", cfg.Confirmation.ArtifactsDir)
	assert.Equal(t, defaultCIRetries, cfg.Confirmation.CIRetries)
	assert.Nil(t, cfg.Confirmation.TimeoutSeconds)
}

func Test_Load_InvalidFile(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	clearCIEnv(t)

	_, err := Load(writeConfigFile(t, "confirmation: [unterminated"))
	require.Error(t, err)
}

func Test_LoadEnv_Defaults(t *testing.T) { //nolint:paralleltest // uses t.Setenv
	clearCIEnv(t)
	t.Setenv(EnvTimeoutSeconds, "")
	t.Setenv("ATK_ARTIFACTS_DIR", "")
	t.Setenv("ATK_CI_TIMEOUT_RETRIES", "-3")

	cfg, err := LoadEnv()
	require.NoError(t, err)

	assert.Equal(t, defaultArtifactsDir, cfg.Confirmation.ArtifactsDir)
	assert.Equal(t, 0, cfg.Confirmation.CIRetries)
}

func Test_DetectCI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		give map[string]string
		want bool
	}{
		{name: "nothing set", give: map[string]string{}},
		{name: "CI true", give: map[string]string{"CI": "true"}, want: true},
		{name: "CI false", give: map[string]string{"CI": "false"}},
		{name: "CI empty", give: map[string]string{"CI": ""}},
		{name: "jenkins url", give: map[string]string{"JENKINS_URL": "https://jenkins.example.com"}, want: true},
		{name: "build number", give: map[string]string{"BUILD_NUMBER": "42"}, want: true},
		{name: "gitlab", give: map[string]string{"GITLAB_CI": "1"}, want: true},
		{name: "unrelated var", give: map[string]string{"HOME": "/root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lookup := func(k string) (string, bool) {
				v, ok := tt.give[k]
				return v, ok
			}
			assert.Equal(t, tt.want, DetectCI(lookup))
		})
	}
}
