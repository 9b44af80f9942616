package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_API_KEY", "test_key_123")
	defer os.Unsetenv("TEST_API_KEY")

	result := expandEnvVars("api_key: ${TEST_API_KEY}")
	assert.Equal(t, "api_key: test_key_123", result)
}

func TestLoadExpandsEnvVarsAndValidates(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `
long:
  api_key: "${TEST_LONG_API_KEY}"
  api_secret: "${TEST_LONG_API_SECRET}"
short:
  api_key: "static_short_key"
  api_secret: "static_short_secret"
symbol:
  symbol: "DOGEUSDC"
  quote_asset: "USDC"
system:
  log_level: "DEBUG"
`
	_, err = tmpFile.WriteString(configContent)
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_LONG_API_KEY", "key_from_env")
	os.Setenv("TEST_LONG_API_SECRET", "secret_from_env")
	defer os.Unsetenv("TEST_LONG_API_KEY")
	defer os.Unsetenv("TEST_LONG_API_SECRET")

	cfg, err := Load(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, Secret("key_from_env"), cfg.Long.APIKey)
	assert.Equal(t, Secret("secret_from_env"), cfg.Long.APISecret)
	assert.Equal(t, Secret("static_short_key"), cfg.Short.APIKey)
	assert.Equal(t, "DOGEUSDC", cfg.Symbol.Symbol)

	// defaults survive when the file doesn't override them
	assert.Equal(t, 14, cfg.Symbol.ATRLength)
	assert.Equal(t, 4, cfg.Grid.MaxOpenOrders)
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(`
symbol:
  symbol: "DOGEUSDC"
  quote_asset: "USDC"
`)
	require.NoError(t, err)
	tmpFile.Close()

	_, err = Load(tmpFile.Name())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key and api_secret are required")
}

func TestValidateRejectsUpperLowerRatioOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Long = AccountConfig{APIKey: "k", APISecret: "s"}
	cfg.Short = AccountConfig{APIKey: "k", APISecret: "s"}
	cfg.Symbol = SymbolConfig{Symbol: "DOGEUSDC", QuoteAsset: "USDC", ATRLength: 14, ATRLookback: 20}
	cfg.Grid.UpperLowerRatio = cfg.Grid.UpperLowerRatio.Add(cfg.Grid.UpperLowerRatio) // default 0.5 -> 1.0
	cfg.Grid.UpperLowerRatio = cfg.Grid.UpperLowerRatio.Add(cfg.Grid.UpperLowerRatio) // 1.0 -> 2.0, out of range

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upper_lower_ratio")
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Long = AccountConfig{APIKey: "my_super_secret_api_key", APISecret: "my_super_secret_api_secret"}

	output := cfg.String()
	assert.Contains(t, output, "REDACTED")
	assert.NotContains(t, output, "my_super_secret_api_key")
	assert.NotContains(t, output, "my_super_secret_api_secret")
}
