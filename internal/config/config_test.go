package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: rewards
  password: secret
  dbname: rewards
chain:
  rpc_url: http://127.0.0.1:8545
  chain_id: 31337
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
vault:
  encryption_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
  iv: "000102030405060708090a0b0c0d0e0f"
  encrypted_admin_key: "deadbeef"
settlement:
  max_concurrent_payouts: 8
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, uint64(31337), cfg.Chain.ChainID)
	assert.Equal(t, 8, cfg.Settlement.MaxConcurrentPayouts)
	assert.Equal(t, uint64(999999), cfg.Settlement.FinalRound)
	assert.Equal(t, "1", cfg.Settlement.SafetyMarginPercentValue().String())
	assert.Equal(t, 180, cfg.Chain.ConfirmTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, "host=db.internal port=5432 user=rewards password=secret dbname=rewards sslmode=disable", cfg.Database.DSN())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REWARDS_SETTLEMENT_FINAL_ROUND", "5000")
	t.Setenv("REWARDS_VAULT_ENCRYPTED_ADMIN_KEY", "cafebabe")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, uint64(5000), cfg.Settlement.FinalRound)
	assert.Equal(t, "cafebabe", cfg.Vault.EncryptedAdminKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing rpc", func(c *Config) { c.Chain.RPCURL = "" }},
		{"bad contract", func(c *Config) { c.Chain.ContractAddress = "not-an-address" }},
		{"missing vault", func(c *Config) { c.Vault.IV = "" }},
		{"negative margin", func(c *Config) { c.Settlement.SafetyMarginPercent = "-1" }},
		{"sub-wei margin", func(c *Config) { c.Settlement.SafetyMarginMinEth = "0.0000000000000000001" }},
		{"sub-wei gas reserve", func(c *Config) { c.Settlement.GasReserveEth = "1.0000000000000000005" }},
		{"zero workers", func(c *Config) { c.Settlement.MaxConcurrentPayouts = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := *base
	c.Settlement.SafetyMarginMinEth = "0.000000000000000001"
	assert.NoError(t, c.Validate())
}
