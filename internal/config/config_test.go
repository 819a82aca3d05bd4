package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `{
	"mt5": {"host": "127.0.0.1", "port": 18812, "login": "1", "password": "x", "server": "Demo"},
	"symbol": "EURUSD",
	"magic_number": 12345,
	"strategy": {"type": "dynamic", "strategies": ["sma_cross", "trend_follow"]},
	"exit": {"strategies": ["stop_loss", "take_profit"]}
}`

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "M15", cfg.Timeframe)
	assert.Equal(t, 15, cfg.PollIntervalSeconds)
	assert.Equal(t, MindsetBalanced, cfg.Mindset)
	assert.Equal(t, 120, cfg.WatchdogTimeoutSeconds)
	assert.Equal(t, 1, cfg.Metrics.IntervalSeconds)
	assert.Greater(t, cfg.Risk.MaxDailyLoss, 0.0)
}

func TestLoad_MissingSymbolFailsValidation(t *testing.T) {
	path := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812},
		"magic_number": 1,
		"strategy": {"type": "dynamic", "strategies": ["sma_cross"]},
		"exit": {"strategies": ["stop_loss"]}
	}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "symbol")
}

func TestLoad_SingleStrategyRequiresExactlyOne(t *testing.T) {
	path := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812},
		"symbol": "EURUSD",
		"magic_number": 1,
		"strategy": {"type": "single", "strategies": ["sma_cross", "ema_cross"]},
		"exit": {"strategies": ["stop_loss"]}
	}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "single")
}

func TestLoad_ResolvesFromEnvReferences(t *testing.T) {
	t.Setenv("MT5_PASSWORD_TEST", "super-secret")
	path := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812, "password": "FROM_ENV:MT5_PASSWORD_TEST"},
		"symbol": "EURUSD",
		"magic_number": 1,
		"strategy": {"type": "dynamic", "strategies": ["sma_cross"]},
		"exit": {"strategies": ["stop_loss"]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", cfg.MT5.Password)
}

func TestMindsetOverlay_ScalesRiskEnvelope(t *testing.T) {
	base := writeConfig(t, minimalConfig)
	baseCfg, err := Load(base)
	require.NoError(t, err)

	aggressivePath := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812},
		"symbol": "EURUSD",
		"magic_number": 1,
		"mindset": "aggressive",
		"strategy": {"type": "dynamic", "strategies": ["sma_cross"]},
		"exit": {"strategies": ["stop_loss"]}
	}`)
	aggressiveCfg, err := Load(aggressivePath)
	require.NoError(t, err)

	assert.Greater(t, aggressiveCfg.Risk.MaxDailyLoss, baseCfg.Risk.MaxDailyLoss)
}

func TestValidate_RejectsMismatchedDrawdownArrays(t *testing.T) {
	path := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812},
		"symbol": "EURUSD",
		"magic_number": 1,
		"strategy": {"type": "dynamic", "strategies": ["sma_cross"]},
		"exit": {"strategies": ["stop_loss"]},
		"risk": {"adaptive_drawdown": {"levels": [5, 10], "multipliers": [0.75]}}
	}`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "adaptive_drawdown")
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{
		"mt5": {"host": "127.0.0.1", "port": 18812},
		"symbol": "EURUSD",
		"magic_number": 1,
		"strategy": {"type": "dynamic", "strategies": ["sma_cross"]},
		"exit": {"strategies": ["stop_loss"]},
		"totally_unknown_key": true
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}
