package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perkledger.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8645", cfg.Node.ListenAddress)

	// The default file is written and loads back unchanged.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perkledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/perkledger"

[settlement]
MaxDiscountBps = 2500
MaxPoolsPerTrade = 5
MaxVolumePerWindow = "1000000"
DeniedAssets = ["bad"]
Treasury = "0x00000000000000000000000000000000000000a1"
Escrow = "0x00000000000000000000000000000000000000a2"

[discount]
TierBps = 5
StreakBpsPerDay = 5
MaxStreakBps = 100
PlatformCutBps = 1000

[farming]
RewardAsset = "rwd"
RewardPerSecond = "10"
Operator = "0x00000000000000000000000000000000000000b1"
Treasury = "0x00000000000000000000000000000000000000b2"
Escrow = "0x00000000000000000000000000000000000000b3"
FeeCollector = "0x00000000000000000000000000000000000000b4"
TierBoostStep = 10
BadgeBoostStep = 2
BoostCeiling = 200
MaxBoost = 300
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	sp, err := cfg.SettlementParams()
	require.NoError(t, err)
	require.Equal(t, uint32(2500), sp.MaxDiscountBps)
	require.Equal(t, big.NewInt(1_000_000), sp.MaxVolumePerWindow)
	require.True(t, sp.Denied("BAD"))
	require.Equal(t, byte(0xA1), sp.Treasury[19])

	fp, err := cfg.FarmingParams()
	require.NoError(t, err)
	require.Equal(t, "RWD", fp.RewardAsset)
	require.Equal(t, big.NewInt(10), fp.RewardPerSecond)
	require.Equal(t, byte(0xB1), fp.Operator[19])
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perkledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[settlement]
MaxDiscountBps = 20000
MaxPoolsPerTrade = 5
`), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[farming]
RewardPerSecond = "not-a-number"
`), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}
