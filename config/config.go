package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"perkledger/native/discount"
	"perkledger/native/farming"
	"perkledger/native/settlement"
)

// Node holds the service-level settings.
type Node struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	LogFile       string `toml:"LogFile"`
	Environment   string `toml:"Environment"`
}

// Settlement holds the distributor settings. Addresses are hex encoded.
type Settlement struct {
	MaxDiscountBps     uint32   `toml:"MaxDiscountBps"`
	MaxPoolsPerTrade   int      `toml:"MaxPoolsPerTrade"`
	MaxVolumePerWindow string   `toml:"MaxVolumePerWindow"`
	DeniedAssets       []string `toml:"DeniedAssets"`
	Treasury           string   `toml:"Treasury"`
	Escrow             string   `toml:"Escrow"`
}

// Discount holds the aggregator bonus schedule.
type Discount struct {
	TierBps         uint32 `toml:"TierBps"`
	StreakBpsPerDay uint32 `toml:"StreakBpsPerDay"`
	MaxStreakBps    uint32 `toml:"MaxStreakBps"`
	PlatformCutBps  uint32 `toml:"PlatformCutBps"`
}

// Farming holds the reward engine settings.
type Farming struct {
	RewardAsset     string `toml:"RewardAsset"`
	RewardPerSecond string `toml:"RewardPerSecond"`
	Operator        string `toml:"Operator"`
	Treasury        string `toml:"Treasury"`
	Escrow          string `toml:"Escrow"`
	FeeCollector    string `toml:"FeeCollector"`
	TierBoostStep   uint32 `toml:"TierBoostStep"`
	BadgeBoostStep  uint32 `toml:"BadgeBoostStep"`
	BoostCeiling    uint32 `toml:"BoostCeiling"`
	MaxBoost        uint32 `toml:"MaxBoost"`
}

// Config is the full service configuration.
type Config struct {
	Node       Node       `toml:"node"`
	Settlement Settlement `toml:"settlement"`
	Discount   Discount   `toml:"discount"`
	Farming    Farming    `toml:"farming"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Node: Node{
			ListenAddress: "0.0.0.0:8645",
			DataDir:       "./perkledger-data",
			Environment:   "local",
		},
		Settlement: Settlement{
			MaxDiscountBps:   settlement.DefaultMaxDiscountBps,
			MaxPoolsPerTrade: settlement.DefaultMaxPoolsPerTrade,
		},
		Discount: Discount{
			TierBps:         discount.DefaultTierBps,
			StreakBpsPerDay: discount.DefaultStreakBpsPerDay,
			MaxStreakBps:    discount.DefaultMaxStreakBps,
			PlatformCutBps:  discount.DefaultPlatformCutBps,
		},
		Farming: Farming{
			RewardPerSecond: "0",
			TierBoostStep:   farming.DefaultTierBoostStep,
			BadgeBoostStep:  farming.DefaultBadgeBoostStep,
			BoostCeiling:    farming.DefaultBoostCeiling,
			MaxBoost:        farming.DefaultMaxBoost,
		},
	}
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	return cfg, nil
}

// Validate checks every section without materialising engine params.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Node.ListenAddress) == "" {
		return fmt.Errorf("config: node listen address required")
	}
	if _, err := c.SettlementParams(); err != nil {
		return err
	}
	if _, err := c.FarmingParams(); err != nil {
		return err
	}
	return nil
}

// SettlementParams materialises the distributor params.
func (c *Config) SettlementParams() (settlement.Params, error) {
	params := settlement.DefaultParams()
	params.MaxDiscountBps = c.Settlement.MaxDiscountBps
	params.MaxPoolsPerTrade = c.Settlement.MaxPoolsPerTrade
	params.DeniedAssets = append([]string(nil), c.Settlement.DeniedAssets...)
	params.Aggregator = discount.AggregatorParams{
		TierBps:         c.Discount.TierBps,
		StreakBpsPerDay: c.Discount.StreakBpsPerDay,
		MaxStreakBps:    c.Discount.MaxStreakBps,
		PlatformCutBps:  c.Discount.PlatformCutBps,
	}

	var err error
	if params.MaxVolumePerWindow, err = parseAmount("settlement.MaxVolumePerWindow", c.Settlement.MaxVolumePerWindow); err != nil {
		return settlement.Params{}, err
	}
	if params.Treasury, err = parseAddress("settlement.Treasury", c.Settlement.Treasury); err != nil {
		return settlement.Params{}, err
	}
	if params.Escrow, err = parseAddress("settlement.Escrow", c.Settlement.Escrow); err != nil {
		return settlement.Params{}, err
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return settlement.Params{}, err
	}
	return params, nil
}

// FarmingParams materialises the reward engine params.
func (c *Config) FarmingParams() (farming.Params, error) {
	params := farming.DefaultParams()
	params.RewardAsset = strings.ToUpper(strings.TrimSpace(c.Farming.RewardAsset))
	params.TierBoostStep = c.Farming.TierBoostStep
	params.BadgeBoostStep = c.Farming.BadgeBoostStep
	params.BoostCeiling = c.Farming.BoostCeiling
	params.MaxBoost = c.Farming.MaxBoost

	var err error
	if params.RewardPerSecond, err = parseAmount("farming.RewardPerSecond", c.Farming.RewardPerSecond); err != nil {
		return farming.Params{}, err
	}
	if params.Operator, err = parseAddress("farming.Operator", c.Farming.Operator); err != nil {
		return farming.Params{}, err
	}
	if params.Treasury, err = parseAddress("farming.Treasury", c.Farming.Treasury); err != nil {
		return farming.Params{}, err
	}
	if params.Escrow, err = parseAddress("farming.Escrow", c.Farming.Escrow); err != nil {
		return farming.Params{}, err
	}
	if params.FeeCollector, err = parseAddress("farming.FeeCollector", c.Farming.FeeCollector); err != nil {
		return farming.Params{}, err
	}
	params.Normalize()
	if err := params.Validate(); err != nil {
		return farming.Params{}, err
	}
	return params, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("config: %s: invalid amount %q", field, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("config: %s: negative amount", field)
	}
	return amount, nil
}

func parseAddress(field, value string) ([20]byte, error) {
	var addr [20]byte
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if value == "" {
		return addr, nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != 20 {
		return addr, fmt.Errorf("config: %s: invalid address %q", field, value)
	}
	copy(addr[:], raw)
	return addr, nil
}
