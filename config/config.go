package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"givepool/crypto"

	"github.com/BurntSushi/toml"
)

// YieldSplit mirrors the engine's split triple for TOML round-tripping.
type YieldSplit struct {
	CauseBps    uint32 `toml:"CauseBps"`
	StakerBps   uint32 `toml:"StakerBps"`
	PlatformBps uint32 `toml:"PlatformBps"`
}

// FundraiserSeed declares a fundraiser record the daemon registers on startup
// when it is not already present in the state database.
type FundraiserSeed struct {
	ID          string `toml:"ID"`
	Beneficiary string `toml:"Beneficiary"`
	PoolID      string `toml:"PoolID"`
}

type Config struct {
	RPCAddress           string           `toml:"RPCAddress"`
	MetricsAddress       string           `toml:"MetricsAddress"`
	DataDir              string           `toml:"DataDir"`
	PoolID               string           `toml:"PoolID"`
	BridgeCaller         string           `toml:"BridgeCaller"`
	TreasuryAddress      string           `toml:"TreasuryAddress"`
	ModuleAddress        string           `toml:"ModuleAddress"`
	YieldReserveAddress  string           `toml:"YieldReserveAddress"`
	DefaultSplit         YieldSplit       `toml:"DefaultSplit"`
	AllowLegacyDonations bool             `toml:"AllowLegacyDonations"`
	Fundraisers          []FundraiserSeed `toml:"Fundraisers"`

	AuthSecret   string `toml:"AuthSecret"`
	AuthIssuer   string `toml:"AuthIssuer"`
	AuthAudience string `toml:"AuthAudience"`

	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./givepool-data"
	}
	if strings.TrimSpace(cfg.PoolID) == "" {
		cfg.PoolID = "default"
	}
	if cfg.DefaultSplit == (YieldSplit{}) {
		cfg.DefaultSplit = YieldSplit{CauseBps: 7_900, StakerBps: 1_900, PlatformBps: 200}
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 25
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups <= 0 {
		cfg.LogMaxBackups = 3
	}
}

// Validate rejects configurations the daemon cannot safely start with.
func (cfg *Config) Validate() error {
	sum := uint64(cfg.DefaultSplit.CauseBps) + uint64(cfg.DefaultSplit.StakerBps) + uint64(cfg.DefaultSplit.PlatformBps)
	if sum != 10_000 {
		return fmt.Errorf("DefaultSplit must sum to 10000 basis points, got %d", sum)
	}
	for name, addr := range map[string]string{
		"BridgeCaller":        cfg.BridgeCaller,
		"TreasuryAddress":     cfg.TreasuryAddress,
		"ModuleAddress":       cfg.ModuleAddress,
		"YieldReserveAddress": cfg.YieldReserveAddress,
	} {
		if strings.TrimSpace(addr) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("%s %q: %w", name, addr, err)
		}
	}
	for i, seed := range cfg.Fundraisers {
		if strings.TrimSpace(seed.ID) == "" {
			return fmt.Errorf("Fundraisers[%d]: ID required", i)
		}
		if _, err := crypto.DecodeAddress(strings.TrimSpace(seed.Beneficiary)); err != nil {
			return fmt.Errorf("Fundraisers[%d] Beneficiary %q: %w", i, seed.Beneficiary, err)
		}
	}
	return nil
}

// DecodeAddr decodes a configured bech32 address into the 20-byte form the
// engine works with. Empty input yields the zero address.
func DecodeAddr(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, nil
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress: ":8545",
		DataDir:    "./givepool-data",
		PoolID:     "default",
		DefaultSplit: YieldSplit{
			CauseBps:    7_900,
			StakerBps:   1_900,
			PlatformBps: 200,
		},
		RateLimitPerSecond: 25,
		RateLimitBurst:     50,
		LogMaxSizeMB:       100,
		LogMaxBackups:      3,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
