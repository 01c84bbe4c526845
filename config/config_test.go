package config

import (
	"os"
	"path/filepath"
	"testing"

	"givepool/crypto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address().String()
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("default RPCAddress: %q", cfg.RPCAddress)
	}
	if cfg.PoolID != "default" {
		t.Fatalf("default PoolID: %q", cfg.PoolID)
	}
	if got := cfg.DefaultSplit; got.CauseBps != 7_900 || got.StakerBps != 1_900 || got.PlatformBps != 200 {
		t.Fatalf("default split: %+v", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// Reloading the written file must round-trip cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadValidatesSplitSum(t *testing.T) {
	path := writeConfig(t, `
RPCAddress = ":8545"

[DefaultSplit]
CauseBps = 8000
StakerBps = 1900
PlatformBps = 200
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid split sum to fail")
	}
}

func TestLoadValidatesBridgeAddress(t *testing.T) {
	path := writeConfig(t, `
BridgeCaller = "not-a-bech32-address"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid bridge address to fail")
	}
}

func TestLoadAcceptsValidAddresses(t *testing.T) {
	addr := testAddress(t)
	path := writeConfig(t, `
BridgeCaller = "`+addr+`"
TreasuryAddress = "`+addr+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	decoded, err := DecodeAddr(cfg.BridgeCaller)
	if err != nil {
		t.Fatalf("decode bridge caller: %v", err)
	}
	if decoded == ([20]byte{}) {
		t.Fatalf("bridge caller decoded to zero address")
	}
}

func TestDecodeAddrEmptyIsZero(t *testing.T) {
	decoded, err := DecodeAddr("  ")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if decoded != ([20]byte{}) {
		t.Fatalf("empty input should decode to the zero address")
	}
}

func TestLoadParsesFundraiserSeeds(t *testing.T) {
	beneficiary := testAddress(t)
	reserve := testAddress(t)
	path := writeConfig(t, `
PoolID = "default"
YieldReserveAddress = "`+reserve+`"

[[Fundraisers]]
ID = "clean-water"
Beneficiary = "`+beneficiary+`"
PoolID = "default"

[[Fundraisers]]
ID = "tree-planting"
Beneficiary = "`+beneficiary+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.YieldReserveAddress != reserve {
		t.Fatalf("yield reserve: %q", cfg.YieldReserveAddress)
	}
	if len(cfg.Fundraisers) != 2 {
		t.Fatalf("fundraisers: %+v", cfg.Fundraisers)
	}
	if cfg.Fundraisers[0].ID != "clean-water" || cfg.Fundraisers[0].Beneficiary != beneficiary {
		t.Fatalf("first seed: %+v", cfg.Fundraisers[0])
	}
	if cfg.Fundraisers[1].PoolID != "" {
		t.Fatalf("second seed pool: %q", cfg.Fundraisers[1].PoolID)
	}
}

func TestLoadRejectsInvalidFundraiserSeed(t *testing.T) {
	path := writeConfig(t, `
[[Fundraisers]]
ID = "clean-water"
Beneficiary = "not-an-address"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid beneficiary accepted")
	}

	path = writeConfig(t, `
[[Fundraisers]]
ID = ""
Beneficiary = "`+testAddress(t)+`"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("empty fundraiser id accepted")
	}
}
