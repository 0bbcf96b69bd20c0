// Package genesis loads the chain's genesis configuration (§6 "Genesis
// configuration") from a YAML file via viper, mirroring
// pkg/config.Load's env-overlay merge pattern, then canonically
// re-encodes and hashes it to produce the Genesis Hash embedded in block
// 0.
package genesis

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/solacechain/node/core"
)

// rawBalance is the YAML shape of one (address, amount) genesis
// allocation; Amount is authored as a decimal string (core.ParseAmountDecimal).
type rawBalance struct {
	Address string `mapstructure:"address"`
	Amount  string `mapstructure:"amount"`
}

// rawGenesis is the YAML shape of the genesis file, field names matching
// §6's genesis configuration list exactly.
type rawGenesis struct {
	ChainID            string       `mapstructure:"chain_id"`
	GenesisTimestamp   int64        `mapstructure:"genesis_timestamp"`
	SlotDurationSec    int64        `mapstructure:"slot_duration_seconds"`
	InitialValidators  []string     `mapstructure:"initial_validators"`
	InitialBalances    []rawBalance `mapstructure:"initial_balances"`
	RewardInitial      string       `mapstructure:"reward_initial"`
	RewardHalvingEvery uint64       `mapstructure:"reward_halving_every"`
	MaxTxPerBlock      int          `mapstructure:"max_tx_per_block"`
	MaxBlockBytes      int          `mapstructure:"max_block_bytes"`
	MaxReorgDepth      uint64       `mapstructure:"max_reorg_depth"`
	MempoolCapacity    int          `mapstructure:"mempool_capacity"`
	FeeMinimum         string       `mapstructure:"fee_minimum"`
	SkewToleranceSec   int64        `mapstructure:"skew_tolerance_seconds"`
}

// Load reads path (a YAML file) and converts it into a core.GenesisConfig,
// validating every field §6 requires to be present and well-formed.
func Load(path string) (core.GenesisConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return core.GenesisConfig{}, fmt.Errorf("genesis: read %s: %w", path, err)
	}

	var raw rawGenesis
	if err := v.Unmarshal(&raw); err != nil {
		return core.GenesisConfig{}, fmt.Errorf("genesis: unmarshal %s: %w", path, err)
	}

	return fromRaw(raw)
}

func fromRaw(raw rawGenesis) (core.GenesisConfig, error) {
	if raw.ChainID == "" {
		return core.GenesisConfig{}, fmt.Errorf("genesis: chain_id is required")
	}
	if raw.SlotDurationSec <= 0 {
		return core.GenesisConfig{}, fmt.Errorf("genesis: slot_duration_seconds must be positive")
	}
	if len(raw.InitialValidators) == 0 {
		return core.GenesisConfig{}, fmt.Errorf("genesis: initial_validators must not be empty")
	}

	validators := make([]core.Address, len(raw.InitialValidators))
	for i, s := range raw.InitialValidators {
		a, err := core.AddressFromHex(s)
		if err != nil {
			return core.GenesisConfig{}, fmt.Errorf("genesis: validator %d: %w", i, err)
		}
		validators[i] = a
	}

	balances := make(map[core.Address]core.Amount, len(raw.InitialBalances))
	for i, b := range raw.InitialBalances {
		a, err := core.AddressFromHex(b.Address)
		if err != nil {
			return core.GenesisConfig{}, fmt.Errorf("genesis: balance %d address: %w", i, err)
		}
		amt, err := core.ParseAmountDecimal(b.Amount)
		if err != nil {
			return core.GenesisConfig{}, fmt.Errorf("genesis: balance %d amount: %w", i, err)
		}
		balances[a] = amt
	}

	rewardInitial, err := core.ParseAmountDecimal(defaultStr(raw.RewardInitial, "0"))
	if err != nil {
		return core.GenesisConfig{}, fmt.Errorf("genesis: reward_initial: %w", err)
	}
	feeMinimum, err := core.ParseAmountDecimal(defaultStr(raw.FeeMinimum, "0"))
	if err != nil {
		return core.GenesisConfig{}, fmt.Errorf("genesis: fee_minimum: %w", err)
	}

	return core.GenesisConfig{
		ChainID:            raw.ChainID,
		GenesisTimestamp:   raw.GenesisTimestamp,
		SlotDuration:       raw.SlotDurationSec,
		InitialValidators:  validators,
		InitialBalances:    balances,
		RewardInitial:      rewardInitial,
		RewardHalvingEvery: raw.RewardHalvingEvery,
		MaxTxPerBlock:      raw.MaxTxPerBlock,
		MaxBlockBytes:      raw.MaxBlockBytes,
		MaxReorgDepth:      raw.MaxReorgDepth,
		MempoolCapacity:    raw.MempoolCapacity,
		FeeMinimum:         feeMinimum,
		SkewTolerance:      raw.SkewToleranceSec,
	}, nil
}

func defaultStr(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Hash canonically re-encodes cfg and hashes it with Blake3, producing the
// Genesis Hash that is embedded in block 0 (§6).
func Hash(cfg core.GenesisConfig) core.Hash {
	return core.HashBytes(core.EncodeGenesisConfig(cfg))
}

// BuildGenesisBlock constructs block 0: an empty-body block whose header
// commits to the Genesis Hash via its previous-block-hash field (there is
// no true predecessor, so the genesis hash fills that slot by convention)
// and whose Merkle root is the empty-transaction-set root.
func BuildGenesisBlock(cfg core.GenesisConfig) *core.Block {
	header := core.BlockHeader{
		Height:            0,
		Slot:              0,
		Timestamp:         cfg.GenesisTimestamp,
		PreviousBlockHash: Hash(cfg),
		MerkleRoot:        core.ComputeMerkleRoot(nil),
	}
	return &core.Block{Header: header}
}
