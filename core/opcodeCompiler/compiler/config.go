package compiler

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cassc/mau-ityfuzz/params"
)

// EnvConfig holds the stand-in values of environment opcodes. They are baked
// into the kernel at compile time.
type EnvConfig struct {
	Address     common.Address
	Origin      common.Address
	Timestamp   uint64
	Number      uint64
	SelfBalance uint64
	GasPrice    uint64
	ChainID     uint64
	BaseFee     uint64
	Difficulty  uint64
	GasLimit    uint64
}

// Config controls one kernel compilation.
type Config struct {
	// GasLimit is the per-context budget checked by the gas meter.
	GasLimit uint64
	// GasPerInst is charged for each lowered instruction of a block.
	GasPerInst uint64
	// Threads is the number of execution contexts sharing __bitmaps.
	Threads int
	// Sanitizers is the enabled oracle set, e.g. "ibsan,resan". Empty disables all.
	Sanitizers string
	Coverage   bool
	// Seed drives the edge labels of the coverage pass.
	Seed int64
	Env  EnvConfig
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		GasLimit:   params.GasLimitMax,
		GasPerInst: params.GasPerInst,
		Threads:    params.NJobs,
		Sanitizers: "ibsan,resan,tosan,scsan,bdsan,mesan,ucsan",
		Coverage:   true,
		Seed:       1,
		Env: EnvConfig{
			Address:     common.HexToAddress("0x0000000000000000000000000000000000abcdef"),
			Origin:      common.HexToAddress("0x0000000000000000000000000000000000012345"),
			Timestamp:   1700000000,
			Number:      18000000,
			SelfBalance: 1 << 40,
			GasPrice:    100,
			ChainID:     1,
			BaseFee:     65535,
			Difficulty:  10000000,
			GasLimit:    params.GasLimitMax,
		},
	}
}

// Validate rejects configurations no kernel can be built from.
func (c *Config) Validate() error {
	if c.Threads <= 0 {
		return fmt.Errorf("thread count must be positive, have %d", c.Threads)
	}
	if c.GasPerInst == 0 {
		return fmt.Errorf("gas per instruction must be positive")
	}
	return nil
}

// SanitizerList returns the enabled oracle names.
func (c *Config) SanitizerList() []string {
	var out []string
	for _, s := range strings.Split(c.Sanitizers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fingerprint identifies the configuration inside kernel cache keys.
func (c *Config) fingerprint() common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%+v", *c)))
}
