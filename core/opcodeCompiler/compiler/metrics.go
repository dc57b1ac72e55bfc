package compiler

import "github.com/ethereum/go-ethereum/metrics"

var (
	kernelsCompiledCounter = metrics.NewRegisteredCounter("compiler/kernels", nil)
	kernelCacheHitCounter  = metrics.NewRegisteredCounter("compiler/cache/hit", nil)
	blocksDecodedCounter   = metrics.NewRegisteredCounter("compiler/blocks", nil)
	invalidJumpCounter     = metrics.NewRegisteredCounter("compiler/jumps/invalid", nil)
	dynamicKernelCounter   = metrics.NewRegisteredCounter("compiler/jumps/dynamic", nil)
	compileTimer           = metrics.NewRegisteredTimer("compiler/time", nil)
)
