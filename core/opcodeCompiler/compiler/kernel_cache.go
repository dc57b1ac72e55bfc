package compiler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/crypto"
)

// KernelCache holds compiled kernels keyed by input code and configuration.
// It is safe for concurrent use.
type KernelCache struct {
	cache *lru.Cache[common.Hash, *Kernel]
}

const kernelCacheCap = 256

// NewKernelCache returns a cache holding at most capacity kernels.
func NewKernelCache(capacity int) *KernelCache {
	return &KernelCache{cache: lru.NewCache[common.Hash, *Kernel](capacity)}
}

// DefaultKernelCache is shared by callers that do not manage their own cache.
var DefaultKernelCache = NewKernelCache(kernelCacheCap)

func kernelKey(code []byte, cfg *Config) common.Hash {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	fp := cfg.fingerprint()
	return crypto.Keccak256Hash(crypto.Keccak256(code), fp[:])
}

// Store records k under the code and configuration it was built from.
func (c *KernelCache) Store(code []byte, cfg *Config, k *Kernel) {
	if k == nil {
		return
	}
	c.cache.Add(kernelKey(code, cfg), k)
}

// Load returns the cached kernel, or nil.
func (c *KernelCache) Load(code []byte, cfg *Config) *Kernel {
	if k, ok := c.cache.Get(kernelKey(code, cfg)); ok {
		kernelCacheHitCounter.Inc(1)
		return k
	}
	return nil
}

// Len returns the number of cached kernels.
func (c *KernelCache) Len() int { return c.cache.Len() }
