package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process(EnvPrefix, cfg)
}

// Load reads the yaml file, applies env overrides, fills defaults and validates.
func Load(path string) (*Configuration, error) {
	cfg := &Configuration{}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) setDefaults() {
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "127.0.0.1"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Server.HTTPListen == "" {
		c.Server.HTTPListen = ":8080"
	}
	if c.Server.MongoDatabase == "" {
		c.Server.MongoDatabase = "relayer"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = DefaultCacheTTL
	}
	if c.Cache.NeverExpireTTL == 0 {
		c.Cache.NeverExpireTTL = DefaultNeverExpireTTL
	}
	if c.Cache.ProlongThreshold == 0 {
		c.Cache.ProlongThreshold = DefaultProlongThreshold
	}
	if c.Cache.LocalTTL == 0 {
		c.Cache.LocalTTL = DefaultLocalCacheTTL
	}
	if c.Mutex.TTL == 0 {
		c.Mutex.TTL = DefaultMutexTTL
	}
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Name == "" {
			ch.Name = strconv.Itoa(ch.ChainID)
		}
		if ch.MaxScanBlock == 0 {
			ch.MaxScanBlock = DefaultMaxScanBlock
		}
		if ch.ScanDelay == 0 {
			ch.ScanDelay = DefaultScanDelay
		}
		if ch.ShrinkBackoff == 0 {
			ch.ShrinkBackoff = DefaultShrinkBackoff
		}
		if ch.MaxBatch == 0 {
			ch.MaxBatch = DefaultMaxBatch
		}
		if ch.GasLimit == 0 {
			ch.GasLimit = DefaultGasLimit
		}
	}
}

func (c *Configuration) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("no chains configured")
	}
	if c.Cache.ProlongThreshold >= c.Cache.NeverExpireTTL {
		return errors.New("cache prolong threshold must be below never expire ttl")
	}
	chainIDs := make(map[int]bool)
	bridgeIDs := make(map[uint16]bool)
	for _, ch := range c.Chains {
		if ch.ChainID <= 0 {
			return fmt.Errorf("chain %s: invalid chain id %d", ch.Name, ch.ChainID)
		}
		if chainIDs[ch.ChainID] {
			return fmt.Errorf("chain %s: duplicate chain id %d", ch.Name, ch.ChainID)
		}
		chainIDs[ch.ChainID] = true
		if bridgeIDs[ch.BridgeID] {
			return fmt.Errorf("chain %s: duplicate bridge id %d", ch.Name, ch.BridgeID)
		}
		bridgeIDs[ch.BridgeID] = true
		if len(ch.RPCList) == 0 {
			return fmt.Errorf("chain %s: empty rpc list", ch.Name)
		}
		for field, addr := range map[string]string{
			"bridge_contract":     ch.BridgeContract,
			"aggregator_contract": ch.AggregatorContract,
			"multicall_contract":  ch.MulticallContract,
		} {
			if err := validateAddress(addr); err != nil {
				return fmt.Errorf("chain %s: %s: %w", ch.Name, field, err)
			}
		}
		for id, addr := range ch.Pools {
			if err := validateAddress(addr); err != nil {
				return fmt.Errorf("chain %s: pool %d: %w", ch.Name, id, err)
			}
		}
		if ch.GasPrice != "" {
			if _, ok := new(big.Int).SetString(ch.GasPrice, 10); !ok {
				return fmt.Errorf("chain %s: invalid gas price %q", ch.Name, ch.GasPrice)
			}
		}
	}
	return nil
}

func validateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}
	return ethav.Validate(common.HexToAddress(addr).Hex())
}

func redisAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// GasPriceWei returns the configured gas price, nil when the node suggestion should be used.
func (ch *ChainConfig) GasPriceWei() *big.Int {
	if ch.GasPrice == "" {
		return nil
	}
	v, _ := new(big.Int).SetString(ch.GasPrice, 10)
	return v
}

func (ch *ChainConfig) PoolToken(poolID uint16) (common.Address, bool) {
	addr, ok := ch.Pools[poolID]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}
