package config

import "time"

type Configuration struct {
	// Server config
	Server struct {
		HTTPListen    string        `yaml:"http_listen" envconfig:"HTTP_LISTEN"`
		RedisHost     string        `yaml:"redis_host" envconfig:"REDIS_HOST"`
		RedisPort     int           `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisPassword string        `yaml:"redis_pass" envconfig:"REDIS_PASS"`
		RedisTimeout  time.Duration `yaml:"redis_timeout" envconfig:"REDIS_TIMEOUT"`
		MongoURI      string        `yaml:"mongo_uri" envconfig:"MONGO_URI"`
		MongoDatabase string        `yaml:"mongo_database" envconfig:"MONGO_DATABASE"`
		// size of the in-process cache tier in MB, 0 disables it
		LocalCacheMB int `yaml:"local_cache_mb" envconfig:"LOCAL_CACHE_MB"`
	} `yaml:"server"`
	// outbound tx queue
	Kafka struct {
		Brokers []string `yaml:"brokers" envconfig:"BROKERS"`
		Topic   string   `yaml:"topic" envconfig:"TOPIC"`
		GroupID string   `yaml:"group_id" envconfig:"GROUP_ID"`
	} `yaml:"kafka"`
	// relayer EOA, signs multicall transactions on every chain
	EVM struct {
		PublicAddress string `yaml:"address" envconfig:"ADDRESS"`
		PrivateKey    string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
	} `yaml:"EVM"`
	Cache struct {
		DefaultTTL       time.Duration `yaml:"default_ttl"`
		NeverExpireTTL   time.Duration `yaml:"never_expire_ttl"`
		ProlongThreshold time.Duration `yaml:"prolong_threshold"`
		LocalTTL         time.Duration `yaml:"local_ttl"`
	} `yaml:"cache"`
	Mutex struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"mutex"`
	Chains []ChainConfig `yaml:"chains" ignored:"true"`
}

// env overrides are read with this prefix, e.g. RELAYER_EVM_PRIVATE_KEY
const EnvPrefix = "RELAYER"

// scan type of the bridge checkpoint
const ScanTypeBridge = "bridge"

const (
	DefaultMaxScanBlock  = 2000
	DefaultScanDelay     = time.Second
	DefaultShrinkBackoff = time.Second
	DefaultMaxBatch      = 100
	DefaultGasLimit      = 10_000_000

	DefaultCacheTTL         = 10 * time.Minute
	DefaultNeverExpireTTL   = 30 * 24 * time.Hour
	DefaultProlongThreshold = 7 * 24 * time.Hour
	DefaultLocalCacheTTL    = time.Minute
	DefaultMutexTTL         = 30 * time.Second
)

// EVM-chains configs
type ChainConfig struct {
	Name    string   `yaml:"name"`
	ChainID int      `yaml:"chain_id"`
	RPCList []string `yaml:"rpc"`
	// requests per second over all rpc urls, 0 means unlimited
	RateLimit float64 `yaml:"rate_limit"`
	// id of the chain inside the bridge protocol, carried in swap events
	BridgeID uint16 `yaml:"bridge_id"`

	BridgeContract     string `yaml:"bridge_contract"`     // emits SwapInitiated, source side
	AggregatorContract string `yaml:"aggregator_contract"` // emits SwapPerformed, destination side
	MulticallContract  string `yaml:"multicall_contract"`

	// pool id -> pool token address
	Pools map[uint16]string `yaml:"pools"`

	// provider log query limit, lower for rate-limited providers
	MaxScanBlock uint64        `yaml:"max_scan_block"`
	ScanDelay    time.Duration `yaml:"scan_delay"`

	GasLimit      uint64        `yaml:"gas_limit"`
	GasPrice      string        `yaml:"gas_price"` // wei, empty means suggested
	ShrinkBackoff time.Duration `yaml:"shrink_backoff"`
	MaxBatch      int           `yaml:"max_batch"`
	AllowFailure  bool          `yaml:"allow_failure"`
}

func (c *Configuration) Chain(chainID int) (*ChainConfig, bool) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chainID {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

func (c *Configuration) ChainByBridgeID(bridgeID uint16) (*ChainConfig, bool) {
	for i := range c.Chains {
		if c.Chains[i].BridgeID == bridgeID {
			return &c.Chains[i], true
		}
	}
	return nil, false
}

func (c *Configuration) RedisAddr() string {
	return redisAddr(c.Server.RedisHost, c.Server.RedisPort)
}
