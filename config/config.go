package config

import (
	"time"
)

type ChainType string

const (
	ChainEVM    ChainType = "evm"
	ChainZkSync ChainType = "zksync"
	ChainMock   ChainType = "mock"
)

type Mode string

const (
	ModePoll      Mode = "poll"
	ModeSubscribe Mode = "subscribe"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen        string `yaml:"listen"`
		UseSSL        bool   `yaml:"ssl"`
		RedisPort     int    `yaml:"redis_port"`
		RedisHost     string `yaml:"redis_host"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		// LogMode is one of debug, info, production
		LogMode string `yaml:"log_mode"`
		LogDir  string `yaml:"log_dir"`
	} `yaml:"server"`

	Chains     map[string]*ChainConfig `yaml:"chains"`
	Directions []*DirectionConfig      `yaml:"directions"`
}

// ChainConfig describes one ledger and how to reach it.
type ChainConfig struct {
	Type ChainType `yaml:"type"`

	// evm
	ChainID      int64         `yaml:"chain_id"`
	RPCList      []string      `yaml:"rpc"`
	SafetyWindow int           `yaml:"safety_window"` // as logs go in another thread, make some room
	ScanDepth    int           `yaml:"scan_depth"`
	BlockBatch   int           `yaml:"block_batch"`
	Tokens       []string      `yaml:"tokens"`
	ReceiptPoll  time.Duration `yaml:"receipt_poll"`

	// zksync
	RESTURL   string            `yaml:"rest_url"`
	RPCURL    string            `yaml:"rpc_url"`
	SignerURL string            `yaml:"signer_url"`
	Account   string            `yaml:"account"`
	FeeToken  string            `yaml:"fee_token"`
	TokenIDs  map[string]string `yaml:"token_ids"`

	// important private stuff, normally from the environment
	PrivateKey string `yaml:"private_key"`
}

type AssetConfig struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Decimals    int32  `yaml:"decimals"`
	Symbol      string `yaml:"symbol"`
	// PriceRatio is destination asset units per fee asset unit, as a decimal string
	PriceRatio string `yaml:"price_ratio"`
}

type FeeConfig struct {
	GasEstimate      uint64 `yaml:"gas_estimate"`
	SafetyMultiplier string `yaml:"safety_multiplier"`
	FeeDecimals      int32  `yaml:"fee_decimals"`
}

type SweepConfig struct {
	Target    string `yaml:"target"`
	Asset     string `yaml:"asset"`
	Threshold string `yaml:"threshold"`
	GasLimit  uint64 `yaml:"gas_limit"`
}

// DirectionConfig is one independent bridge direction.
type DirectionConfig struct {
	Name        string `yaml:"name"`
	Ordering    string `yaml:"ordering"`
	Mode        Mode   `yaml:"mode"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`

	BridgeAddress string `yaml:"bridge_address"`
	FloatAddress  string `yaml:"float_address"`

	PageLimit           int           `yaml:"page_limit"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	DrainInterval       time.Duration `yaml:"drain_interval"`
	Confirmations       int           `yaml:"confirmations"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	StalenessWindow     time.Duration `yaml:"staleness_window"`

	DenyList           []string      `yaml:"deny_list"`
	GasLimit           uint64        `yaml:"gas_limit"`
	GasPriceMultiplier int64         `yaml:"gas_price_multiplier"`
	Assets             []AssetConfig `yaml:"assets"`
	Fee                FeeConfig     `yaml:"fee"`
	Sweep              *SweepConfig  `yaml:"sweep"`
}

// Env holds the overrides read from BRIDGE_* environment variables.
type Env struct {
	Listen        string `envconfig:"LISTEN"`
	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPort     int    `envconfig:"REDIS_PORT"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	LogMode       string `envconfig:"LOG_MODE"`
	// ChainKeys is chain:hexkey,chain:hexkey
	ChainKeys  map[string]string `envconfig:"CHAIN_KEYS"`
	SignerURLs map[string]string `envconfig:"SIGNER_URLS"`
	// DenyList is appended to every direction's deny list
	DenyList []string `envconfig:"DENY_LIST"`
}

const EnvPrefix = "BRIDGE"

// Direction returns the direction named name, or nil.
func (c *Configuration) Direction(name string) *DirectionConfig {
	for _, d := range c.Directions {
		if d.Name == name {
			return d
		}
	}
	return nil
}
