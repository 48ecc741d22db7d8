package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"

	"gorelaybridge/fee"
	"gorelaybridge/types"
)

var ErrInvalid = errors.New("invalid configuration")

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	env.apply(cfg)
	return nil
}

func (env *Env) apply(cfg *Configuration) {
	if env.Listen != "" {
		cfg.Server.Listen = env.Listen
	}
	if env.RedisHost != "" {
		cfg.Server.RedisHost = env.RedisHost
	}
	if env.RedisPort != 0 {
		cfg.Server.RedisPort = env.RedisPort
	}
	if env.RedisPassword != "" {
		cfg.Server.RedisPassword = env.RedisPassword
	}
	if env.LogMode != "" {
		cfg.Server.LogMode = env.LogMode
	}
	for name, key := range env.ChainKeys {
		if ch, ok := cfg.Chains[name]; ok {
			ch.PrivateKey = key
		}
	}
	for name, url := range env.SignerURLs {
		if ch, ok := cfg.Chains[name]; ok {
			ch.SignerURL = url
		}
	}
	for _, d := range cfg.Directions {
		d.DenyList = append(d.DenyList, env.DenyList...)
	}
}

// Load reads the YAML file at path, applies environment overrides and validates the result.
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
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "localhost"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Server.LogMode == "" {
		c.Server.LogMode = "production"
	}
	for _, d := range c.Directions {
		if d.Ordering == "" {
			d.Ordering = string(types.OrderingTimestamp)
		}
		if d.Mode == "" {
			d.Mode = ModePoll
		}
		if d.GasPriceMultiplier == 0 {
			d.GasPriceMultiplier = 2
		}
		if d.Fee.SafetyMultiplier == "" {
			d.Fee.SafetyMultiplier = "2"
		}
	}
}

// ValidAddress accepts a 0x hex address in any case.
func ValidAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return ethav.Validate(common.HexToAddress(address).Hex()) == nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Configuration) Validate() error {
	if len(c.Directions) == 0 {
		return invalid("no directions configured")
	}
	for name, ch := range c.Chains {
		if err := ch.validate(name); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(c.Directions))
	for _, d := range c.Directions {
		if d.Name == "" {
			return invalid("direction without name")
		}
		if _, dup := seen[d.Name]; dup {
			return invalid("duplicate direction %s", d.Name)
		}
		seen[d.Name] = struct{}{}

		if err := d.validate(c.Chains); err != nil {
			return err
		}
	}
	return nil
}

func (ch *ChainConfig) validate(name string) error {
	switch ch.Type {
	case ChainEVM:
		if len(ch.RPCList) == 0 {
			return invalid("chain %s: no rpc endpoints", name)
		}
		if ch.ChainID <= 0 {
			return invalid("chain %s: chain_id required", name)
		}
		for _, t := range ch.Tokens {
			if !ValidAddress(t) {
				return invalid("chain %s: bad token address %q", name, t)
			}
		}
	case ChainZkSync:
		if ch.RESTURL == "" || ch.RPCURL == "" {
			return invalid("chain %s: rest_url and rpc_url required", name)
		}
		if ch.Account != "" && !ValidAddress(ch.Account) {
			return invalid("chain %s: bad account %q", name, ch.Account)
		}
	case ChainMock:
	default:
		return invalid("chain %s: unknown type %q", name, ch.Type)
	}
	return nil
}

func (d *DirectionConfig) validate(chains map[string]*ChainConfig) error {
	src, ok := chains[d.Source]
	if !ok {
		return invalid("direction %s: unknown source chain %q", d.Name, d.Source)
	}
	if _, ok := chains[d.Destination]; !ok {
		return invalid("direction %s: unknown destination chain %q", d.Name, d.Destination)
	}

	switch types.Ordering(d.Ordering) {
	case types.OrderingTimestamp, types.OrderingLog:
	default:
		return invalid("direction %s: unknown ordering %q", d.Name, d.Ordering)
	}
	switch d.Mode {
	case ModePoll:
	case ModeSubscribe:
		if src.Type != ChainEVM && src.Type != ChainMock {
			return invalid("direction %s: %s chains cannot be subscribed to", d.Name, src.Type)
		}
	default:
		return invalid("direction %s: unknown mode %q", d.Name, d.Mode)
	}

	if !ValidAddress(d.BridgeAddress) {
		return invalid("direction %s: bad bridge address %q", d.Name, d.BridgeAddress)
	}
	if !ValidAddress(d.FloatAddress) {
		return invalid("direction %s: bad float address %q", d.Name, d.FloatAddress)
	}
	for _, a := range d.DenyList {
		if !ValidAddress(strings.TrimSpace(a)) {
			return invalid("direction %s: bad deny list address %q", d.Name, a)
		}
	}

	if len(d.Assets) == 0 {
		return invalid("direction %s: no supported assets", d.Name)
	}
	if _, err := d.SupportedAssets(); err != nil {
		return err
	}
	if _, err := d.FeeParams(); err != nil {
		return err
	}

	if d.Sweep != nil {
		if !ValidAddress(d.Sweep.Target) {
			return invalid("direction %s: bad sweep target %q", d.Name, d.Sweep.Target)
		}
		if _, err := d.SweepThreshold(); err != nil {
			return err
		}
	}
	return nil
}

// SupportedAssets converts the asset table.
func (d *DirectionConfig) SupportedAssets() ([]types.SupportedAsset, error) {
	out := make([]types.SupportedAsset, 0, len(d.Assets))
	for _, a := range d.Assets {
		if a.Source == "" || a.Destination == "" {
			return nil, invalid("direction %s: asset needs source and destination", d.Name)
		}
		price := decimal.NewFromInt(1)
		if a.PriceRatio != "" {
			p, err := decimal.NewFromString(a.PriceRatio)
			if err != nil {
				return nil, invalid("direction %s: bad price ratio %q: %v", d.Name, a.PriceRatio, err)
			}
			if !p.IsPositive() {
				return nil, invalid("direction %s: price ratio must be positive", d.Name)
			}
			price = p
		}
		out = append(out, types.SupportedAsset{
			SourceAsset: a.Source,
			DestAsset:   a.Destination,
			Decimals:    a.Decimals,
			Symbol:      a.Symbol,
			PriceRatio:  price,
		})
	}
	return out, nil
}

func (d *DirectionConfig) FeeParams() (fee.Params, error) {
	mult, err := decimal.NewFromString(d.Fee.SafetyMultiplier)
	if err != nil {
		return fee.Params{}, invalid("direction %s: bad safety multiplier %q", d.Name, d.Fee.SafetyMultiplier)
	}
	p := fee.Params{
		GasEstimate:      d.Fee.GasEstimate,
		SafetyMultiplier: mult,
		FeeDecimals:      d.Fee.FeeDecimals,
	}
	if _, err := fee.NewCalculator(p); err != nil {
		return fee.Params{}, invalid("direction %s: %v", d.Name, err)
	}
	return p, nil
}

func (d *DirectionConfig) SweepThreshold() (*big.Int, error) {
	if d.Sweep == nil || d.Sweep.Threshold == "" {
		return new(big.Int), nil
	}
	t, ok := new(big.Int).SetString(d.Sweep.Threshold, 10)
	if !ok || t.Sign() < 0 {
		return nil, invalid("direction %s: bad sweep threshold %q", d.Name, d.Sweep.Threshold)
	}
	return t, nil
}
