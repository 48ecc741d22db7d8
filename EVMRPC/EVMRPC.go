package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrNoEndpoints = errors.New("no rpc endpoints configured")
	ErrNoKey       = errors.New("no signing key configured")
	ErrReverted    = errors.New("transaction reverted")
)

type Config struct {
	Name    string
	ChainID int64
	RPCList []string
	// PrivateKey signs outbound transfers, hex without 0x. Optional for read only use.
	PrivateKey string
	// SafetyWindow is the depth after which a log is considered final.
	SafetyWindow int
	// ScanDepth is how many blocks back ListRecentTransfers looks.
	ScanDepth int
	// BlockBatch caps the block range of a single eth_getLogs call.
	BlockBatch int
	// ReceiptPoll is the interval between receipt lookups.
	ReceiptPoll time.Duration
	// Tokens restricts the log scan to these token contracts. Empty scans every contract.
	Tokens []string
}

// Client talks to one EVM chain through an ordered list of RPC endpoints.
type Client struct {
	cfg     *Config
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	// nonce fetch and broadcast must not interleave between callers sharing the key
	sendMu sync.Mutex
}

func NewClient(cfg *Config) (*Client, error) {
	if len(cfg.RPCList) == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrNoEndpoints)
	}
	if cfg.BlockBatch <= 0 {
		cfg.BlockBatch = 1000
	}
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = 200
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 3 * time.Second
	}

	c := &Client{cfg: cfg, chainID: big.NewInt(cfg.ChainID)}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s: invalid private key: %w", cfg.Name, err)
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) Name() string {
	return c.cfg.Name
}

// Address is the account derived from the signing key.
func (c *Client) Address() common.Address {
	return c.address
}

// WithClient runs f against each endpoint in turn until one succeeds.
func WithClient[T any](ctx context.Context, c *Client, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	err = ErrNoEndpoints
	for _, url := range c.cfg.RPCList {
		var client *ethclient.Client
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			logger.WithField("chain", c.cfg.Name).Warnf("error connecting to %s: %v", url, err)
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.WithField("chain", c.cfg.Name).Debugf("call on %s failed: %v", url, err)
	}
	return
}
