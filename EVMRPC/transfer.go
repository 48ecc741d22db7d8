package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/types"
)

// Balance returns the native or token balance of address.
func (c *Client) Balance(ctx context.Context, address, asset string) (*big.Int, error) {
	owner := common.HexToAddress(address)
	if IsNative(asset) {
		return WithClient(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
			return client.BalanceAt(ctx, owner, nil)
		})
	}

	data, err := packBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	token := common.HexToAddress(asset)
	out, err := WithClient(ctx, c, func(client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", asset, err)
	}
	return unpackBalance(out)
}

// FeeRate is the node's suggested gas price in wei.
func (c *Client) FeeRate(ctx context.Context) (*big.Int, error) {
	return WithClient(ctx, c, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

// Submit signs and broadcasts a transfer of amount to to. A nil GasPrice or zero
// GasLimit in params is filled from the node.
func (c *Client) Submit(ctx context.Context, to, asset string, amount *big.Int, params types.ExecParams) (string, error) {
	if c.key == nil {
		return "", ErrNoKey
	}

	msg := ethereum.CallMsg{From: c.address}
	recipient := common.HexToAddress(to)
	if IsNative(asset) {
		msg.To = &recipient
		msg.Value = new(big.Int).Set(amount)
	} else {
		data, err := packTransfer(recipient, amount)
		if err != nil {
			return "", fmt.Errorf("ABI pack error: %w", err)
		}
		token := common.HexToAddress(asset)
		msg.To = &token
		msg.Value = new(big.Int)
		msg.Data = data
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, c.address)
	})
	if err != nil {
		return "", fmt.Errorf("error getting nonce for wallet: %w", err)
	}

	gasPrice := params.GasPrice
	if gasPrice == nil {
		suggested, err := c.FeeRate(ctx)
		if err != nil {
			return "", fmt.Errorf("error getting suggested gas price: %w", err)
		}
		gasPrice = new(big.Int).Mul(suggested, big.NewInt(2))
	}
	msg.GasPrice = gasPrice

	gasLimit := params.GasLimit
	if gasLimit == 0 {
		gasLimit, err = WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
			return client.EstimateGas(ctx, msg)
		})
		if err != nil {
			return "", fmt.Errorf("error estimating gas: %w", err)
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       msg.To,
		Value:    msg.Value,
		Data:     msg.Data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	// the same signed tx goes to every endpoint, a node that already has it counts as sent
	_, err = WithClient(ctx, c, func(client *ethclient.Client) (struct{}, error) {
		err := client.SendTransaction(ctx, signed)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.WithFields(logger.Fields{
		"chain":  c.cfg.Name,
		"tx":     signed.Hash().Hex(),
		"to":     to,
		"asset":  asset,
		"amount": amount.String(),
		"nonce":  nonce,
	}).Info("transaction sent")
	return signed.Hash().Hex(), nil
}

// WaitForConfirmation blocks until the transaction is mined with the given number of
// confirmations, it reverts, or ctx is done.
func (c *Client) WaitForConfirmation(ctx context.Context, handle string, confirmations int) error {
	hash := common.HexToHash(handle)
	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		done, err := c.checkConfirmed(ctx, hash, confirmations)
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", handle, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) checkConfirmed(ctx context.Context, hash common.Hash, confirmations int) (bool, error) {
	receipt, err := WithClient(ctx, c, func(client *ethclient.Client) (*ethtypes.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		logger.WithField("chain", c.cfg.Name).Warnf("error getting receipt for %s: %v", hash.Hex(), err)
		return false, nil
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return false, fmt.Errorf("%s: %w", hash.Hex(), ErrReverted)
	}
	if confirmations <= 1 {
		return true, nil
	}

	head, err := WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return false, nil
	}
	return confirmed(receipt.BlockNumber.Uint64(), head, confirmations), nil
}

func confirmed(minedAt, head uint64, confirmations int) bool {
	if head < minedAt {
		return false
	}
	return head-minedAt+1 >= uint64(confirmations)
}

// SubmitTransfer sends a refund with node priced gas.
func (c *Client) SubmitTransfer(ctx context.Context, to, asset string, amount *big.Int) (string, error) {
	return c.Submit(ctx, to, asset, amount, types.ExecParams{})
}

func (c *Client) AwaitReceipt(ctx context.Context, handle string) error {
	return c.WaitForConfirmation(ctx, handle, 1)
}
