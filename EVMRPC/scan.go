package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"gorelaybridge/types"
)

var ErrNoSubscription = errors.New("no endpoint accepted the log subscription")

// Head is the latest block, as a position before any log in the next block.
func (c *Client) Head(ctx context.Context) (types.Position, error) {
	head, err := WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return types.Position{}, err
	}
	return types.Position{Block: head}, nil
}

func (c *Client) transferQuery(address string) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Topics: [][]common.Hash{
			{common.HexToHash(TransferTopic)},
			nil,
			{common.BytesToHash(common.HexToAddress(address).Bytes())},
		},
	}
	for _, t := range c.cfg.Tokens {
		q.Addresses = append(q.Addresses, common.HexToAddress(t))
	}
	return q
}

// ListRecentTransfers scans the last ScanDepth blocks for token transfers to address
// and returns up to limit of them, newest first.
func (c *Client) ListRecentTransfers(ctx context.Context, address string, limit int) ([]*types.ObservedTransfer, error) {
	head, err := WithClient(ctx, c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("error getting last block: %w", err)
	}

	from := uint64(0)
	if head > uint64(c.cfg.ScanDepth) {
		from = head - uint64(c.cfg.ScanDepth) + 1
	}

	logs := make([]ethtypes.Log, 0)
	for start := from; start <= head; start += uint64(c.cfg.BlockBatch) {
		end := start + uint64(c.cfg.BlockBatch) - 1
		if end > head {
			end = head
		}
		logger.WithField("chain", c.cfg.Name).Debugf("scanning blocks from %d to %d", start, end)

		q := c.transferQuery(address)
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)
		batch, err := WithClient(ctx, c, func(client *ethclient.Client) ([]ethtypes.Log, error) {
			return client.FilterLogs(ctx, q)
		})
		if err != nil {
			return nil, fmt.Errorf("error querying logs: %w", err)
		}
		logs = append(logs, batch...)
	}

	return newestFirst(logs, head, c.cfg.SafetyWindow, limit), nil
}

func newestFirst(logs []ethtypes.Log, head uint64, safety, limit int) []*types.ObservedTransfer {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber == logs[j].BlockNumber {
			return logs[i].Index > logs[j].Index
		}
		return logs[i].BlockNumber > logs[j].BlockNumber
	})

	out := make([]*types.ObservedTransfer, 0, len(logs))
	for _, l := range logs {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, TransferFromLog(l, head, safety))
	}
	return out
}

// TransferFromLog converts an ERC-20 Transfer log. Logs less than safety blocks deep
// are reported pending; a safety of zero treats every mined log as committed.
func TransferFromLog(l ethtypes.Log, head uint64, safety int) *types.ObservedTransfer {
	tr := &types.ObservedTransfer{
		ID:         fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index),
		Kind:       types.KindOther,
		Asset:      l.Address.Hex(),
		Amount:     new(big.Int),
		Status:     types.StatusCommitted,
		ObservedAt: types.Position{Block: l.BlockNumber, LogIndex: l.Index},
		Raw:        l,
	}

	if len(l.Topics) == 3 && l.Topics[0] == common.HexToHash(TransferTopic) && len(l.Data) >= 32 {
		tr.Kind = types.KindTransfer
		tr.Sender = common.BytesToAddress(l.Topics[1].Bytes()).Hex()
		tr.Receiver = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		tr.Amount.SetBytes(l.Data[:32])
	}

	switch {
	case l.Removed:
		tr.Status = types.StatusRejected
	case safety > 0 && !confirmed(l.BlockNumber, head, safety):
		tr.Status = types.StatusPending
	case safety > 0:
		tr.Status = types.StatusFinalized
	}
	return tr
}

// Subscribe streams transfers to address as they are mined. It uses the first
// endpoint that accepts a log subscription (a websocket URL).
func (c *Client) Subscribe(ctx context.Context, address string, out chan<- *types.ObservedTransfer) error {
	q := c.transferQuery(address)
	for _, url := range c.cfg.RPCList {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			logger.WithField("chain", c.cfg.Name).Warnf("error connecting to %s: %v", url, err)
			continue
		}

		logs := make(chan ethtypes.Log)
		sub, err := client.SubscribeFilterLogs(ctx, q, logs)
		if err != nil {
			client.Close()
			logger.WithField("chain", c.cfg.Name).Debugf("subscription on %s refused: %v", url, err)
			continue
		}
		logger.WithField("chain", c.cfg.Name).Infof("subscribed to transfers to %s on %s", address, url)

		err = forward(ctx, sub, logs, out)
		sub.Unsubscribe()
		client.Close()
		return err
	}
	return ErrNoSubscription
}

func forward(ctx context.Context, sub ethereum.Subscription, logs <-chan ethtypes.Log, out chan<- *types.ObservedTransfer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = ErrNoSubscription
			}
			return err
		case l := <-logs:
			if l.Removed {
				continue
			}
			select {
			case out <- TransferFromLog(l, l.BlockNumber, 0):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
