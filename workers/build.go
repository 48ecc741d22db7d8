package workers

import (
	"fmt"

	logger "github.com/sirupsen/logrus"

	"gorelaybridge/EVMRPC"
	"gorelaybridge/ZKSRPC"
	"gorelaybridge/checkpoint"
	"gorelaybridge/config"
	"gorelaybridge/fee"
	"gorelaybridge/journal"
	"gorelaybridge/mock"
	"gorelaybridge/relay"
	"gorelaybridge/settlement"
	"gorelaybridge/sweep"
	"gorelaybridge/triage"
	"gorelaybridge/types"
)

// Build wires every configured direction. One client is created per chain so a chain
// that is source of one direction and destination of another shares its signer.
func Build(cfg *config.Configuration, kv checkpoint.KV, j journal.Journal) (*Bridge, error) {
	b := &Bridge{
		chains:  make(map[string]Chain, len(cfg.Chains)),
		journal: j,
	}
	for name, cc := range cfg.Chains {
		c, err := newChain(name, cc)
		if err != nil {
			return nil, err
		}
		b.chains[name] = c
	}

	for _, dc := range cfg.Directions {
		d, err := buildDirection(dc, b.chains, kv, j)
		if err != nil {
			return nil, fmt.Errorf("direction %s: %w", dc.Name, err)
		}
		b.directions = append(b.directions, d)
	}
	return b, nil
}

func newChain(name string, cc *config.ChainConfig) (Chain, error) {
	switch cc.Type {
	case config.ChainEVM:
		return EVMRPC.NewClient(&EVMRPC.Config{
			Name:         name,
			ChainID:      cc.ChainID,
			RPCList:      cc.RPCList,
			PrivateKey:   cc.PrivateKey,
			SafetyWindow: cc.SafetyWindow,
			ScanDepth:    cc.ScanDepth,
			BlockBatch:   cc.BlockBatch,
			ReceiptPoll:  cc.ReceiptPoll,
			Tokens:       cc.Tokens,
		})
	case config.ChainZkSync:
		return ZKSRPC.NewClient(&ZKSRPC.Config{
			Name:        name,
			RESTURL:     cc.RESTURL,
			RPCURL:      cc.RPCURL,
			SignerURL:   cc.SignerURL,
			Account:     cc.Account,
			FeeToken:    cc.FeeToken,
			Tokens:      cc.TokenIDs,
			ReceiptPoll: cc.ReceiptPoll,
		}), nil
	case config.ChainMock:
		logger.WithField("chain", name).Warn("using in-memory mock ledger")
		return mock.NewLedger(), nil
	}
	return nil, fmt.Errorf("chain %s: unsupported type %q", name, cc.Type)
}

func buildDirection(dc *config.DirectionConfig, chains map[string]Chain, kv checkpoint.KV, j journal.Journal) (*Direction, error) {
	src, ok := chains[dc.Source]
	if !ok {
		return nil, fmt.Errorf("unknown source chain %q", dc.Source)
	}
	dst, ok := chains[dc.Destination]
	if !ok {
		return nil, fmt.Errorf("unknown destination chain %q", dc.Destination)
	}

	assets, err := dc.SupportedAssets()
	if err != nil {
		return nil, err
	}
	params, err := dc.FeeParams()
	if err != nil {
		return nil, err
	}
	fees, err := fee.NewCalculator(params)
	if err != nil {
		return nil, err
	}

	cp := checkpoint.New(kv, dc.Name, types.Ordering(dc.Ordering))
	queue := settlement.NewQueue()

	tri := triage.New(&triage.Config{
		BridgeAddress:      dc.BridgeAddress,
		FloatAddress:       dc.FloatAddress,
		DenyList:           dc.DenyList,
		Assets:             assets,
		GasLimit:           dc.GasLimit,
		GasPriceMultiplier: dc.GasPriceMultiplier,
	}, cp, dst, dst, fees, queue)

	rel := relay.New(&relay.Config{
		Direction:       dc.Name,
		BridgeAddress:   dc.BridgeAddress,
		PageLimit:       dc.PageLimit,
		PollInterval:    dc.PollInterval,
		StalenessWindow: dc.StalenessWindow,
	}, src, tri, cp, queue, j)

	// a nil *sweep.Sweeper must not reach the settler as a non-nil interface
	var sweeper settlement.Sweeper
	if dc.Sweep != nil {
		threshold, err := dc.SweepThreshold()
		if err != nil {
			return nil, err
		}
		asset := dc.Sweep.Asset
		if asset == "" {
			asset = assets[0].DestAsset
		}
		sw, err := sweep.New(&sweep.Config{
			Direction:     dc.Name,
			FloatAddress:  dc.FloatAddress,
			Target:        dc.Sweep.Target,
			Asset:         asset,
			Threshold:     threshold,
			Confirmations: dc.Confirmations,
			GasLimit:      dc.Sweep.GasLimit,
		}, dst, queue)
		if err != nil {
			return nil, err
		}
		sweeper = sw
	}

	settler := settlement.New(&settlement.Config{
		Direction:           dc.Name,
		DrainInterval:       dc.DrainInterval,
		Confirmations:       dc.Confirmations,
		ConfirmationTimeout: dc.ConfirmationTimeout,
	}, queue, dst, cp, j, sweeper)

	d := &Direction{
		Name:       dc.Name,
		Checkpoint: cp,
		Queue:      queue,
		cfg:        dc,
		relay:      rel,
		settler:    settler,
		dest:       dst,
		assets:     assets,
		state:      StateIdle,
	}

	if dc.Mode == config.ModeSubscribe {
		sub, ok := src.(relay.Subscriber)
		if !ok {
			return nil, fmt.Errorf("source chain %q does not support subscriptions", dc.Source)
		}
		d.subscriber = sub
	}
	return d, nil
}
