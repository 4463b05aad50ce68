package workers

import (
	"context"
	"fmt"
	"math/big"

	"swaprelayer/EVMRPC/contracts"
	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	eventSwapInitiated = "SwapInitiated"
	eventSwapPerformed = "SwapPerformed"
)

// BlockScanner walks one chain in windows of at most MaxScanBlock blocks.
// SwapInitiated is only accepted from the bridge, SwapPerformed only from the aggregator.
type BlockScanner struct {
	chain      *config.ChainConfig
	client     ChainClient
	events     EventDispatcher
	bridge     common.Address
	aggregator common.Address
}

func NewBlockScanner(chain *config.ChainConfig, client ChainClient, events EventDispatcher) *BlockScanner {
	return &BlockScanner{
		chain:      chain,
		client:     client,
		events:     events,
		bridge:     common.HexToAddress(chain.BridgeContract),
		aggregator: common.HexToAddress(chain.AggregatorContract),
	}
}

// ScanWindow clamps [from, to] to the provider log query limit.
func ScanWindow(from, to, maxScanBlock uint64) uint64 {
	if to > from+maxScanBlock {
		return from + maxScanBlock
	}
	return to
}

// HandleNewBlock scans [from, to] clamped to from+MaxScanBlock and returns the last
// block handled. Event handler failures are logged and skipped, a failed log query
// aborts the step so the checkpoint stays where it was.
func (s *BlockScanner) HandleNewBlock(ctx context.Context, from, to uint64) (uint64, error) {
	if to < from {
		return from, nil
	}
	to = ScanWindow(from, to, s.chain.MaxScanBlock)

	log.WorkerDebug("scanner", "scanning blocks", "chain", s.chain.Name, "from", from, "to", to)
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.bridge, s.aggregator},
		Topics: [][]common.Hash{{contracts.SwapInitiatedEvent.ID, contracts.SwapPerformedEvent.ID}},
	})
	if err != nil {
		return from, fmt.Errorf("query logs %d-%d: %w", from, to, err)
	}

	for _, l := range logs {
		if l.Removed || len(l.Topics) == 0 {
			continue
		}
		s.dispatch(ctx, l)
	}
	return to, nil
}

func (s *BlockScanner) dispatch(ctx context.Context, l ethtypes.Log) {
	var (
		event string
		err   error
	)
	topic := l.Topics[0]
	switch {
	case topic == contracts.SwapInitiatedEvent.ID && l.Address == s.bridge:
		event = eventSwapInitiated
		err = s.events.HandleSwapInitiatedEvent(ctx, s.chain.ChainID, l)
	case topic == contracts.SwapPerformedEvent.ID && l.Address == s.aggregator:
		event = eventSwapPerformed
		err = s.events.HandleSwapPerformedEvent(ctx, s.chain.ChainID, l)
	default:
		log.WorkerDebug("scanner", "log from unexpected emitter, skipped",
			"chain", s.chain.Name, "address", l.Address.Hex(), "topic", topic.Hex(), "tx", l.TxHash.Hex())
		return
	}
	if err != nil {
		log.WorkerError("scanner", "event handler failed, skipping", err,
			"chain", s.chain.Name, "event", event, "tx", l.TxHash.Hex(), "block", l.BlockNumber, "index", l.Index)
		metrics.EventFailed(s.chain.ChainID, event)
		return
	}
	metrics.EventHandled(s.chain.ChainID, event)
}
