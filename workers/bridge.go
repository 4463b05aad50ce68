package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/metrics"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type CycleState int

const (
	NoCheckpoint CycleState = iota
	Initialized
	Scanning
	CaughtUp
	CheckingCompletions
	Idle
)

var cycleStateNames = [...]string{"NoCheckpoint", "Initialized", "Scanning", "CaughtUp", "CheckingCompletions", "Idle"}

func (s CycleState) String() string {
	if int(s) < len(cycleStateNames) {
		return cycleStateNames[s]
	}
	return fmt.Sprintf("CycleState(%d)", int(s))
}

type ContinueDispatcher interface {
	EventDispatcher
	Continuer
}

// BridgeService runs one scan cycle of a chain: checkpoint, scan up to head,
// then check the continuations sent to this chain.
type BridgeService struct {
	cfg         *config.Configuration
	clients     Clients
	checkpoints CheckpointStore
	swaps       SwapStore
	events      ContinueDispatcher

	sleep func(ctx context.Context, d time.Duration) error
}

func NewBridgeService(cfg *config.Configuration, clients Clients, checkpoints CheckpointStore, swaps SwapStore, events ContinueDispatcher) *BridgeService {
	return &BridgeService{
		cfg:         cfg,
		clients:     clients,
		checkpoints: checkpoints,
		swaps:       swaps,
		events:      events,
		sleep:       sleepCtx,
	}
}

// RunCycle returns the state the cycle stopped in. A chain without checkpoint is
// seeded to its head and not backfilled.
func (s *BridgeService) RunCycle(ctx context.Context, chainID int) (CycleState, error) {
	ch, ok := s.cfg.Chain(chainID)
	if !ok {
		return NoCheckpoint, fmt.Errorf("chain %d is not configured", chainID)
	}
	client, err := s.clients.Client(chainID)
	if err != nil {
		return NoCheckpoint, err
	}

	checkpoint, found, err := s.checkpoints.Get(ctx, chainID, config.ScanTypeBridge)
	if err != nil {
		return NoCheckpoint, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return NoCheckpoint, fmt.Errorf("get head: %w", err)
	}
	if !found {
		stored, err := s.checkpoints.Set(ctx, chainID, config.ScanTypeBridge, head)
		if err != nil {
			return NoCheckpoint, err
		}
		metrics.SetCheckpoint(chainID, config.ScanTypeBridge, stored)
		log.Worker("bridge", "checkpoint initialized at head", "chain", ch.Name, "block", stored)
		return Initialized, nil
	}

	scanner := NewBlockScanner(ch, client, s.events)
	for checkpoint < head {
		last, err := scanner.HandleNewBlock(ctx, checkpoint, head)
		if err != nil {
			return Scanning, err
		}
		if last <= checkpoint {
			break
		}
		if checkpoint, err = s.checkpoints.Set(ctx, chainID, config.ScanTypeBridge, last); err != nil {
			return Scanning, err
		}
		metrics.SetCheckpoint(chainID, config.ScanTypeBridge, checkpoint)
		log.WorkerDebug("bridge", "checkpoint advanced", "chain", ch.Name, "block", checkpoint, "head", head)
		if checkpoint >= head {
			break
		}
		if err := s.sleep(ctx, ch.ScanDelay); err != nil {
			return Scanning, err
		}
	}
	log.Worker("bridge", "caught up", "chain", ch.Name, "block", checkpoint)

	if err := s.CheckCompletions(ctx, chainID); err != nil {
		return CheckingCompletions, err
	}
	return Idle, nil
}

// CheckCompletions confirms or re-enqueues continuations sent to chainID.
func (s *BridgeService) CheckCompletions(ctx context.Context, chainID int) error {
	client, err := s.clients.Client(chainID)
	if err != nil {
		return err
	}
	cur, err := s.swaps.PendingCompletions(ctx, chainID)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		rec, err := cur.Record()
		if err != nil {
			log.WorkerError("bridge", "bad swap record, skipping", err, "chainId", chainID)
			continue
		}
		if err := s.checkCompletion(ctx, client, rec); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *BridgeService) checkCompletion(ctx context.Context, client ChainClient, rec *types.SwapRecord) error {
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(rec.Status.ContinueTxID))
	if errors.Is(err, ethereum.NotFound) {
		metrics.Completion(client.ChainID(), "pending")
		return nil
	}
	if err != nil {
		return fmt.Errorf("receipt of %s: %w", rec.Status.ContinueTxID, err)
	}

	key := rec.Key()
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		log.WorkerWarn("bridge", "continue tx reverted, enqueueing again", "swapId", rec.SwapID, "tx", rec.Status.ContinueTxID)
		metrics.Completion(client.ChainID(), "reverted")
		if err := s.swaps.ResetContinue(ctx, key); err != nil {
			return err
		}
		rec.Status.ContinueTxID = ""
		return s.events.EnqueueContinue(ctx, rec)
	}

	if err := s.swaps.ConfirmContinue(ctx, key); err != nil {
		return err
	}
	metrics.Completion(client.ChainID(), "confirmed")
	log.Worker("bridge", "swap completed", "swapId", rec.SwapID, "src", rec.Chains.Src, "tx", rec.Status.ContinueTxID)
	return nil
}

// SupervisePerformed re-enqueues performed swaps on chainID that still have no
// continuation, e.g. after a failed batch. It returns the number of swaps enqueued.
func (s *BridgeService) SupervisePerformed(ctx context.Context, chainID int) (int, error) {
	cur, err := s.swaps.AwaitingContinue(ctx, chainID)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	n := 0
	for cur.Next(ctx) {
		rec, err := cur.Record()
		if err != nil {
			log.WorkerError("supervise", "bad swap record, skipping", err, "chainId", chainID)
			continue
		}
		if !rec.AwaitsContinue() {
			continue
		}
		if err := s.events.EnqueueContinue(ctx, rec); err != nil {
			log.WorkerError("supervise", "cannot enqueue continuation", err, "swapId", rec.SwapID)
			continue
		}
		n++
	}
	if n > 0 {
		log.Worker("supervise", "continuations enqueued", "chainId", chainID, "count", n)
	}
	return n, cur.Err()
}
