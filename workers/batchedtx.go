package workers

import (
	"context"
	"errors"
	"fmt"

	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/metrics"
	"swaprelayer/multicall"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func BatchedTxLockKey(chainID int) string {
	return fmt.Sprintf("batched-tx:%d", chainID)
}

// BatchedTxService owns the outbound tx queue of every chain.
type BatchedTxService struct {
	cfg       *config.Configuration
	clients   Clients
	mutex     Mutex
	txs       TxStore
	swaps     SwapStore
	newSender SenderFactory
}

func NewBatchedTxService(cfg *config.Configuration, clients Clients, mutex Mutex, txs TxStore, swaps SwapStore, newSender SenderFactory) *BatchedTxService {
	return &BatchedTxService{cfg: cfg, clients: clients, mutex: mutex, txs: txs, swaps: swaps, newSender: newSender}
}

// HandleNewTx queues tx unless a queued tx with the same security hash exists.
func (s *BatchedTxService) HandleNewTx(ctx context.Context, tx *types.BatchedTx) error {
	existing, err := s.txs.FindQueuedByHash(ctx, tx.SecurityHash)
	if err != nil {
		return err
	}
	if existing != nil {
		log.WorkerDebug("batchedtx", "tx already queued", "securityHash", tx.SecurityHash, "id", existing.ID)
		return nil
	}
	err = s.txs.Enqueue(ctx, tx)
	if errors.Is(err, types.ErrItemIsDup) {
		// lost the race against a concurrent producer
		return nil
	}
	if err != nil {
		return err
	}
	log.Worker("batchedtx", "tx queued", "chainId", tx.ChainID, "id", tx.ID, "securityHash", tx.SecurityHash)
	return nil
}

// SendBatchedTx drains up to max_batch queued txs of chainID into one multicall.
// A concurrent sender on the same chain makes it fail with *types.LockHeldError.
func (s *BatchedTxService) SendBatchedTx(ctx context.Context, chainID int) error {
	ch, ok := s.cfg.Chain(chainID)
	if !ok {
		return fmt.Errorf("chain %d is not configured", chainID)
	}
	return s.mutex.RunExclusive(ctx, BatchedTxLockKey(chainID), func(ctx context.Context) error {
		return s.sendBatch(ctx, ch)
	})
}

func (s *BatchedTxService) sendBatch(ctx context.Context, ch *config.ChainConfig) error {
	queued, err := s.txs.FindQueued(ctx, ch.ChainID, ch.MaxBatch)
	if err != nil {
		return err
	}
	if len(queued) == 0 {
		log.WorkerDebug("batchedtx", "nothing queued", "chain", ch.Name)
		return nil
	}

	var (
		batch     []*types.BatchedTx
		calls     []multicall.Call
		malformed []string
	)
	for _, tx := range queued {
		data, err := hexutil.Decode(tx.Data)
		if err != nil || !common.IsHexAddress(tx.Target) {
			log.WorkerWarn("batchedtx", "malformed tx, marking failed", "id", tx.ID, "target", tx.Target)
			malformed = append(malformed, tx.ID)
			continue
		}
		batch = append(batch, tx)
		calls = append(calls, multicall.Call{Target: common.HexToAddress(tx.Target), Data: data})
	}
	if err := s.txs.MarkFailed(ctx, malformed, ""); err != nil {
		return err
	}
	metrics.BatchedTxs(ch.ChainID, "malformed", len(malformed))
	if len(batch) == 0 {
		return nil
	}

	client, err := s.clients.Client(ch.ChainID)
	if err != nil {
		return err
	}
	sender := s.newSender(client, common.HexToAddress(ch.MulticallContract))
	res, err := sender.SendBatchedTx(ctx, calls, multicall.GasParams{
		ChainID:  ch.ChainID,
		GasLimit: ch.GasLimit,
		GasPrice: ch.GasPriceWei(),
		Backoff:  ch.ShrinkBackoff,
	}, ch.AllowFailure)
	var exhausted *types.BatchExhaustedError
	if errors.As(err, &exhausted) {
		// the head call alone exceeds the limit, fail it so the rest of the queue can move
		head := batch[exhausted.Head]
		log.WorkerError("batchedtx", "call exceeds gas limit alone, marking failed", err, "id", head.ID)
		drop := append(ids(pick(batch, exhausted.Rejected)), head.ID)
		if markErr := s.txs.MarkFailed(ctx, drop, ""); markErr != nil {
			return errors.Join(err, markErr)
		}
		metrics.BatchedTxs(ch.ChainID, "exhausted", 1)
		metrics.BatchedTxs(ch.ChainID, "failed", len(exhausted.Rejected))
		return err
	}
	if err != nil {
		return err
	}

	// no tx is sent when every call reverted in simulation
	var hash string
	if res.Batched > 0 {
		hash = res.Hash.Hex()
	}
	sent := pick(batch, res.SuccessIdx)
	failed := pick(batch, res.FailedIdx)
	if err := s.txs.MarkSent(ctx, ids(sent), hash); err != nil {
		return err
	}
	if err := s.txs.MarkFailed(ctx, ids(failed), hash); err != nil {
		return err
	}
	metrics.BatchedTxs(ch.ChainID, "sent", len(sent))
	metrics.BatchedTxs(ch.ChainID, "failed", len(failed))
	log.Worker("batchedtx", "batch sent", "chain", ch.Name, "hash", hash,
		"queued", len(queued), "batched", res.Batched, "sent", len(sent), "failed", len(failed))

	for _, tx := range sent {
		if tx.Swap == nil {
			continue
		}
		if err := s.swaps.SetContinueTx(ctx, *tx.Swap, hash); err != nil {
			return fmt.Errorf("record continue tx of swap %s: %w", tx.Swap, err)
		}
	}
	return nil
}

func pick(txs []*types.BatchedTx, idx []int) []*types.BatchedTx {
	out := make([]*types.BatchedTx, 0, len(idx))
	for _, i := range idx {
		out = append(out, txs[i])
	}
	return out
}

func ids(txs []*types.BatchedTx) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}
