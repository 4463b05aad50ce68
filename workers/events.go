package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"swaprelayer/EVMRPC/contracts"
	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// queue priority of swap continuations, producer txs default to 0
const ContinuePriority = 10

// EventHandler turns bridge events into swap records and continuation txs.
type EventHandler struct {
	cfg     *config.Configuration
	clients Clients
	assets  Assets
	swaps   SwapStore
	txs     TxQueue
}

func NewEventHandler(cfg *config.Configuration, clients Clients, assets Assets, swaps SwapStore, txs TxQueue) *EventHandler {
	return &EventHandler{cfg: cfg, clients: clients, assets: assets, swaps: swaps, txs: txs}
}

// HandleSwapInitiatedEvent stores the source side of a swap emitted on chainID.
func (h *EventHandler) HandleSwapInitiatedEvent(ctx context.Context, chainID int, l ethtypes.Log) error {
	src, ok := h.cfg.Chain(chainID)
	if !ok {
		return fmt.Errorf("chain %d is not configured", chainID)
	}
	ev, err := contracts.ParseSwapInitiated(l)
	if err != nil {
		return err
	}
	if len(ev.Payload) == 0 || ev.DstChainId == 0 {
		log.WorkerDebug("events", "swap without payload or destination, ignored", "chain", src.Name, "swapId", ev.SwapID.Hex())
		return nil
	}
	payload, err := types.DecodeSwapPayload(ev.Payload)
	if err != nil {
		return err
	}
	// TODO: logs without a tx hash are dropped, requeue them once providers that omit it are supported
	if l.TxHash == (common.Hash{}) {
		return types.ErrMissingTxHash
	}

	client, err := h.clients.Client(src.ChainID)
	if err != nil {
		return err
	}
	tx, err := client.TransactionByHash(ctx, l.TxHash)
	if err != nil {
		return fmt.Errorf("get swap tx %s: %w", l.TxHash.Hex(), err)
	}
	call, err := contracts.DecodeSwapCall(tx.Data())
	if err != nil {
		return err
	}

	rec := &types.SwapRecord{
		SwapID: ev.SwapID.Hex(),
		Chains: types.SwapChains{
			Src:         src.ChainID,
			SrcBridgeID: src.BridgeID,
			DstBridgeID: ev.DstChainId,
		},
		Path: types.SwapPath{
			LwsPoolID:    payload.LwsPoolID,
			HgsPoolID:    payload.HgsPoolID,
			DstToken:     payload.DstToken.Hex(),
			MinHgsAmount: payload.MinHgsAmount.String(),
			Fee:          tx.Value().String(),
		},
		User: types.SwapUser{
			Receiver:  payload.Receiver.Hex(),
			Signature: hexutil.Encode(payload.Signature),
		},
		Status: types.SwapStatus{
			InitiatedTxID: l.TxHash.Hex(),
		},
		Progress: types.SwapProgress{
			SrcAmount: call.SrcAmount.String(),
			SrcToken:  call.SrcToken.Hex(),
		},
	}
	if ts, err := client.BlockTime(ctx, l.BlockNumber); err == nil {
		rec.Status.InitiatedTimestamp = int64(ts)
	} else {
		log.WorkerWarn("events", "cannot get block time", "chain", src.Name, "block", l.BlockNumber, "err", err)
	}

	dst, ok := h.cfg.ChainByBridgeID(ev.DstChainId)
	switch {
	case !ok:
		log.WorkerWarn("events", "swap to unknown destination, skip processing", "swapId", rec.SwapID, "dstBridgeId", ev.DstChainId)
		rec.SkipProcessing = true
	case call.DstAggregator != common.HexToAddress(dst.AggregatorContract):
		log.WorkerWarn("events", "declared aggregator mismatch, skip processing", "swapId", rec.SwapID,
			"declared", call.DstAggregator.Hex(), "expected", dst.AggregatorContract)
		rec.Chains.Dst = dst.ChainID
		rec.SkipProcessing = true
	default:
		rec.Chains.Dst = dst.ChainID
	}
	h.resolveMetadata(ctx, client, src, dst, payload, call, rec)

	stored, err := h.swaps.CreateSwap(ctx, rec)
	if errors.Is(err, types.ErrItemIsDup) {
		log.WorkerDebug("events", "swap already stored", "swapId", rec.SwapID, "src", src.ChainID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Worker("events", "swap initiated", "swapId", stored.SwapID, "src", stored.Chains.Src, "dst", stored.Chains.Dst, "skip", stored.SkipProcessing)

	// destination event was scanned first
	if stored.AwaitsContinue() {
		return h.EnqueueContinue(ctx, stored)
	}
	return nil
}

// resolveMetadata fills display fields. Lookups are best effort, a missing symbol
// never blocks the swap.
func (h *EventHandler) resolveMetadata(ctx context.Context, srcClient ChainClient, src, dst *config.ChainConfig, payload *types.SwapPayload, call *contracts.SwapCall, rec *types.SwapRecord) {
	p := &rec.Progress
	var err error
	if p.SrcDecimals, err = h.assets.Decimals(ctx, srcClient, call.SrcToken); err != nil {
		log.WorkerWarn("events", "cannot resolve decimals", "token", call.SrcToken.Hex(), "err", err)
	}
	p.SrcSymbol = h.symbol(ctx, srcClient, call.SrcToken)
	if token, ok := src.PoolToken(payload.LwsPoolID); ok {
		p.LwsSymbol = h.symbol(ctx, srcClient, token)
	}
	if dst == nil {
		return
	}
	dstClient, err := h.clients.Client(dst.ChainID)
	if err != nil {
		return
	}
	if token, ok := dst.PoolToken(payload.HgsPoolID); ok {
		p.HgsSymbol = h.symbol(ctx, dstClient, token)
	}
	p.DstSymbol = h.symbol(ctx, dstClient, payload.DstToken)
}

func (h *EventHandler) symbol(ctx context.Context, client ChainClient, token common.Address) string {
	sym, err := h.assets.Symbol(ctx, client, token)
	if err != nil {
		log.WorkerWarn("events", "cannot resolve symbol", "chain", client.ChainID(), "token", token.Hex(), "err", err)
	}
	return sym
}

// HandleSwapPerformedEvent records the destination side of a swap emitted on chainID
// and enqueues its continuation once both sides are known.
func (h *EventHandler) HandleSwapPerformedEvent(ctx context.Context, chainID int, l ethtypes.Log) error {
	ev, err := contracts.ParseSwapPerformed(l)
	if err != nil {
		return err
	}
	if l.TxHash == (common.Hash{}) {
		return types.ErrMissingTxHash
	}
	src, ok := h.cfg.ChainByBridgeID(ev.SrcChainId)
	if !ok {
		return &types.DecodeError{What: "SwapPerformed", Reason: fmt.Sprintf("unknown source bridge id %d", ev.SrcChainId)}
	}

	key := types.SwapKey{SwapID: ev.SwapID.Hex(), SrcChainID: src.ChainID}
	rec, err := h.swaps.MarkSwapPerformed(ctx, key, l.TxHash.Hex(), ev.HgsAmount.String())
	if err != nil {
		return err
	}
	log.Worker("events", "swap performed", "swapId", key.SwapID, "src", key.SrcChainID, "dst", chainID, "tx", l.TxHash.Hex())

	if !rec.Complete() {
		// source side not scanned yet, its handler enqueues the continuation
		return nil
	}
	if rec.Chains.Dst != chainID {
		log.WorkerWarn("events", "swap performed on unexpected chain", "swapId", key.SwapID, "expected", rec.Chains.Dst, "got", chainID)
		return nil
	}
	if !rec.AwaitsContinue() {
		return nil
	}
	return h.EnqueueContinue(ctx, rec)
}

// ContinueSecurityHash is keccak256("continue" | dstChainId | srcChainId | swapId),
// chain ids as 32 byte words.
func ContinueSecurityHash(dstChainID, srcChainID int, swapID common.Hash) common.Hash {
	return crypto.Keccak256Hash(
		[]byte("continue"),
		math.U256Bytes(big.NewInt(int64(dstChainID))),
		math.U256Bytes(big.NewInt(int64(srcChainID))),
		swapID.Bytes(),
	)
}

// EnqueueContinue queues the continueSwap call of rec on its destination aggregator.
// Repeated calls for the same swap collapse onto one queued tx.
func (h *EventHandler) EnqueueContinue(ctx context.Context, rec *types.SwapRecord) error {
	dst, ok := h.cfg.Chain(rec.Chains.Dst)
	if !ok {
		return fmt.Errorf("swap %s: destination chain %d is not configured", rec.SwapID, rec.Chains.Dst)
	}
	minHgs, ok := new(big.Int).SetString(rec.Path.MinHgsAmount, 10)
	if !ok {
		return &types.DecodeError{What: "minHgsAmount", Reason: rec.Path.MinHgsAmount}
	}
	signature, err := hexutil.Decode(rec.User.Signature)
	if err != nil {
		return &types.DecodeError{What: "signature", Reason: err.Error()}
	}
	swapID := common.HexToHash(rec.SwapID)
	data, err := contracts.PackContinueSwap(swapID, rec.Chains.SrcBridgeID,
		common.HexToAddress(rec.Path.DstToken), minHgs, common.HexToAddress(rec.User.Receiver), signature)
	if err != nil {
		return fmt.Errorf("pack continueSwap: %w", err)
	}

	key := rec.Key()
	return h.txs.HandleNewTx(ctx, &types.BatchedTx{
		ChainID:      dst.ChainID,
		Priority:     ContinuePriority,
		Target:       dst.AggregatorContract,
		Data:         hexutil.Encode(data),
		SecurityHash: ContinueSecurityHash(dst.ChainID, rec.Chains.Src, swapID).Hex(),
		Swap:         &key,
	})
}
