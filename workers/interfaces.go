package workers

import (
	"context"
	"math/big"
	"time"

	"swaprelayer/EVMRPC"
	"swaprelayer/multicall"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type Mutex interface {
	RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type CheckpointStore interface {
	Get(ctx context.Context, chainID int, scanType string) (uint64, bool, error)
	// Set never moves a checkpoint back, it returns the stored block
	Set(ctx context.Context, chainID int, scanType string, block uint64) (uint64, error)
}

type SwapStore interface {
	CreateSwap(ctx context.Context, rec *types.SwapRecord) (*types.SwapRecord, error)
	MarkSwapPerformed(ctx context.Context, key types.SwapKey, txID, hgsAmount string) (*types.SwapRecord, error)
	FindSwap(ctx context.Context, key types.SwapKey) (*types.SwapRecord, error)
	SetContinueTx(ctx context.Context, key types.SwapKey, txID string) error
	ConfirmContinue(ctx context.Context, key types.SwapKey) error
	ResetContinue(ctx context.Context, key types.SwapKey) error
	PendingCompletions(ctx context.Context, dstChainID int) (types.SwapCursor, error)
	AwaitingContinue(ctx context.Context, dstChainID int) (types.SwapCursor, error)
}

type TxStore interface {
	FindQueuedByHash(ctx context.Context, securityHash string) (*types.BatchedTx, error)
	Enqueue(ctx context.Context, tx *types.BatchedTx) error
	FindQueued(ctx context.Context, chainID, limit int) ([]*types.BatchedTx, error)
	MarkSent(ctx context.Context, ids []string, hash string) error
	MarkFailed(ctx context.Context, ids []string, hash string) error
}

// ChainClient is the rpc surface of one chain, see EVMRPC.Pool.
type ChainClient interface {
	ChainID() int
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

type Clients interface {
	Client(chainID int) (ChainClient, error)
}

type Assets interface {
	Decimals(ctx context.Context, client EVMRPC.Caller, token common.Address) (uint8, error)
	Symbol(ctx context.Context, client EVMRPC.Caller, token common.Address) (string, error)
}

type BatchSender interface {
	SendBatchedTx(ctx context.Context, calls []multicall.Call, gas multicall.GasParams, allowFailure bool) (*multicall.Result, error)
}

// SenderFactory builds the multicall sender of one chain.
type SenderFactory func(client ChainClient, multicallContract common.Address) BatchSender

type TxQueue interface {
	HandleNewTx(ctx context.Context, tx *types.BatchedTx) error
}

type EventDispatcher interface {
	HandleSwapInitiatedEvent(ctx context.Context, chainID int, l ethtypes.Log) error
	HandleSwapPerformedEvent(ctx context.Context, chainID int, l ethtypes.Log) error
}

type Continuer interface {
	EnqueueContinue(ctx context.Context, rec *types.SwapRecord) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
