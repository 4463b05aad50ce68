// Package multicall sends many independent contract calls as one multicall3
// aggregate3 transaction.
package multicall

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"time"

	"swaprelayer/EVMRPC/contracts"
	"swaprelayer/log"
	"swaprelayer/metrics"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// shrink the batch to this percentage of its size whenever it does not fit
const shrinkPercent = 95

type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

type Call struct {
	Target common.Address
	Data   []byte
}

type GasParams struct {
	ChainID  int
	GasLimit uint64
	GasPrice *big.Int // nil means the node suggestion
	Backoff  time.Duration
}

// Result indices point into the calls given to SendBatchedTx. Calls trimmed
// from the batch are in neither set. Batched is 0 and Hash empty when every
// call reverted and no tx was sent.
type Result struct {
	Hash       common.Hash
	Batched    int
	SuccessIdx []int
	FailedIdx  []int
}

type Sender struct {
	backend   Backend
	multicall common.Address
	key       *ecdsa.PrivateKey
	from      common.Address

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSender(backend Backend, multicall common.Address, key *ecdsa.PrivateKey) *Sender {
	return &Sender{
		backend:   backend,
		multicall: multicall,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shrink(n int) int {
	return n * shrinkPercent / 100
}

// SendBatchedTx packs calls into one aggregate3 tx. While the gas estimate exceeds
// the limit the batch is cut to 95% of its length; an empty batch fails with
// *types.BatchExhaustedError.
//
// Without allowFailure one reverting call reverts the whole simulation. The batch is
// then simulated again with allowFailure to find the reverting calls, which are
// dropped from the tx and reported in FailedIdx.
func (s *Sender) SendBatchedTx(ctx context.Context, calls []Call, gas GasParams, allowFailure bool) (*Result, error) {
	live := make([]int, len(calls))
	for i := range live {
		live[i] = i
	}
	var rejected []int

	n := len(live)
	for n > 0 {
		batch := live[:n]
		input, err := contracts.PackAggregate3(toCall3(calls, batch, allowFailure))
		if err != nil {
			return nil, fmt.Errorf("pack aggregate3: %w", err)
		}
		msg := ethereum.CallMsg{From: s.from, To: &s.multicall, Data: input}

		out, err := s.backend.CallContract(ctx, msg)
		if err != nil && !allowFailure {
			reverting, isoErr := s.reverting(ctx, calls, batch)
			if isoErr != nil || len(reverting) == 0 {
				return nil, fmt.Errorf("simulate aggregate3: %w", err)
			}
			log.Warn("[multicall] dropping reverting calls from strict batch", "chainId", gas.ChainID, "calls", n, "reverting", len(reverting))
			rejected = append(rejected, reverting...)
			live = without(batch, reverting)
			n = len(live)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("simulate aggregate3: %w", err)
		}
		results, err := contracts.UnpackAggregate3(out)
		if err != nil {
			return nil, err
		}
		if len(results) != n {
			return nil, &types.DecodeError{What: "aggregate3 result", Reason: fmt.Sprintf("%d results for %d calls", len(results), n)}
		}

		estimate, err := s.backend.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("estimate aggregate3: %w", err)
		}
		if estimate > gas.GasLimit {
			log.Debug("[multicall] batch exceeds gas limit, shrinking", "chainId", gas.ChainID, "calls", n, "estimate", estimate, "gasLimit", gas.GasLimit)
			metrics.MulticallShrink(gas.ChainID)
			if err := s.sleep(ctx, gas.Backoff); err != nil {
				return nil, err
			}
			if n = shrink(n); n == 0 {
				return nil, &types.BatchExhaustedError{ChainID: gas.ChainID, GasLimit: gas.GasLimit, Calls: len(calls), Head: batch[0], Rejected: rejected}
			}
			continue
		}

		hash, err := s.send(ctx, input, estimate, gas)
		if err != nil {
			return nil, err
		}
		res := &Result{Hash: hash, Batched: n, FailedIdx: rejected}
		for i, r := range results {
			if r.Success {
				res.SuccessIdx = append(res.SuccessIdx, batch[i])
			} else {
				res.FailedIdx = append(res.FailedIdx, batch[i])
			}
		}
		sort.Ints(res.FailedIdx)
		return res, nil
	}
	if len(rejected) > 0 {
		// every call reverts, nothing to send
		sort.Ints(rejected)
		return &Result{FailedIdx: rejected}, nil
	}
	return nil, &types.BatchExhaustedError{ChainID: gas.ChainID, GasLimit: gas.GasLimit, Calls: len(calls)}
}

// reverting simulates batch with allowFailure and returns the calls that fail.
func (s *Sender) reverting(ctx context.Context, calls []Call, batch []int) ([]int, error) {
	input, err := contracts.PackAggregate3(toCall3(calls, batch, true))
	if err != nil {
		return nil, err
	}
	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{From: s.from, To: &s.multicall, Data: input})
	if err != nil {
		return nil, err
	}
	results, err := contracts.UnpackAggregate3(out)
	if err != nil {
		return nil, err
	}
	if len(results) != len(batch) {
		return nil, &types.DecodeError{What: "aggregate3 result", Reason: fmt.Sprintf("%d results for %d calls", len(results), len(batch))}
	}
	var failed []int
	for i, r := range results {
		if !r.Success {
			failed = append(failed, batch[i])
		}
	}
	return failed, nil
}

func without(batch, drop []int) []int {
	skip := make(map[int]bool, len(drop))
	for _, i := range drop {
		skip[i] = true
	}
	out := make([]int, 0, len(batch))
	for _, i := range batch {
		if !skip[i] {
			out = append(out, i)
		}
	}
	return out
}

func toCall3(calls []Call, batch []int, allowFailure bool) []contracts.Call3 {
	out := make([]contracts.Call3, len(batch))
	for i, idx := range batch {
		out[i] = contracts.Call3{Target: calls[idx].Target, AllowFailure: allowFailure, CallData: calls[idx].Data}
	}
	return out
}

func (s *Sender) send(ctx context.Context, input []byte, estimate uint64, gas GasParams) (common.Hash, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error getting nonce for wallet: %w", err)
	}
	gasPrice := gas.GasPrice
	if gasPrice == nil {
		if gasPrice, err = s.backend.SuggestGasPrice(ctx); err != nil {
			return common.Hash{}, fmt.Errorf("error getting suggested gas price: %w", err)
		}
	}
	// headroom over the estimate, never above the configured limit
	gasLimit := estimate + estimate/5
	if gasLimit > gas.GasLimit {
		gasLimit = gas.GasLimit
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &s.multicall,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(big.NewInt(int64(gas.ChainID))), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error signing multicall tx: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("error sending multicall tx: %w", err)
	}
	log.Info("[multicall] batched tx sent", "chainId", gas.ChainID, "hash", signed.Hash().Hex(), "nonce", nonce, "gas", gasLimit)
	return signed.Hash(), nil
}
