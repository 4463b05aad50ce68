package workers

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strconv"
	"sync"

	"swaprelayer/EVMRPC"
	"swaprelayer/config"
	"swaprelayer/multicall"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	srcChain = 1
	dstChain = 56

	srcBridgeID = 101
	dstBridgeID = 102
)

var (
	srcBridge     = "0x1000000000000000000000000000000000000001"
	srcAggregator = "0x1000000000000000000000000000000000000002"
	dstBridge     = "0x5600000000000000000000000000000000000001"
	dstAggregator = "0x5600000000000000000000000000000000000002"
)

func testConfig() *config.Configuration {
	cfg := &config.Configuration{}
	cfg.Chains = []config.ChainConfig{
		{
			Name: "eth", ChainID: srcChain, BridgeID: srcBridgeID,
			BridgeContract: srcBridge, AggregatorContract: srcAggregator,
			MulticallContract: "0xcA11bde05977b3631167028862bE2a173976CA11",
			Pools:             map[uint16]string{1: "0x1000000000000000000000000000000000000aaa"},
			MaxScanBlock:      2000, GasLimit: 1_000_000, MaxBatch: 10, AllowFailure: true,
		},
		{
			Name: "bsc", ChainID: dstChain, BridgeID: dstBridgeID,
			BridgeContract: dstBridge, AggregatorContract: dstAggregator,
			MulticallContract: "0xcA11bde05977b3631167028862bE2a173976CA11",
			Pools:             map[uint16]string{2: "0x5600000000000000000000000000000000000bbb"},
			MaxScanBlock:      2000, GasLimit: 1_000_000, MaxBatch: 10, AllowFailure: true,
		},
	}
	return cfg
}

type fakeChain struct {
	mu       sync.Mutex
	chainID  int
	head     uint64
	logs     []ethtypes.Log
	txs      map[common.Hash]*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	queries  []ethereum.FilterQuery
	logsErr  error
}

func newFakeChain(chainID int, head uint64) *fakeChain {
	return &fakeChain{
		chainID:  chainID,
		head:     head,
		txs:      map[common.Hash]*ethtypes.Transaction{},
		receipts: map[common.Hash]*ethtypes.Receipt{},
	}
}

func (c *fakeChain) ChainID() int { return c.chainID }

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return c.head, nil }

func (c *fakeChain) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number, nil
}

func (c *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if c.logsErr != nil {
		return nil, c.logsErr
	}
	var out []ethtypes.Log
	for _, l := range c.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (c *fakeChain) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	if tx, ok := c.txs[hash]; ok {
		return tx, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (c *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("not supported")
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *fakeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error { return nil }

type fakeClients map[int]*fakeChain

func (f fakeClients) Client(chainID int) (ChainClient, error) {
	c, ok := f[chainID]
	if !ok {
		return nil, errors.New("chain " + strconv.Itoa(chainID) + " is not configured")
	}
	return c, nil
}

type fakeAssets struct{}

func (fakeAssets) Decimals(ctx context.Context, client EVMRPC.Caller, token common.Address) (uint8, error) {
	return 18, nil
}

func (fakeAssets) Symbol(ctx context.Context, client EVMRPC.Caller, token common.Address) (string, error) {
	return "T" + strconv.Itoa(client.ChainID()), nil
}

// memSwaps mirrors the upsert semantics of mongodb.SwapStore.
type memSwaps struct {
	mu   sync.Mutex
	recs map[types.SwapKey]*types.SwapRecord
}

func newMemSwaps() *memSwaps {
	return &memSwaps{recs: map[types.SwapKey]*types.SwapRecord{}}
}

func (m *memSwaps) CreateSwap(ctx context.Context, rec *types.SwapRecord) (*types.SwapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.recs[rec.Key()]
	if ok && existing.Complete() {
		return nil, types.ErrItemIsDup
	}
	stored := *rec
	if ok {
		stored.Path.HgsAmount = existing.Path.HgsAmount
		stored.Status.PerformedTxID = existing.Status.PerformedTxID
	}
	m.recs[rec.Key()] = &stored
	out := stored
	return &out, nil
}

func (m *memSwaps) MarkSwapPerformed(ctx context.Context, key types.SwapKey, txID, hgsAmount string) (*types.SwapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		rec = &types.SwapRecord{SwapID: key.SwapID, Chains: types.SwapChains{Src: key.SrcChainID}}
		m.recs[key] = rec
	}
	rec.Status.PerformedTxID = txID
	rec.Path.HgsAmount = hgsAmount
	out := *rec
	return &out, nil
}

func (m *memSwaps) get(key types.SwapKey) *types.SwapRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

func (m *memSwaps) FindSwap(ctx context.Context, key types.SwapKey) (*types.SwapRecord, error) {
	if rec := m.get(key); rec != nil {
		return rec, nil
	}
	return nil, types.ErrSwapNotFound
}

func (m *memSwaps) update(key types.SwapKey, f func(*types.SwapRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return types.ErrSwapNotFound
	}
	f(rec)
	return nil
}

func (m *memSwaps) SetContinueTx(ctx context.Context, key types.SwapKey, txID string) error {
	return m.update(key, func(r *types.SwapRecord) { r.Status.ContinueTxID = txID; r.Status.ContinueConfirmed = false })
}

func (m *memSwaps) ConfirmContinue(ctx context.Context, key types.SwapKey) error {
	return m.update(key, func(r *types.SwapRecord) { r.Status.ContinueConfirmed = true })
}

func (m *memSwaps) ResetContinue(ctx context.Context, key types.SwapKey) error {
	return m.update(key, func(r *types.SwapRecord) { r.Status.ContinueTxID = ""; r.Status.ContinueConfirmed = false })
}

func (m *memSwaps) filter(f func(*types.SwapRecord) bool) types.SwapCursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.SwapRecord
	for _, r := range m.recs {
		if f(r) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SwapID < out[j].SwapID })
	return &sliceCursor{recs: out, pos: -1}
}

func (m *memSwaps) PendingCompletions(ctx context.Context, dstChainID int) (types.SwapCursor, error) {
	return m.filter(func(r *types.SwapRecord) bool {
		return r.Chains.Dst == dstChainID && r.Status.ContinueTxID != "" && !r.Status.ContinueConfirmed && !r.Status.Hidden
	}), nil
}

func (m *memSwaps) AwaitingContinue(ctx context.Context, dstChainID int) (types.SwapCursor, error) {
	return m.filter(func(r *types.SwapRecord) bool {
		return r.Chains.Dst == dstChainID && r.Status.PerformedTxID != "" && r.Status.ContinueTxID == ""
	}), nil
}

type sliceCursor struct {
	recs []*types.SwapRecord
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.recs)
}

func (c *sliceCursor) Record() (*types.SwapRecord, error) { return c.recs[c.pos], nil }
func (c *sliceCursor) Err() error                         { return nil }
func (c *sliceCursor) Close(ctx context.Context) error    { return nil }

// memTxs enforces one queued entry per security hash like the partial unique index.
type memTxs struct {
	mu  sync.Mutex
	txs []*types.BatchedTx
	seq int
}

func (m *memTxs) FindQueuedByHash(ctx context.Context, securityHash string) (*types.BatchedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.SecurityHash == securityHash && tx.Status.State == types.TxQueued {
			return tx, nil
		}
	}
	return nil, nil
}

func (m *memTxs) Enqueue(ctx context.Context, tx *types.BatchedTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txs {
		if t.SecurityHash == tx.SecurityHash && t.Status.State == types.TxQueued {
			return types.ErrItemIsDup
		}
	}
	m.seq++
	tx.ID = "tx" + strconv.Itoa(m.seq)
	tx.Status = types.BatchedTxStatus{State: types.TxQueued}
	tx.CreatedAt = int64(m.seq)
	m.txs = append(m.txs, tx)
	return nil
}

func (m *memTxs) FindQueued(ctx context.Context, chainID, limit int) ([]*types.BatchedTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.BatchedTx
	for _, tx := range m.txs {
		if tx.ChainID == chainID && tx.Status.State == types.TxQueued {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTxs) mark(ids []string, status types.BatchedTxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for _, tx := range m.txs {
			if tx.ID == id && tx.Status.State == types.TxQueued {
				tx.Status = status
			}
		}
	}
}

func (m *memTxs) MarkSent(ctx context.Context, ids []string, hash string) error {
	m.mark(ids, types.BatchedTxStatus{State: types.TxSent, Hash: hash})
	return nil
}

func (m *memTxs) MarkFailed(ctx context.Context, ids []string, hash string) error {
	m.mark(ids, types.BatchedTxStatus{State: types.TxFailed, Hash: hash})
	return nil
}

func (m *memTxs) byState(state types.BatchedTxState) []*types.BatchedTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.BatchedTx
	for _, tx := range m.txs {
		if tx.Status.State == state {
			out = append(out, tx)
		}
	}
	return out
}

type memMutex struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memMutex) RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		m.mu.Unlock()
		return &types.LockHeldError{Key: key}
	}
	m.held[key] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}()
	return fn(ctx)
}

type memCheckpoints struct {
	blocks map[string]uint64
}

func (m *memCheckpoints) key(chainID int, scanType string) string {
	return strconv.Itoa(chainID) + ":" + scanType
}

func (m *memCheckpoints) Get(ctx context.Context, chainID int, scanType string) (uint64, bool, error) {
	b, ok := m.blocks[m.key(chainID, scanType)]
	return b, ok, nil
}

func (m *memCheckpoints) Set(ctx context.Context, chainID int, scanType string, block uint64) (uint64, error) {
	if m.blocks == nil {
		m.blocks = map[string]uint64{}
	}
	k := m.key(chainID, scanType)
	if block > m.blocks[k] {
		m.blocks[k] = block
	}
	return m.blocks[k], nil
}

// fakeSender reports the calls listed in failing as failed and sends the rest.
// A set result is returned as is.
type fakeSender struct {
	failing map[int]bool
	hash    common.Hash
	err     error
	result  *multicall.Result
	calls   [][]multicall.Call
	gas     []multicall.GasParams
}

func (f *fakeSender) SendBatchedTx(ctx context.Context, calls []multicall.Call, gas multicall.GasParams, allowFailure bool) (*multicall.Result, error) {
	f.calls = append(f.calls, calls)
	f.gas = append(f.gas, gas)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	res := &multicall.Result{Hash: f.hash, Batched: len(calls)}
	for i := range calls {
		if f.failing[i] {
			res.FailedIdx = append(res.FailedIdx, i)
		} else {
			res.SuccessIdx = append(res.SuccessIdx, i)
		}
	}
	return res, nil
}

func (f *fakeSender) factory() SenderFactory {
	return func(client ChainClient, multicallContract common.Address) BatchSender { return f }
}
