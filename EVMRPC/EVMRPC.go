package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"swaprelayer/config"
	"swaprelayer/log"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Pool is the rpc client of one chain. Urls are tried in order starting with the
// last one that answered, connections are dialed lazily and kept for the invocation.
type Pool struct {
	chainID int
	urls    []string
	limiter *rate.Limiter

	mu      sync.Mutex
	clients []*ethclient.Client
	current int
}

func NewPool(chainID int, urls []string, rateLimit float64) *Pool {
	limit := rate.Inf
	burst := 1
	if rateLimit > 0 {
		limit = rate.Limit(rateLimit)
		burst = int(rateLimit)
		if burst < 1 {
			burst = 1
		}
	}
	return &Pool{
		chainID: chainID,
		urls:    urls,
		limiter: rate.NewLimiter(limit, burst),
		clients: make([]*ethclient.Client, len(urls)),
	}
}

func (p *Pool) ChainID() int {
	return p.chainID
}

func (p *Pool) dial(ctx context.Context, i int) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.clients[i]; c != nil {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, p.urls[i])
	if err != nil {
		return nil, err
	}
	p.clients[i] = c
	return c, nil
}

func (p *Pool) start() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pool) markGood(i int) {
	p.mu.Lock()
	p.current = i
	p.mu.Unlock()
}

// definitive answers are returned as is, everything else fails over to the next url
func isFinal(ctx context.Context, err error) bool {
	return err == nil || ctx.Err() != nil || errors.Is(err, ethereum.NotFound)
}

func withClient[T any](ctx context.Context, p *Pool, method string, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(p.urls) == 0 {
		return res, fmt.Errorf("no rpc configured for chain %d", p.chainID)
	}
	first := p.start()
	for n := 0; n < len(p.urls); n++ {
		i := (first + n) % len(p.urls)
		if err = p.limiter.Wait(ctx); err != nil {
			return res, err
		}
		var client *ethclient.Client
		client, err = p.dial(ctx, i)
		if err != nil {
			log.Warn("[rpc] dial failed", "chainId", p.chainID, "url", p.urls[i], "err", err)
			continue
		}
		res, err = f(client)
		if isFinal(ctx, err) {
			if err == nil {
				p.markGood(i)
			}
			return res, err
		}
		log.Warn("[rpc] call failed, trying next url", "chainId", p.chainID, "method", method, "url", p.urls[i], "err", err)
	}
	return res, fmt.Errorf("%s on chain %d: %w", method, p.chainID, err)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.clients {
		if c != nil {
			c.Close()
			p.clients[i] = nil
		}
	}
}

func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	return withClient(ctx, p, "eth_blockNumber", func(c *ethclient.Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

// BlockTime returns the unix timestamp of block number.
func (p *Pool) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	return withClient(ctx, p, "eth_getBlockByNumber", func(c *ethclient.Client) (uint64, error) {
		h, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return 0, err
		}
		return h.Time, nil
	})
}

func (p *Pool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return withClient(ctx, p, "eth_getLogs", func(c *ethclient.Client) ([]ethtypes.Log, error) {
		return c.FilterLogs(ctx, q)
	})
}

func (p *Pool) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	return withClient(ctx, p, "eth_getTransactionByHash", func(c *ethclient.Client) (*ethtypes.Transaction, error) {
		tx, _, err := c.TransactionByHash(ctx, hash)
		return tx, err
	})
}

func (p *Pool) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return withClient(ctx, p, "eth_getTransactionReceipt", func(c *ethclient.Client) (*ethtypes.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

func (p *Pool) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return withClient(ctx, p, "eth_call", func(c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, nil)
	})
}

func (p *Pool) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withClient(ctx, p, "eth_estimateGas", func(c *ethclient.Client) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
}

func (p *Pool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withClient(ctx, p, "eth_getTransactionCount", func(c *ethclient.Client) (uint64, error) {
		return c.PendingNonceAt(ctx, account)
	})
}

func (p *Pool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withClient(ctx, p, "eth_gasPrice", func(c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

// SendTransaction does not fail over: a second node could accept the same signed tx
// after the first one already did and report "already known".
func (p *Pool) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	client, err := p.dial(ctx, p.start())
	if err != nil {
		return fmt.Errorf("eth_sendRawTransaction on chain %d: %w", p.chainID, err)
	}
	return client.SendTransaction(ctx, tx)
}

// Registry holds one Pool per configured chain.
type Registry struct {
	pools map[int]*Pool
}

func NewRegistry(chains []config.ChainConfig) *Registry {
	r := &Registry{pools: make(map[int]*Pool, len(chains))}
	for _, ch := range chains {
		r.pools[ch.ChainID] = NewPool(ch.ChainID, ch.RPCList, ch.RateLimit)
	}
	return r
}

func (r *Registry) Client(chainID int) (*Pool, error) {
	p, ok := r.pools[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}
	return p, nil
}

func (r *Registry) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}
