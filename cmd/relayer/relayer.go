package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"swaprelayer/EVMRPC"
	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/mongodb"
	"swaprelayer/multicall"
	"swaprelayer/redis"
	"swaprelayer/workers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	redigo "github.com/gomodule/redigo/redis"
)

// relayer holds the dependencies of one invocation.
type relayer struct {
	cfg   *config.Configuration
	pool  *redigo.Pool
	mongo *mongodb.Client
	rpc   *EVMRPC.Registry

	txService *workers.BatchedTxService
	events    *workers.EventHandler
	bridge    *workers.BridgeService
}

type registryClients struct {
	reg *EVMRPC.Registry
}

func (c registryClients) Client(chainID int) (workers.ChainClient, error) {
	p, err := c.reg.Client(chainID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var errNoPrivateKey = errors.New("relayer private key is not configured")

func newRelayer(ctx context.Context, cfg *config.Configuration) (*relayer, error) {
	r := &relayer{cfg: cfg}

	r.pool = redis.NewPool(cfg.RedisAddr(), cfg.Server.RedisPassword, cfg.Server.RedisTimeout)
	settings := redis.CacheSettings{
		DefaultTTL:       cfg.Cache.DefaultTTL,
		NeverExpireTTL:   cfg.Cache.NeverExpireTTL,
		ProlongThreshold: cfg.Cache.ProlongThreshold,
	}
	cache := redis.NewTieredCache(redis.NewCache(r.pool, settings), cfg.Server.LocalCacheMB, cfg.Cache.LocalTTL, settings)

	mongo, err := mongodb.Connect(ctx, cfg.Server.MongoURI, cfg.Server.MongoDatabase)
	if err != nil {
		r.pool.Close()
		return nil, err
	}
	r.mongo = mongo
	r.rpc = EVMRPC.NewRegistry(cfg.Chains)
	clients := registryClients{reg: r.rpc}

	key, err := parseKey(cfg.EVM.PrivateKey)
	if err != nil {
		r.close(ctx)
		return nil, err
	}
	newSender := func(client workers.ChainClient, multicallContract common.Address) workers.BatchSender {
		return multicall.NewSender(client, multicallContract, key)
	}

	swaps := mongo.Swaps()
	r.txService = workers.NewBatchedTxService(cfg, clients, redis.NewMutex(r.pool, cfg.Mutex.TTL), mongo.BatchedTxs(), swaps, newSender)
	r.events = workers.NewEventHandler(cfg, clients, EVMRPC.NewAssets(cache), swaps, r.txService)
	r.bridge = workers.NewBridgeService(cfg, clients, redis.NewCheckpointStore(r.pool), swaps, r.events)
	return r, nil
}

// parseKey accepts an empty key, only the send job needs one.
func parseKey(hex string) (*ecdsa.PrivateKey, error) {
	if hex == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}
	return key, nil
}

func (r *relayer) close(ctx context.Context) {
	if r.rpc != nil {
		r.rpc.Close()
	}
	if r.mongo != nil {
		if err := r.mongo.Disconnect(ctx); err != nil {
			log.Warn("[relayer] mongodb disconnect failed", "err", err)
		}
	}
	r.pool.Close()
}

// run executes one job on one chain, it backs both the commands and the http triggers.
func (r *relayer) run(ctx context.Context, job string, chainID int) (string, error) {
	switch job {
	case workers.JobScan:
		state, err := r.bridge.RunCycle(ctx, chainID)
		return state.String(), err
	case workers.JobSend:
		if r.cfg.EVM.PrivateKey == "" {
			return "", errNoPrivateKey
		}
		return "sent", r.txService.SendBatchedTx(ctx, chainID)
	case workers.JobSupervise:
		n, err := r.bridge.SupervisePerformed(ctx, chainID)
		return fmt.Sprintf("%d enqueued", n), err
	}
	return "", fmt.Errorf("unknown job %q", job)
}
