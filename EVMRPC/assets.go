package EVMRPC

import (
	"context"
	"fmt"

	"swaprelayer/EVMRPC/contracts"
	"swaprelayer/redis"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type Caller interface {
	ChainID() int
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Assets resolves erc20 metadata. Token metadata does not change, entries never expire.
type Assets struct {
	cache redis.ByteCache
}

func NewAssets(cache redis.ByteCache) *Assets {
	return &Assets{cache: cache}
}

var assetCacheOptions = types.CacheOptions{NeverExpire: true}

func assetKey(field string, chainID int, token common.Address) string {
	return fmt.Sprintf("asset:%s:%d:%s", field, chainID, token.Hex())
}

func (a *Assets) Decimals(ctx context.Context, client Caller, token common.Address) (uint8, error) {
	return redis.GetOrSetJSON(ctx, a.cache, assetKey("decimals", client.ChainID(), token), assetCacheOptions,
		func(ctx context.Context) (uint8, error) {
			out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: contracts.PackDecimals()})
			if err != nil {
				return 0, err
			}
			return contracts.UnpackDecimals(out)
		})
}

func (a *Assets) Symbol(ctx context.Context, client Caller, token common.Address) (string, error) {
	return redis.GetOrSetJSON(ctx, a.cache, assetKey("symbol", client.ChainID(), token), assetCacheOptions,
		func(ctx context.Context) (string, error) {
			out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: contracts.PackSymbol()})
			if err != nil {
				return "", err
			}
			return contracts.UnpackSymbol(out)
		})
}
