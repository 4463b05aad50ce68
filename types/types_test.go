package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSwapPayloadLayout(t *testing.T) {
	// 0001 | 0002 | dstToken | minHgsAmount=1000 | receiver | signature
	raw := "0001" + "0002" +
		strings.Repeat("ab", 20) +
		fmt.Sprintf("%064x", 1000) +
		strings.Repeat("cd", 20) +
		"deadbeef"

	p, err := DecodeSwapPayloadHex("0x" + raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.LwsPoolID)
	assert.Equal(t, uint16(2), p.HgsPoolID)
	assert.Equal(t, common.HexToAddress("0x"+strings.Repeat("ab", 20)), p.DstToken)
	assert.Equal(t, big.NewInt(1000), p.MinHgsAmount)
	assert.Equal(t, common.HexToAddress("0x"+strings.Repeat("cd", 20)), p.Receiver)
	assert.Equal(t, "deadbeef", hex.EncodeToString(p.Signature))

	assert.Equal(t, raw, hex.EncodeToString(p.Encode()))
}

func TestDecodeSwapPayloadWithoutSignature(t *testing.T) {
	p, err := DecodeSwapPayload(make([]byte, swapPayloadFixedLen))
	require.NoError(t, err)
	assert.Empty(t, p.Signature)
	assert.Equal(t, int64(0), p.MinHgsAmount.Int64())
}

func TestDecodeSwapPayloadTooShort(t *testing.T) {
	_, err := DecodeSwapPayload(make([]byte, swapPayloadFixedLen-1))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.False(t, IsRetryable(err))

	_, err = DecodeSwapPayloadHex("0xzz")
	require.ErrorAs(t, err, &de)
}

func TestErrorKinds(t *testing.T) {
	lockErr := fmt.Errorf("send: %w", &LockHeldError{Key: "batched-tx:1"})
	assert.True(t, IsLockHeld(lockErr))
	assert.True(t, IsRetryable(lockErr))

	assert.False(t, IsRetryable(&BatchExhaustedError{ChainID: 1, GasLimit: 10, Calls: 3}))
	assert.False(t, IsRetryable(nil))

	inner := fmt.Errorf("connection reset")
	se := &StorageError{Op: "insert swap", Err: inner}
	assert.ErrorIs(t, se, inner)
	assert.True(t, IsRetryable(se))
}

func TestSwapRecordAwaitsContinue(t *testing.T) {
	rec := &SwapRecord{SwapID: "0x01", Chains: SwapChains{Src: 1}}
	rec.Status.PerformedTxID = "0xperformed"
	assert.False(t, rec.AwaitsContinue(), "placeholder without source side")

	rec.Chains.Dst = 56
	assert.True(t, rec.AwaitsContinue())

	rec.SkipProcessing = true
	assert.False(t, rec.AwaitsContinue())

	rec.SkipProcessing = false
	rec.Status.ContinueTxID = "0xcontinue"
	assert.False(t, rec.AwaitsContinue())
	assert.Equal(t, SwapKey{SwapID: "0x01", SrcChainID: 1}, rec.Key())
	assert.Equal(t, "1:0x01", rec.Key().String())
}
