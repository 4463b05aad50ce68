package contracts

import (
	"fmt"
	"math/big"

	"swaprelayer/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Call3 and Result mirror the multicall3 tuples, field names follow the abi components.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

func PackAggregate3(calls []Call3) ([]byte, error) {
	return Multicall3ABI.Pack("aggregate3", calls)
}

func UnpackAggregate3(data []byte) ([]Result, error) {
	out, err := Multicall3ABI.Unpack("aggregate3", data)
	if err != nil {
		return nil, &types.DecodeError{What: "aggregate3 result", Reason: err.Error()}
	}
	if len(out) != 1 {
		return nil, &types.DecodeError{What: "aggregate3 result", Reason: fmt.Sprintf("%d outputs", len(out))}
	}
	return *abi.ConvertType(out[0], new([]Result)).(*[]Result), nil
}

type SwapInitiated struct {
	SwapID     common.Hash
	DstChainId uint16
	Payload    []byte
}

func ParseSwapInitiated(l ethtypes.Log) (*SwapInitiated, error) {
	if len(l.Topics) < 2 || l.Topics[0] != SwapInitiatedEvent.ID {
		return nil, &types.DecodeError{What: "SwapInitiated", Reason: "unexpected topics"}
	}
	ev := new(SwapInitiated)
	if err := BridgeABI.UnpackIntoInterface(ev, "SwapInitiated", l.Data); err != nil {
		return nil, &types.DecodeError{What: "SwapInitiated", Reason: err.Error()}
	}
	ev.SwapID = l.Topics[1]
	return ev, nil
}

type SwapPerformed struct {
	SwapID     common.Hash
	SrcChainId uint16
	HgsAmount  *big.Int
}

func ParseSwapPerformed(l ethtypes.Log) (*SwapPerformed, error) {
	if len(l.Topics) < 2 || l.Topics[0] != SwapPerformedEvent.ID {
		return nil, &types.DecodeError{What: "SwapPerformed", Reason: "unexpected topics"}
	}
	ev := new(SwapPerformed)
	if err := AggregatorABI.UnpackIntoInterface(ev, "SwapPerformed", l.Data); err != nil {
		return nil, &types.DecodeError{What: "SwapPerformed", Reason: err.Error()}
	}
	ev.SwapID = l.Topics[1]
	return ev, nil
}

// SwapCall holds the arguments of a bridge swap() transaction.
type SwapCall struct {
	SrcToken      common.Address
	SrcAmount     *big.Int
	DstChainID    uint16
	DstAggregator common.Address
	Payload       []byte
}

func DecodeSwapCall(input []byte) (*SwapCall, error) {
	if len(input) < 4 {
		return nil, &types.DecodeError{What: "swap call", Reason: "input too short"}
	}
	method, err := BridgeABI.MethodById(input[:4])
	if err != nil || method.Name != "swap" {
		return nil, &types.DecodeError{What: "swap call", Reason: "not a swap() call"}
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, &types.DecodeError{What: "swap call", Reason: err.Error()}
	}
	return &SwapCall{
		SrcToken:      args[0].(common.Address),
		SrcAmount:     args[1].(*big.Int),
		DstChainID:    args[2].(uint16),
		DstAggregator: args[3].(common.Address),
		Payload:       args[4].([]byte),
	}, nil
}

func PackContinueSwap(swapID common.Hash, srcBridgeID uint16, dstToken common.Address, minHgsAmount *big.Int, receiver common.Address, signature []byte) ([]byte, error) {
	return AggregatorABI.Pack("continueSwap", swapID, srcBridgeID, dstToken, minHgsAmount, receiver, signature)
}

func PackDecimals() []byte {
	data, _ := ERC20ABI.Pack("decimals")
	return data
}

func PackSymbol() []byte {
	data, _ := ERC20ABI.Pack("symbol")
	return data
}

func UnpackDecimals(data []byte) (uint8, error) {
	out, err := ERC20ABI.Unpack("decimals", data)
	if err != nil {
		return 0, &types.DecodeError{What: "decimals", Reason: err.Error()}
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func UnpackSymbol(data []byte) (string, error) {
	out, err := ERC20ABI.Unpack("symbol", data)
	if err != nil {
		return "", &types.DecodeError{What: "symbol", Reason: err.Error()}
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}
