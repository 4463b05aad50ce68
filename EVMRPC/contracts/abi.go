// Package contracts holds the ABIs of the contracts the relayer talks to.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const BridgeABIJSON = `[
{"anonymous":false,"inputs":[
 {"indexed":true,"name":"swapId","type":"bytes32"},
 {"indexed":false,"name":"dstChainId","type":"uint16"},
 {"indexed":false,"name":"payload","type":"bytes"}],
 "name":"SwapInitiated","type":"event"},
{"inputs":[
 {"name":"srcToken","type":"address"},
 {"name":"srcAmount","type":"uint256"},
 {"name":"dstChainId","type":"uint16"},
 {"name":"dstAggregator","type":"address"},
 {"name":"payload","type":"bytes"}],
 "name":"swap","outputs":[],"stateMutability":"payable","type":"function"}
]`

const AggregatorABIJSON = `[
{"anonymous":false,"inputs":[
 {"indexed":true,"name":"swapId","type":"bytes32"},
 {"indexed":false,"name":"srcChainId","type":"uint16"},
 {"indexed":false,"name":"hgsAmount","type":"uint256"}],
 "name":"SwapPerformed","type":"event"},
{"inputs":[
 {"name":"swapId","type":"bytes32"},
 {"name":"srcBridgeId","type":"uint16"},
 {"name":"dstToken","type":"address"},
 {"name":"minHgsAmount","type":"uint256"},
 {"name":"receiver","type":"address"},
 {"name":"signature","type":"bytes"}],
 "name":"continueSwap","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const Multicall3ABIJSON = `[
{"inputs":[{"components":[
 {"name":"target","type":"address"},
 {"name":"allowFailure","type":"bool"},
 {"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],
 "name":"aggregate3",
 "outputs":[{"components":[
 {"name":"success","type":"bool"},
 {"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],
 "stateMutability":"payable","type":"function"}
]`

const ERC20ABIJSON = `[
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	BridgeABI     = mustParse(BridgeABIJSON)
	AggregatorABI = mustParse(AggregatorABIJSON)
	Multicall3ABI = mustParse(Multicall3ABIJSON)
	ERC20ABI      = mustParse(ERC20ABIJSON)
)

var (
	SwapInitiatedEvent = BridgeABI.Events["SwapInitiated"]
	SwapPerformedEvent = AggregatorABI.Events["SwapPerformed"]
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
