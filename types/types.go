package types

import (
	"context"
	"fmt"
	"time"
)

// SwapKey identifies a swap record, swap ids are unique per source chain only.
type SwapKey struct {
	SwapID     string `json:"swapId" bson:"swapId"`
	SrcChainID int    `json:"srcChainId" bson:"srcChainId"`
}

func (k SwapKey) String() string {
	return fmt.Sprintf("%d:%s", k.SrcChainID, k.SwapID)
}

type SwapChains struct {
	Src         int    `json:"src" bson:"src"`
	Dst         int    `json:"dst" bson:"dst"` // 0 until the source side was scanned
	SrcBridgeID uint16 `json:"srcBridgeId" bson:"srcBridgeId"`
	DstBridgeID uint16 `json:"dstBridgeId" bson:"dstBridgeId"`
}

// amounts are decimal strings in token base units
type SwapPath struct {
	LwsPoolID    uint16 `json:"lwsPoolId" bson:"lwsPoolId"`
	HgsPoolID    uint16 `json:"hgsPoolId" bson:"hgsPoolId"`
	HgsAmount    string `json:"hgsAmount" bson:"hgsAmount"`
	DstToken     string `json:"dstToken" bson:"dstToken"`
	MinHgsAmount string `json:"minHgsAmount" bson:"minHgsAmount"`
	Fee          string `json:"fee" bson:"fee"`
}

type SwapUser struct {
	Receiver  string `json:"receiver" bson:"receiver"`
	Signature string `json:"signature" bson:"signature"` // 0x-prefixed hex
}

type SwapStatus struct {
	InitiatedTimestamp int64  `json:"initiatedTimestamp" bson:"initiatedTimestamp"`
	InitiatedTxID      string `json:"initiatedTxId" bson:"initiatedTxId"`
	BridgeLink         string `json:"bridgeLink" bson:"bridgeLink"`
	PerformedTxID      string `json:"performedTxId" bson:"performedTxId"`
	ContinueTxID       string `json:"continueTxId" bson:"continueTxId"`
	ContinueConfirmed  bool   `json:"continueConfirmed" bson:"continueConfirmed"`
	Hidden             bool   `json:"hidden" bson:"hidden"`
}

type SwapProgress struct {
	SrcAmount   string `json:"srcAmount" bson:"srcAmount"`
	SrcToken    string `json:"srcToken" bson:"srcToken"`
	SrcDecimals uint8  `json:"srcDecimals" bson:"srcDecimals"`
	SrcSymbol   string `json:"srcSymbol" bson:"srcSymbol"`
	LwsSymbol   string `json:"lwsSymbol" bson:"lwsSymbol"`
	HgsSymbol   string `json:"hgsSymbol" bson:"hgsSymbol"`
	DstSymbol   string `json:"dstSymbol" bson:"dstSymbol"`
}

// SwapRecord is the persisted state of one cross-chain swap.
// Records are never deleted, only hidden.
type SwapRecord struct {
	SwapID         string       `json:"swapId" bson:"swapId"`
	Chains         SwapChains   `json:"chains" bson:"chains"`
	Path           SwapPath     `json:"path" bson:"path"`
	User           SwapUser     `json:"user" bson:"user"`
	Status         SwapStatus   `json:"status" bson:"status"`
	Progress       SwapProgress `json:"progress" bson:"progress"`
	SkipProcessing bool         `json:"skipProcessing" bson:"skipProcessing"`
}

func (r *SwapRecord) Key() SwapKey {
	return SwapKey{SwapID: r.SwapID, SrcChainID: r.Chains.Src}
}

// Complete reports whether the source side of the swap has been scanned.
// Destination events seen first leave a placeholder with Dst unset.
func (r *SwapRecord) Complete() bool {
	return r.Chains.Dst != 0
}

// AwaitsContinue reports whether the continuation tx still has to be sent.
func (r *SwapRecord) AwaitsContinue() bool {
	return r.Complete() && !r.SkipProcessing && !r.Status.Hidden &&
		r.Status.PerformedTxID != "" && r.Status.ContinueTxID == "" && !r.Status.ContinueConfirmed
}

type BatchedTxState string

const (
	TxQueued BatchedTxState = "queued"
	TxSent   BatchedTxState = "sent"
	TxFailed BatchedTxState = "failed"
)

type BatchedTxStatus struct {
	State BatchedTxState `json:"state" bson:"state"`
	Hash  string         `json:"hash,omitempty" bson:"hash,omitempty"`
}

// BatchedTx is one pending outbound contract call, sent through multicall.
type BatchedTx struct {
	ID           string          `json:"id" bson:"_id"`
	ChainID      int             `json:"chainId" bson:"chainId"`
	Priority     int             `json:"priority" bson:"priority"`
	Target       string          `json:"target" bson:"target"`
	Data         string          `json:"data" bson:"data"` // 0x-prefixed calldata
	SecurityHash string          `json:"securityHash" bson:"securityHash"`
	Status       BatchedTxStatus `json:"status" bson:"status"`
	// set for swap continuations so the sender can record the tx id on the swap
	Swap      *SwapKey `json:"swap,omitempty" bson:"swap,omitempty"`
	CreatedAt int64    `json:"createdAt" bson:"createdAt"`
	UpdatedAt int64    `json:"updatedAt" bson:"updatedAt"`
}

// OutboundTxMessage is the queue message producers publish for HandleNewTx.
type OutboundTxMessage struct {
	ChainID      int    `json:"chainId"`
	Priority     int    `json:"priority"`
	Target       string `json:"target"`
	Data         string `json:"data"`
	SecurityHash string `json:"securityHash"`
}

func (m *OutboundTxMessage) ToBatchedTx() *BatchedTx {
	return &BatchedTx{
		ChainID:      m.ChainID,
		Priority:     m.Priority,
		Target:       m.Target,
		Data:         m.Data,
		SecurityHash: m.SecurityHash,
	}
}

type CacheOptions struct {
	NeverExpire bool
	TTL         time.Duration // 0 means the cache default
}

// SwapCursor streams swap records without materializing the whole result set.
// A new query restarts the sequence from the beginning.
type SwapCursor interface {
	Next(ctx context.Context) bool
	Record() (*SwapRecord, error)
	Err() error
	Close(ctx context.Context) error
}
