package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const swapPayloadFixedLen = 2 + 2 + common.AddressLength + 32 + common.AddressLength

// SwapPayload is the compact swap parameter blob carried by SwapInitiated.
//
//	uint16 lwsPoolId | uint16 hgsPoolId | address dstToken | uint256 minHgsAmount | address receiver | bytes signature
type SwapPayload struct {
	LwsPoolID    uint16
	HgsPoolID    uint16
	DstToken     common.Address
	MinHgsAmount *big.Int
	Receiver     common.Address
	Signature    []byte
}

func DecodeSwapPayload(data []byte) (*SwapPayload, error) {
	if len(data) < swapPayloadFixedLen {
		return nil, &DecodeError{What: "swap payload", Reason: fmt.Sprintf("length %d, need at least %d", len(data), swapPayloadFixedLen)}
	}
	p := &SwapPayload{}
	p.LwsPoolID = binary.BigEndian.Uint16(data[0:2])
	p.HgsPoolID = binary.BigEndian.Uint16(data[2:4])
	off := 4
	p.DstToken = common.BytesToAddress(data[off : off+common.AddressLength])
	off += common.AddressLength
	p.MinHgsAmount = new(big.Int).SetBytes(data[off : off+32])
	off += 32
	p.Receiver = common.BytesToAddress(data[off : off+common.AddressLength])
	off += common.AddressLength
	p.Signature = common.CopyBytes(data[off:])
	return p, nil
}

func DecodeSwapPayloadHex(s string) (*SwapPayload, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, &DecodeError{What: "swap payload", Reason: err.Error()}
	}
	return DecodeSwapPayload(raw)
}

func (p *SwapPayload) Encode() []byte {
	out := make([]byte, swapPayloadFixedLen, swapPayloadFixedLen+len(p.Signature))
	binary.BigEndian.PutUint16(out[0:2], p.LwsPoolID)
	binary.BigEndian.PutUint16(out[2:4], p.HgsPoolID)
	off := 4
	copy(out[off:], p.DstToken.Bytes())
	off += common.AddressLength
	if p.MinHgsAmount != nil {
		p.MinHgsAmount.FillBytes(out[off : off+32])
	}
	off += 32
	copy(out[off:], p.Receiver.Bytes())
	return append(out, p.Signature...)
}
