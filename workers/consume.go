package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"swaprelayer/config"
	"swaprelayer/log"
	"swaprelayer/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MaxWait:     time.Second,
	})
}

// TxConsumer moves outbound tx messages into the batched tx queue. Offsets are
// committed only after the tx is stored, delivery is at least once and duplicates
// collapse on the security hash.
type TxConsumer struct {
	cfg    *config.Configuration
	reader MessageReader
	txs    TxQueue
}

func NewTxConsumer(cfg *config.Configuration, reader MessageReader, txs TxQueue) *TxConsumer {
	return &TxConsumer{cfg: cfg, reader: reader, txs: txs}
}

// Run consumes until ctx is done or limit messages were handled, 0 means no limit.
func (c *TxConsumer) Run(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit == 0 || n < limit {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return n, nil
			}
			return n, fmt.Errorf("fetch message: %w", err)
		}
		tx, err := c.decode(msg.Value)
		if err != nil {
			log.WorkerError("consume", "malformed message, dropping", err, "partition", msg.Partition, "offset", msg.Offset)
		} else if err := c.txs.HandleNewTx(ctx, tx); err != nil {
			// not committed, the message is delivered again
			return n, err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return n, fmt.Errorf("commit message: %w", err)
		}
		n++
	}
	return n, nil
}

func (c *TxConsumer) decode(value []byte) (*types.BatchedTx, error) {
	var m types.OutboundTxMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return nil, &types.DecodeError{What: "outbound tx", Reason: err.Error()}
	}
	if _, ok := c.cfg.Chain(m.ChainID); !ok {
		return nil, &types.DecodeError{What: "outbound tx", Reason: fmt.Sprintf("unknown chain %d", m.ChainID)}
	}
	if !common.IsHexAddress(m.Target) {
		return nil, &types.DecodeError{What: "outbound tx", Reason: "bad target " + m.Target}
	}
	if _, err := hexutil.Decode(m.Data); err != nil {
		return nil, &types.DecodeError{What: "outbound tx", Reason: "bad data: " + err.Error()}
	}
	if m.SecurityHash == "" {
		return nil, &types.DecodeError{What: "outbound tx", Reason: "missing securityHash"}
	}
	return m.ToBatchedTx(), nil
}
