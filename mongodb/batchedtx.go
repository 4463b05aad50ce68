package mongodb

import (
	"context"
	"errors"
	"time"

	"swaprelayer/types"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BatchedTxStore struct {
	coll *mongo.Collection
}

// FindQueuedByHash returns the queued entry with securityHash, nil when there is none.
func (s *BatchedTxStore) FindQueuedByHash(ctx context.Context, securityHash string) (*types.BatchedTx, error) {
	filter := bson.D{{Key: "securityHash", Value: securityHash}, {Key: "status.state", Value: types.TxQueued}}
	var tx types.BatchedTx
	err := s.coll.FindOne(ctx, filter).Decode(&tx)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mgoError("find queued tx", err)
	}
	return &tx, nil
}

// Enqueue inserts tx as queued. A concurrent insert of the same security hash
// fails with types.ErrItemIsDup through the partial unique index.
func (s *BatchedTxStore) Enqueue(ctx context.Context, tx *types.BatchedTx) error {
	now := time.Now().Unix()
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.Status = types.BatchedTxStatus{State: types.TxQueued}
	tx.CreatedAt = now
	tx.UpdatedAt = now
	_, err := s.coll.InsertOne(ctx, tx)
	return mgoError("enqueue tx", err)
}

// FindQueued returns up to limit queued entries of chainID, highest priority first,
// oldest first within a priority.
func (s *BatchedTxStore) FindQueued(ctx context.Context, chainID, limit int) ([]*types.BatchedTx, error) {
	filter := bson.D{{Key: "chainId", Value: chainID}, {Key: "status.state", Value: types.TxQueued}}
	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mgoError("find queued txs", err)
	}
	txs := make([]*types.BatchedTx, 0, limit)
	if err := cur.All(ctx, &txs); err != nil {
		return nil, mgoError("decode queued txs", err)
	}
	return txs, nil
}

func (s *BatchedTxStore) MarkSent(ctx context.Context, ids []string, hash string) error {
	return s.markState(ctx, "mark txs sent", ids, types.BatchedTxStatus{State: types.TxSent, Hash: hash})
}

func (s *BatchedTxStore) MarkFailed(ctx context.Context, ids []string, hash string) error {
	return s.markState(ctx, "mark txs failed", ids, types.BatchedTxStatus{State: types.TxFailed, Hash: hash})
}

func (s *BatchedTxStore) markState(ctx context.Context, op string, ids []string, status types.BatchedTxStatus) error {
	if len(ids) == 0 {
		return nil
	}
	filter := bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}},
		{Key: "status.state", Value: types.TxQueued},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "updatedAt", Value: time.Now().Unix()},
	}}}
	_, err := s.coll.UpdateMany(ctx, filter, update)
	return mgoError(op, err)
}
