package mongodb

import (
	"context"
	"errors"

	"swaprelayer/types"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cursorBatchSize = 100

type SwapStore struct {
	coll *mongo.Collection
}

func keyFilter(key types.SwapKey) bson.D {
	return bson.D{{Key: "swapId", Value: key.SwapID}, {Key: "chains.src", Value: key.SrcChainID}}
}

// CreateSwap stores the source side of a swap. A placeholder left by an earlier
// destination event is completed in place; an already complete record yields
// types.ErrItemIsDup.
func (s *SwapStore) CreateSwap(ctx context.Context, rec *types.SwapRecord) (*types.SwapRecord, error) {
	filter := append(keyFilter(rec.Key()), bson.E{Key: "chains.dst", Value: bson.D{{Key: "$in", Value: bson.A{0, nil}}}})
	update := bson.D{
		{Key: "$set", Value: initiatedFields(rec)},
		{Key: "$setOnInsert", Value: performedDefaults()},
	}
	return s.upsert(ctx, "create swap", filter, update)
}

// MarkSwapPerformed records the destination side, creating a placeholder when the
// source event has not been scanned yet.
func (s *SwapStore) MarkSwapPerformed(ctx context.Context, key types.SwapKey, txID, hgsAmount string) (*types.SwapRecord, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status.performedTxId", Value: txID},
			{Key: "path.hgsAmount", Value: hgsAmount},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "chains.dst", Value: 0},
			{Key: "skipProcessing", Value: false},
			{Key: "status.continueTxId", Value: ""},
			{Key: "status.continueConfirmed", Value: false},
			{Key: "status.hidden", Value: false},
		}},
	}
	return s.upsert(ctx, "mark swap performed", keyFilter(key), update)
}

func (s *SwapStore) upsert(ctx context.Context, op string, filter, update bson.D) (*types.SwapRecord, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var rec types.SwapRecord
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if mongo.IsDuplicateKeyError(err) {
		// two upserts raced on the unique index, the second attempt sees the winner's document
		err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	}
	if err != nil {
		return nil, mgoError(op, err)
	}
	return &rec, nil
}

func initiatedFields(rec *types.SwapRecord) bson.D {
	return bson.D{
		{Key: "chains.dst", Value: rec.Chains.Dst},
		{Key: "chains.srcBridgeId", Value: rec.Chains.SrcBridgeID},
		{Key: "chains.dstBridgeId", Value: rec.Chains.DstBridgeID},
		{Key: "path.lwsPoolId", Value: rec.Path.LwsPoolID},
		{Key: "path.hgsPoolId", Value: rec.Path.HgsPoolID},
		{Key: "path.dstToken", Value: rec.Path.DstToken},
		{Key: "path.minHgsAmount", Value: rec.Path.MinHgsAmount},
		{Key: "path.fee", Value: rec.Path.Fee},
		{Key: "user", Value: rec.User},
		{Key: "status.initiatedTimestamp", Value: rec.Status.InitiatedTimestamp},
		{Key: "status.initiatedTxId", Value: rec.Status.InitiatedTxID},
		{Key: "status.bridgeLink", Value: rec.Status.BridgeLink},
		{Key: "progress", Value: rec.Progress},
		{Key: "skipProcessing", Value: rec.SkipProcessing},
	}
}

// fields owned by the destination side, only written when the source side inserts first
func performedDefaults() bson.D {
	return bson.D{
		{Key: "path.hgsAmount", Value: ""},
		{Key: "status.performedTxId", Value: ""},
		{Key: "status.continueTxId", Value: ""},
		{Key: "status.continueConfirmed", Value: false},
		{Key: "status.hidden", Value: false},
	}
}

func (s *SwapStore) FindSwap(ctx context.Context, key types.SwapKey) (*types.SwapRecord, error) {
	var rec types.SwapRecord
	err := s.coll.FindOne(ctx, keyFilter(key)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrSwapNotFound
	}
	if err != nil {
		return nil, mgoError("find swap", err)
	}
	return &rec, nil
}

func (s *SwapStore) updateStatus(ctx context.Context, op string, key types.SwapKey, set bson.D) error {
	res, err := s.coll.UpdateOne(ctx, keyFilter(key), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return mgoError(op, err)
	}
	if res.MatchedCount == 0 {
		return types.ErrSwapNotFound
	}
	return nil
}

func (s *SwapStore) SetContinueTx(ctx context.Context, key types.SwapKey, txID string) error {
	return s.updateStatus(ctx, "set continue tx", key, bson.D{
		{Key: "status.continueTxId", Value: txID},
		{Key: "status.continueConfirmed", Value: false},
	})
}

func (s *SwapStore) ConfirmContinue(ctx context.Context, key types.SwapKey) error {
	return s.updateStatus(ctx, "confirm continue", key, bson.D{{Key: "status.continueConfirmed", Value: true}})
}

// ResetContinue forgets a reverted continuation so it can be sent again.
func (s *SwapStore) ResetContinue(ctx context.Context, key types.SwapKey) error {
	return s.updateStatus(ctx, "reset continue", key, bson.D{
		{Key: "status.continueTxId", Value: ""},
		{Key: "status.continueConfirmed", Value: false},
	})
}

func (s *SwapStore) HideSwap(ctx context.Context, key types.SwapKey) error {
	return s.updateStatus(ctx, "hide swap", key, bson.D{{Key: "status.hidden", Value: true}})
}

func pendingCompletionsFilter(dstChainID int) bson.D {
	return bson.D{
		{Key: "chains.dst", Value: dstChainID},
		{Key: "status.continueTxId", Value: bson.D{{Key: "$ne", Value: ""}}},
		{Key: "status.continueConfirmed", Value: false},
		{Key: "status.hidden", Value: false},
	}
}

func awaitingContinueFilter(dstChainID int) bson.D {
	return bson.D{
		{Key: "chains.dst", Value: dstChainID},
		{Key: "status.performedTxId", Value: bson.D{{Key: "$ne", Value: ""}}},
		{Key: "status.continueTxId", Value: ""},
		{Key: "status.continueConfirmed", Value: false},
		{Key: "status.hidden", Value: false},
		{Key: "skipProcessing", Value: false},
	}
}

// PendingCompletions streams records on dstChainID whose continuation was sent but
// not yet confirmed.
func (s *SwapStore) PendingCompletions(ctx context.Context, dstChainID int) (types.SwapCursor, error) {
	return s.find(ctx, "pending completions", pendingCompletionsFilter(dstChainID))
}

// AwaitingContinue streams performed swaps on dstChainID without a continuation.
func (s *SwapStore) AwaitingContinue(ctx context.Context, dstChainID int) (types.SwapCursor, error) {
	return s.find(ctx, "awaiting continue", awaitingContinueFilter(dstChainID))
}

func (s *SwapStore) find(ctx context.Context, op string, filter bson.D) (types.SwapCursor, error) {
	opts := options.Find().
		SetBatchSize(cursorBatchSize).
		SetSort(bson.D{{Key: "status.initiatedTimestamp", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mgoError(op, err)
	}
	return &swapCursor{cur: cur}, nil
}

type swapCursor struct {
	cur *mongo.Cursor
}

func (c *swapCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *swapCursor) Record() (*types.SwapRecord, error) {
	var rec types.SwapRecord
	if err := c.cur.Decode(&rec); err != nil {
		return nil, &types.DecodeError{What: "swap record", Reason: err.Error()}
	}
	return &rec, nil
}

func (c *swapCursor) Err() error {
	return mgoError("iterate swaps", c.cur.Err())
}

func (c *swapCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
