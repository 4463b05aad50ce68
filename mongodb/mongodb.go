package mongodb

import (
	"context"
	"fmt"

	"swaprelayer/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	tbSwaps      string = "Swaps"
	tbBatchedTxs string = "BatchedTxs"
)

// Client holds the collections of one invocation.
type Client struct {
	client   *mongo.Client
	database *mongo.Database

	collSwaps      *mongo.Collection
	collBatchedTxs *mongo.Collection
}

func Connect(ctx context.Context, uri, databaseName string) (*Client, error) {
	log.Info("[mongodb] connect database start.", "dbName", databaseName)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	c := &Client{client: client, database: client.Database(databaseName)}
	if err := c.initCollections(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	log.Info("[mongodb] connect database finished.", "dbName", databaseName)
	return c, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *Client) Swaps() *SwapStore {
	return &SwapStore{coll: c.collSwaps}
}

func (c *Client) BatchedTxs() *BatchedTxStore {
	return &BatchedTxStore{coll: c.collBatchedTxs}
}

func (c *Client) initCollections(ctx context.Context) error {
	c.collSwaps = c.database.Collection(tbSwaps)
	c.collBatchedTxs = c.database.Collection(tbBatchedTxs)

	if err := createIndexes(ctx, c.collSwaps, swapIndexes()); err != nil {
		return err
	}
	return createIndexes(ctx, c.collBatchedTxs, batchedTxIndexes())
}

func swapIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "swapId", Value: 1}, {Key: "chains.src", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("swap_unique"),
		},
		{
			Keys: bson.D{
				{Key: "chains.dst", Value: 1},
				{Key: "status.continueConfirmed", Value: 1},
				{Key: "status.continueTxId", Value: 1},
			},
			Options: options.Index().SetName("swap_completion"),
		},
	}
}

func batchedTxIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			// at most one queued entry per security hash, sent/failed ones may repeat
			Keys: bson.D{{Key: "securityHash", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("queued_security_hash").
				SetPartialFilterExpression(bson.D{{Key: "status.state", Value: "queued"}}),
		},
		{
			Keys: bson.D{
				{Key: "chainId", Value: 1},
				{Key: "status.state", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "createdAt", Value: 1},
			},
			Options: options.Index().SetName("queue_order"),
		},
	}
}

func createIndexes(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
		log.Error("[mongodb] create indexes failed", "collection", coll.Name(), "err", err)
		return mgoError("create indexes", err)
	}
	return nil
}
