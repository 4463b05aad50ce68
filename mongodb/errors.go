package mongodb

import (
	"errors"

	"swaprelayer/types"

	"go.mongodb.org/mongo-driver/mongo"
)

var ErrItemNotFound = errors.New("mgoError: Item not found")

// mgoError maps driver errors onto the typed errors of the relayer, the original
// driver error stays reachable through errors.Is/As.
func mgoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrItemNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return types.ErrItemIsDup
	}
	return &types.StorageError{Op: op, Err: err}
}
