package types

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTxHash = errors.New("log without transaction hash")
	ErrSwapNotFound  = errors.New("swap record not found")
	// the lock expired or was taken over while its holder still ran
	ErrLockLost = errors.New("lock lost")
)

// LockHeldError is returned when another invocation owns the lock.
// It is an expected outcome under concurrent triggers, callers skip the cycle.
type LockHeldError struct {
	Key string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock %s is held by another executor", e.Key)
}

// BatchExhaustedError means shrinking removed every call and the batch still does not fit,
// i.e. the call at Head alone exceeds the gas ceiling. Rejected holds the calls found
// reverting on the way there. Both index into the calls given to the sender.
type BatchExhaustedError struct {
	ChainID  int
	GasLimit uint64
	Calls    int
	Head     int
	Rejected []int
}

func (e *BatchExhaustedError) Error() string {
	return fmt.Sprintf("chain %d: batch of %d calls exhausted, no prefix fits gas limit %d", e.ChainID, e.Calls, e.GasLimit)
}

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type DecodeError struct {
	What   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %s", e.What, e.Reason)
}

func IsLockHeld(err error) bool {
	var lh *LockHeldError
	return errors.As(err, &lh)
}

// IsRetryable reports whether the next scheduled invocation may succeed.
// Exhausted batches and malformed data never heal on their own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		be *BatchExhaustedError
		de *DecodeError
	)
	if errors.As(err, &be) || errors.As(err, &de) {
		return false
	}
	return true
}

// ErrItemIsDup is a uniqueness violation in a store. For swap records and queued
// batched txs it means the item was already persisted by an earlier (replayed) event.
var ErrItemIsDup = errors.New("item is duplicate")
