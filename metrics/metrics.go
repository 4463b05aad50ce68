// Package metrics holds the prometheus collectors of the relayer, exposed on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_checkpoint_block",
			Help: "Last block handled by the scanner",
		}, []string{"chain_id", "scan_type"})
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_handled_total",
			Help: "Total number of chain events handled",
		}, []string{"chain_id", "event"})
	eventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_failed_total",
			Help: "Total number of chain events whose handler failed",
		}, []string{"chain_id", "event"})
	batchedTxs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_batched_txs_total",
			Help: "Total number of batched txs by outcome",
		}, []string{"chain_id", "outcome"})
	multicallShrinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_multicall_shrink_steps_total",
			Help: "Total number of multicall batch shrink steps",
		}, []string{"chain_id"})
	lockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_lock_contention_total",
			Help: "Total number of runs skipped because the lock was held",
		}, []string{"key"})
	completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_completions_total",
			Help: "Continuation txs checked by outcome",
		}, []string{"chain_id", "outcome"})
)

func chain(chainID int) string {
	return strconv.Itoa(chainID)
}

func SetCheckpoint(chainID int, scanType string, block uint64) {
	checkpointBlock.WithLabelValues(chain(chainID), scanType).Set(float64(block))
}

func EventHandled(chainID int, event string) {
	eventsHandled.WithLabelValues(chain(chainID), event).Inc()
}

func EventFailed(chainID int, event string) {
	eventsFailed.WithLabelValues(chain(chainID), event).Inc()
}

func BatchedTxs(chainID int, outcome string, n int) {
	batchedTxs.WithLabelValues(chain(chainID), outcome).Add(float64(n))
}

func MulticallShrink(chainID int) {
	multicallShrinks.WithLabelValues(chain(chainID)).Inc()
}

func LockContention(key string) {
	lockContention.WithLabelValues(key).Inc()
}

func Completion(chainID int, outcome string) {
	completions.WithLabelValues(chain(chainID), outcome).Inc()
}
