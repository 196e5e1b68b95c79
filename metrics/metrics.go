// Package metrics holds prometheus instrumentation of directory traffic
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry collects every redisdir metric
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		BlockOps, BlockBytes, FlushDuration,
		FileOps, LockAttempts,
	)
}

// BlockOps block reads and writes against the data hash
var BlockOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redisdir_block_ops_total",
		Help: "Block operations against the data hash.",
	},
	[]string{"op"}, // read | write | delete | miss
)

// BlockBytes payload bytes moved per direction
var BlockBytes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redisdir_block_bytes_total",
		Help: "Block payload bytes moved.",
	},
	[]string{"direction"}, // read | write
)

// FlushDuration time to persist one block and its metadata
var FlushDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "redisdir_flush_duration_seconds",
		Help:    "Time to persist a block and the updated file metadata.",
		Buckets: prometheus.DefBuckets,
	},
)

// FileOps directory level operations
var FileOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redisdir_file_ops_total",
		Help: "Directory operations by kind.",
	},
	[]string{"op"}, // create | open | delete | rename | list | length
)

// LockAttempts lock obtain outcomes
var LockAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "redisdir_lock_attempts_total",
		Help: "Lock obtain attempts by outcome.",
	},
	[]string{"result"}, // obtained | contended | error
)

// WritePrometheus writes all metrics in text exposition format to w
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
