package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	before := testutil.ToFloat64(BlockOps.WithLabelValues("write"))
	BlockOps.WithLabelValues("write").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BlockOps.WithLabelValues("write")))

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))
	assert.Contains(t, buf.String(), "redisdir_block_ops_total")
}
