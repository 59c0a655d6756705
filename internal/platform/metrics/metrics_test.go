package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.EdgesAdded.Add(3)
	m.IncrementAnomaly("ambiguous-split")
	m.IncrementAnomaly("ambiguous-split")
	m.ObservePartition(200*time.Millisecond, true)
	m.ObservePartition(100*time.Millisecond, false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.EdgesAdded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Anomalies.WithLabelValues("ambiguous-split")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PartitionsFailed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PartitionDuration))
}

func TestPush(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/metrics/job/basenet"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Splits.Inc()
	require.NoError(t, m.Push(context.Background(), srv.URL, "basenet"))
	assert.NotEmpty(t, body)

	require.NoError(t, m.Push(context.Background(), "", "basenet"))
}
