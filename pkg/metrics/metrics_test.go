package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveBlock(100, time.Now(), nil)
	m.ObserveBlock(101, time.Now(), errors.New("boom"))
	m.AddEvent("transfer")
	m.AddEvent("transfer")
	m.AddDelta("shares")
	m.AddRows(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocksTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.blocksTotal.WithLabelValues("error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.eventsTotal.WithLabelValues("transfer")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.rowsTotal))
	// failed blocks do not move the head
	assert.Equal(t, float64(100), testutil.ToFloat64(m.headBlock))

	m.ObserveReorg(100, 97)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reorgsTotal))
	assert.Equal(t, float64(97), testutil.ToFloat64(m.headBlock))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "exa_indexer_deltas_total"))
}
