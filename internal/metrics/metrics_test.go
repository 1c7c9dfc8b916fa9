package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ActiveConnections.Set(3)
	m.EventsEnqueued.WithLabelValues("created").Inc()
	m.HandshakeRejections.WithLabelValues("missing_params").Inc()
	m.SnapshotFetches.WithLabelValues("ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 11)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEnqueued.WithLabelValues("created")))
}

func TestNew_PanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
