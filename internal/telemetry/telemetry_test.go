package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopCollectorSamplesNothing(t *testing.T) {
	var c Collector = NoopCollector{}
	require.Nil(t, c.Sample())
	require.NoError(t, c.Close())
}

func TestNewCollectorNeverNil(t *testing.T) {
	c := NewCollector()
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
