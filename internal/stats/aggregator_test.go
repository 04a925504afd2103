package stats

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRates(t *testing.T) {
	prev := State{LastDown: 1000, LastUp: 500, LastTick: 0}
	snap, next := Compute(prev, 3000, 1500, 1000, "1/0/0")

	assert.Equal(t, int64(2000), snap.DownRate)
	assert.Equal(t, int64(1000), snap.UpRate)
	assert.Equal(t, State{LastDown: 3000, LastUp: 1500, LastTick: 1000}, next)
}

func TestComputeClampsElapsed(t *testing.T) {
	tests := []struct {
		name string
		prev State
		now  uint64
	}{
		{"zero elapsed", State{LastDown: 0, LastUp: 0, LastTick: 500}, 500},
		{"clock went backwards", State{LastDown: 0, LastUp: 0, LastTick: 900}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, _ := Compute(tt.prev, 10, 20, tt.now, "")
			assert.Equal(t, int64(10*1000), snap.DownRate)
			assert.Equal(t, int64(20*1000), snap.UpRate)
			assert.False(t, math.IsInf(float64(snap.DownRate), 0))
			assert.GreaterOrEqual(t, snap.DownRate, int64(0))
		})
	}
}

func TestComputeNeverNegative(t *testing.T) {
	snap, _ := Compute(State{LastDown: 5000, LastUp: 5000, LastTick: 0}, 100, 100, 1000, "")
	assert.Equal(t, int64(0), snap.DownRate)
	assert.Equal(t, int64(0), snap.UpRate)
}

func TestAggregatorRetainsState(t *testing.T) {
	m := NewMetrics("test")
	a := NewAggregator(State{LastDown: 1000, LastUp: 500}, m)

	s1 := a.Tick(3000, 1500, 1000, "1/0/0")
	assert.Equal(t, int64(2000), s1.DownRate)

	s2 := a.Tick(3000, 2500, 2000, "1/0/0")
	assert.Equal(t, int64(0), s2.DownRate)
	assert.Equal(t, int64(1000), s2.UpRate)
	assert.Equal(t, State{LastDown: 3000, LastUp: 2500, LastTick: 2000}, a.State())

	assert.Equal(t, float64(1000), testutil.ToFloat64(m.UpRate))
	assert.Equal(t, float64(3000), testutil.ToFloat64(m.TotalDown))
	assert.Len(t, m.Collectors(), 4)
}

func TestSnapshotLabels(t *testing.T) {
	s := Snapshot{TotalDown: 1536, TotalUp: 100, DownRate: 2048, UpRate: 0, Hubs: "2/1/0"}
	labels := s.Labels()
	require.Len(t, labels, 5)
	assert.Equal(t, "1.50 KiB", labels[LabelDown])
	assert.Equal(t, "100 B", labels[LabelUp])
	assert.Equal(t, "2/1/0", labels[LabelHubs])
	assert.Equal(t, "2.00 KiB/s", labels[LabelDownSpeed])
	assert.Equal(t, "0 B/s", labels[LabelUpSpeed])
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KiB"},
		{1048576, "1.00 MiB"},
		{1572864, "1.50 MiB"},
		{1073741824, "1.00 GiB"},
		{1099511627776, "1.00 TiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in), "FormatBytes(%d)", tt.in)
	}
}
