package scaleutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grovehq/grove/pkg/types"
)

func intp(v int) *int { return &v }

func TestCalculateDesired(t *testing.T) {
	tests := []struct {
		name    string
		current int
		adjType string
		number  int
		minStep int
		want    int
	}{
		{"exact capacity", 5, types.ExactCapacity, 3, 0, 3},
		{"change positive", 5, types.ChangeInCapacity, 2, 0, 7},
		{"change negative", 5, types.ChangeInCapacity, -2, 0, 3},
		{"percentage grow", 10, types.ChangeInPercentage, 30, 0, 13},
		{"percentage shrink", 10, types.ChangeInPercentage, -30, 0, 7},
		{"percentage below min step", 10, types.ChangeInPercentage, 5, 2, 12},
		{"negative percentage below min step", 10, types.ChangeInPercentage, -5, 2, 8},
		{"percentage truncates", 3, types.ChangeInPercentage, 50, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDesired(tt.current, tt.adjType, tt.number, tt.minStep)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSize(t *testing.T) {
	cluster := &types.Cluster{MinSize: 1, MaxSize: 5}

	tests := []struct {
		name    string
		desired int
		minSize *int
		maxSize *int
		want    string
	}{
		{"within bounds", 3, nil, nil, ""},
		{"below minimum", 0, nil, nil, "Attempted scaling below minimum size"},
		{"above maximum", 6, nil, nil, "Attempted scaling exceeds maximum size"},
		{"override max unbounded", 100, nil, intp(-1), ""},
		{"override min", 0, intp(0), nil, ""},
		{"inverted bounds", 3, intp(4), intp(2), "max_size 2 is less than min_size 4"},
		{"negative min", 3, intp(-1), nil, "min_size must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckSize(cluster, tt.desired, tt.minSize, tt.maxSize)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	cluster := &types.Cluster{MinSize: 1, MaxSize: 5}

	got, clamped := Truncate(cluster, 3, nil, nil)
	assert.Equal(t, 3, got)
	assert.False(t, clamped)

	got, clamped = Truncate(cluster, 9, nil, nil)
	assert.Equal(t, 5, got)
	assert.True(t, clamped)

	got, clamped = Truncate(cluster, 0, nil, nil)
	assert.Equal(t, 1, got)
	assert.True(t, clamped)

	unbounded := &types.Cluster{MinSize: 0, MaxSize: -1}
	got, clamped = Truncate(unbounded, 1000, nil, nil)
	assert.Equal(t, 1000, got)
	assert.False(t, clamped)
}

func TestSelectVictimsOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodes := []*types.Node{
		{ID: "n3", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "n1", CreatedAt: base},
		{ID: "n2", CreatedAt: base.Add(time.Hour)},
	}

	victims := SelectVictims(nodes, nil, 2)
	assert.Len(t, victims, 2)
	assert.Equal(t, "n1", victims[0].ID)
	assert.Equal(t, "n2", victims[1].ID)
}

func TestSelectVictimsTieBreakByID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodes := []*types.Node{
		{ID: "nb", CreatedAt: base},
		{ID: "na", CreatedAt: base},
	}

	victims := SelectVictims(nodes, nil, 1)
	assert.Equal(t, "na", victims[0].ID)
}

func TestSelectVictimsPreferCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nodes := []*types.Node{
		{ID: "n1", CreatedAt: base},
		{ID: "n2", CreatedAt: base.Add(time.Hour)},
		{ID: "n3", CreatedAt: base.Add(2 * time.Hour)},
	}

	victims := SelectVictims(nodes, []string{"n3"}, 1)
	assert.Equal(t, "n3", victims[0].ID)

	// Candidate list shorter than count falls back to oldest-first for
	// the remainder.
	victims = SelectVictims(nodes, []string{"n3"}, 2)
	assert.Equal(t, "n3", victims[0].ID)
	assert.Equal(t, "n1", victims[1].ID)

	// Unknown candidates are ignored.
	victims = SelectVictims(nodes, []string{"ghost"}, 1)
	assert.Equal(t, "n1", victims[0].ID)
}

func TestSelectVictimsCountClamped(t *testing.T) {
	nodes := []*types.Node{{ID: "n1"}}
	victims := SelectVictims(nodes, nil, 5)
	assert.Len(t, victims, 1)

	assert.Nil(t, SelectVictims(nodes, nil, 0))
}
