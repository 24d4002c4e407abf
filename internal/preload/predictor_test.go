package preload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yomu-app/yomu/internal/model"
)

func TestPredictPages_ForwardAsymmetry(t *testing.T) {
	tests := []struct {
		name      string
		tierRange int
		want      []int
	}{
		{"range 1", 1, []int{12, 10}},
		{"range 3", 3, []int{12, 13, 14, 10, 9}},
		{"range 5", 5, []int{12, 13, 14, 15, 16, 10, 9, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := predictPages(11, tt.tierRange, 100, model.DirectionForward)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPredictPages_BackwardAsymmetry(t *testing.T) {
	got := predictPages(11, 4, 100, model.DirectionBackward)
	// Full range behind, half (rounded up) ahead.
	assert.Equal(t, []int{10, 9, 8, 7, 12, 13}, got)
}

func TestPredictPages_ClampsToDocument(t *testing.T) {
	got := predictPages(1, 5, 4, model.DirectionForward)
	assert.Equal(t, []int{2, 3, 0}, got)

	got = predictPages(0, 3, 100, model.DirectionBackward)
	// Nothing behind page 0; the forward half remains.
	assert.Equal(t, []int{1, 2}, got)
}

func TestPredictPages_NoDuplicatesNoCurrent(t *testing.T) {
	got := predictPages(2, 5, 6, model.DirectionForward)
	seen := map[int]bool{}
	for _, p := range got {
		assert.False(t, seen[p], "duplicate page %d", p)
		assert.NotEqual(t, 2, p, "current page must never be enqueued by a tier")
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 6)
		seen[p] = true
	}
}

func TestPredictPages_DegenerateInputs(t *testing.T) {
	assert.Nil(t, predictPages(5, 0, 100, model.DirectionForward))
	assert.Nil(t, predictPages(5, 3, 0, model.DirectionForward))
	assert.Nil(t, predictPages(-1, 3, 100, model.DirectionForward))
	assert.Nil(t, predictPages(100, 3, 100, model.DirectionForward))
}
