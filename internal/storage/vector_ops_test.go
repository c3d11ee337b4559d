package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeVector_RoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3, 0}
	blob := serializeVector(v)
	assert.Len(t, blob, 16)
	assert.Equal(t, v, deserializeVector(blob))
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRankMatches(t *testing.T) {
	matches := []Match{
		{Record: Record{ID: "z"}, Distance: 0.5},
		{Record: Record{ID: "b"}, Distance: 0.1},
		{Record: Record{ID: "a"}, Distance: 0.5},
	}
	ranked := rankMatches(matches, 2)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
}
