package storage

import (
	"encoding/binary"
	"math"
	"sort"
)

// serializeVector encodes float32 values little-endian, 4 bytes each
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector reverses serializeVector
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity returns the cosine of the angle between a and b.
// Zero-length or zero vectors have similarity 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity, in [0, 2]
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// rankMatches orders matches by ascending distance, ties broken by id, and
// keeps the first n
func rankMatches(matches []Match, n int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if n >= 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
