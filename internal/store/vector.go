package store

import (
	"encoding/binary"
	"math"
	"sort"

	"qfleet/internal/types"
)

// encodeEmbedding packs a float32 vector as little-endian bytes, the layout
// sqlite-vec expects, so the same column serves both drivers.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, types.NewError(types.KindCorruptState, "embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rankChunks, rankExperiences and rankPatterns score candidates against a
// query embedding, drop rows below MinScore and return the top Limit
// results best-first. Shared by the local and remote providers.

func rankChunks(chunks []types.CodeChunk, embedding []float32, opts SimilarOptions) []ScoredChunk {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(embedding, c.Embedding)
		if score < opts.MinScore {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func rankExperiences(all []types.Experience, embedding []float32, opts SimilarOptions) []ScoredExperience {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	scored := make([]ScoredExperience, 0, len(all))
	for _, e := range all {
		if len(e.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(embedding, e.Embedding)
		if score < opts.MinScore {
			continue
		}
		scored = append(scored, ScoredExperience{Experience: e, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func rankPatterns(all []types.Pattern, embedding []float32, opts SimilarOptions) []ScoredPattern {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	scored := make([]ScoredPattern, 0, len(all))
	for _, p := range all {
		if len(p.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(embedding, p.Embedding)
		if score < opts.MinScore {
			continue
		}
		scored = append(scored, ScoredPattern{Pattern: p, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
