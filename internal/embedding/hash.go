package embedding

import (
	"context"
	"hash/fnv"
)

// HashEmbedder maps each token to a signed bucket chosen by its FNV-1a
// hash. It needs no network and is deterministic, so it doubles as the
// fallback when a provider fails.
type HashEmbedder struct {
	dims int
}

// NewHash returns a hash embedder producing vectors of dims components.
func NewHash(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Hash embeds text without a provider. The result is unit length unless
// text has no tokens.
func Hash(text string, dims int) Vector {
	dims = max(dims, 1)
	v := make(Vector, dims)
	for _, tok := range Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		if sum&1 == 0 {
			v[sum%uint64(dims)]++
		} else {
			v[sum%uint64(dims)]--
		}
	}
	normalize(v)
	return v
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	return Hash(text, e.dims), nil
}

func (e *HashEmbedder) Dims() int      { return e.dims }
func (e *HashEmbedder) Source() string { return SourceHash }
