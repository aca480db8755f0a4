// Package embedding computes text vectors for similarity ranking and
// duplicate detection.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// Sources recorded next to a stored vector.
const (
	SourceHash     = "hash-fnv1a"
	SourceProvider = "provider-openai-compatible"
)

// DefaultDimensions is the width of stored and compared vectors.
const DefaultDimensions = 128

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
	Source() string
}

// ErrMalformedVector is returned when an encoded vector cannot be decoded.
var ErrMalformedVector = goerr.New("malformed embedding vector")

// CosineSimilarity computes cosine similarity between two vectors. Vectors
// of different length, or with a zero norm, score 0.
func CosineSimilarity(a, b Vector) float64 {
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

// Tokenize splits text on every non-alphanumeric rune and lower-cases the
// pieces.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Resize folds v into dims buckets by index modulo dims and normalizes the
// result, so vectors from providers of any width compare against each other.
func Resize(v Vector, dims int) Vector {
	dims = max(dims, 1)
	out := make(Vector, dims)
	for i, x := range v {
		out[i%dims] += x
	}
	normalize(out)
	return out
}

// IsZero reports whether every component of v is zero.
func IsZero(v Vector) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func normalize(v Vector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	mag := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= mag
	}
}

// Encode packs v as little-endian float32 values.
func Encode(v Vector) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Decode reverses Encode.
func Decode(b []byte) (Vector, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, goerr.Wrap(ErrMalformedVector, "length is not a multiple of 4", goerr.V("bytes", len(b)))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
