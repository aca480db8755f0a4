package search

import (
	"math"

	"github.com/rcliao/memkeeper/internal/embedding"
)

// Tokenize splits text on every non-alphanumeric rune and lower-cases the
// pieces. Lexical ranking and hash embeddings share it.
func Tokenize(text string) []string {
	return embedding.Tokenize(text)
}

// bm25Index scores a fixed document set. Documents are identified by their
// position in the slice passed to newBM25Index.
type bm25Index struct {
	k1, b     float64
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

func newBM25Index(docs []string, k1, b float64) *bm25Index {
	idx := &bm25Index{
		k1:        math.Max(k1, 0.1),
		b:         math.Min(math.Max(b, 0), 1),
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}

	total := 0
	for i, doc := range docs {
		tokens := Tokenize(doc)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		for term := range freqs {
			idx.docFreq[term]++
		}
		idx.termFreqs[i] = freqs
		idx.docLens[i] = len(tokens)
		total += len(tokens)
	}
	if len(docs) > 0 {
		idx.avgDocLen = math.Max(float64(total)/float64(len(docs)), 1)
	}
	return idx
}

// score returns the BM25 score of document i for the query terms.
func (idx *bm25Index) score(i int, queryTerms []string) float64 {
	freqs := idx.termFreqs[i]
	if len(freqs) == 0 {
		return 0
	}

	n := float64(len(idx.termFreqs))
	docLen := float64(idx.docLens[i])
	var score float64
	for _, term := range queryTerms {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		norm := idx.k1 * (1 - idx.b + idx.b*docLen/idx.avgDocLen)
		score += idf * (tf * (idx.k1 + 1)) / (tf + norm)
	}
	return score
}
