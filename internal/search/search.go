// Package search ranks active memory records by lexical relevance, vector
// similarity, importance and relation graph signal.
package search

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/rcliao/memkeeper/internal/embedding"
	"github.com/rcliao/memkeeper/internal/graph"
	"github.com/rcliao/memkeeper/internal/model"
	"github.com/rcliao/memkeeper/internal/store"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = goerr.New("query must not be empty")

// Retrieval modes.
const (
	ModeLexical = "lexical"
	ModeVector  = "vector"
	ModeHybrid  = "hybrid"
)

// Weights are the ranking coefficients.
type Weights struct {
	// Mode selects the retrieval strategy; empty means lexical.
	Mode             string  `koanf:"mode" validate:"omitempty,oneof=lexical vector hybrid"`
	K1               float64 `koanf:"k1" validate:"gt=0"`
	B                float64 `koanf:"b" validate:"gte=0,lte=1"`
	ImportanceWeight float64 `koanf:"importance_weight" validate:"gte=0"`
	GraphWeight      float64 `koanf:"graph_weight" validate:"gte=0"`
	// MinSimilarity is the cosine floor for vector candidates.
	MinSimilarity float64 `koanf:"min_similarity" validate:"gte=-1,lte=1"`
	RRFK          float64 `koanf:"rrf_k" validate:"gt=0"`
	VectorWeight  float64 `koanf:"vector_weight" validate:"gte=0"`
	LexicalWeight float64 `koanf:"lexical_weight" validate:"gte=0"`
}

// DefaultWeights returns the default ranking coefficients.
func DefaultWeights() Weights {
	return Weights{
		Mode:             ModeLexical,
		K1:               1.2,
		B:                0.75,
		ImportanceWeight: 0.5,
		GraphWeight:      0.25,
		MinSimilarity:    0.55,
		RRFK:             60,
		VectorWeight:     1,
		LexicalWeight:    1,
	}
}

// Options filters a search.
type Options struct {
	Limit      int
	MemoryType model.MemoryType
	Tags       []string
	// NoTouch leaves last_touched_at of returned records unchanged.
	NoTouch bool
}

// Result is a ranked record.
type Result struct {
	Record      model.Record `json:"record"`
	Score       float64      `json:"score"`
	Lexical     float64      `json:"lexical"`
	VectorScore float64      `json:"vector_score,omitempty"`
	FusedScore  float64      `json:"fused_score,omitempty"`
	GraphScore  float64      `json:"graph_score"`
}

// Store is the persistence search needs.
type Store interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
	Touch(ctx context.Context, ids ...string) error
}

// Recorder receives search latency, typically a *metrics.Manager.
type Recorder interface {
	RecordSearch(duration time.Duration)
}

// Searcher runs ranked queries against a store.
type Searcher struct {
	store    Store
	weights  Weights
	logger   zerolog.Logger
	recorder Recorder
	embedder embedding.Embedder
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithWeights overrides the ranking coefficients.
func WithWeights(w Weights) Option {
	return func(s *Searcher) { s.weights = w }
}

// WithLogger sets the searcher logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Searcher) { s.logger = l.With().Str("component", "search").Logger() }
}

// WithRecorder reports search latency to rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Searcher) { s.recorder = rec }
}

// WithEmbedder sets the embedder used for the query vector.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Searcher) { s.embedder = e }
}

// New creates a Searcher.
func New(st Store, opts ...Option) *Searcher {
	s := &Searcher{
		store:    st,
		weights:  DefaultWeights(),
		logger:   zerolog.Nop(),
		embedder: embedding.NewHash(embedding.DefaultDimensions),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search ranks active records against query and touches the returned ones.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	started := time.Now()

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates := lo.Filter(snap.Records, func(r model.Record, _ int) bool {
		if opts.MemoryType != "" && r.MemoryType != opts.MemoryType {
			return false
		}
		for _, tag := range opts.Tags {
			if !slices.Contains(r.Tags, tag) {
				return false
			}
		}
		return true
	})

	g := graph.Build(snap.Records, snap.Edges)
	var qvec embedding.Vector
	if mode := s.weights.Mode; mode == ModeVector || mode == ModeHybrid {
		qvec = s.queryVector(ctx, query)
	}
	var results []Result
	if qvec != nil {
		results = RankWithVector(query, qvec, candidates, g, s.weights)
	} else {
		results = Rank(query, candidates, g, s.weights)
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	if !opts.NoTouch && len(results) > 0 {
		ids := lo.Map(results, func(r Result, _ int) string { return r.Record.ID })
		if err := s.store.Touch(ctx, ids...); err != nil {
			return nil, err
		}
	}

	if s.recorder != nil {
		s.recorder.RecordSearch(time.Since(started))
	}
	s.logger.Debug().Str("query", query).Int("candidates", len(candidates)).Int("results", len(results)).Msg("search")
	return results, nil
}

// queryVector embeds query. It returns nil when no usable vector could be
// produced, in which case the caller degrades to lexical ranking.
func (s *Searcher) queryVector(ctx context.Context, query string) embedding.Vector {
	qvec, src, err := embedding.Compute(ctx, s.embedder, query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("query embedding failed, using lexical ranking")
		return nil
	}
	if embedding.IsZero(qvec) {
		return nil
	}
	s.logger.Debug().Str("embedding_source", src).Msg("query embedded")
	return qvec
}

// Rank scores records with lexical relevance. Records that share no term
// with the query are dropped. The graph is used for the relation signal
// and may cover more records than are being ranked. Ties are broken by id,
// so the order is fully determined by the inputs.
func Rank(query string, records []model.Record, g *graph.Graph, w Weights) []Result {
	graphScores := g.Scores()
	results := []Result{}
	for _, m := range lexicalRanking(query, records, w) {
		rec := records[m.idx]
		gs := graphScores[rec.ID]
		results = append(results, Result{
			Record:     rec,
			Lexical:    m.score,
			GraphScore: gs,
			Score:      m.score*importanceBoost(rec, w) + w.GraphWeight*gs,
		})
	}
	sortResults(results)
	return results
}

// RankWithVector ranks records against a query vector. In vector mode only
// records whose cosine similarity reaches MinSimilarity are kept and the
// similarity is the base score. In hybrid mode the vector and lexical
// rankings are merged with reciprocal rank fusion, normalized so a record
// ranked first by both scores 1. The importance boost and graph signal are
// applied on top, as in Rank.
func RankWithVector(query string, qvec embedding.Vector, records []model.Record, g *graph.Graph, w Weights) []Result {
	graphScores := g.Scores()
	vector := vectorRanking(qvec, records, w.MinSimilarity)

	results := []Result{}
	if w.Mode != ModeHybrid {
		for _, m := range vector {
			rec := records[m.idx]
			gs := graphScores[rec.ID]
			results = append(results, Result{
				Record:      rec,
				VectorScore: m.score,
				GraphScore:  gs,
				Score:       m.score*importanceBoost(rec, w) + w.GraphWeight*gs,
			})
		}
		sortResults(results)
		return results
	}

	lexical := lexicalRanking(query, records, w)
	fused := fuse(vector, lexical, w)
	vectorScores := lo.SliceToMap(vector, func(m match) (int, float64) { return m.idx, m.score })
	lexicalScores := lo.SliceToMap(lexical, func(m match) (int, float64) { return m.idx, m.score })
	for _, m := range fused {
		rec := records[m.idx]
		gs := graphScores[rec.ID]
		results = append(results, Result{
			Record:      rec,
			Lexical:     lexicalScores[m.idx],
			VectorScore: vectorScores[m.idx],
			FusedScore:  m.score,
			GraphScore:  gs,
			Score:       m.score*importanceBoost(rec, w) + w.GraphWeight*gs,
		})
	}
	sortResults(results)
	return results
}

// match is a scored position in the records slice being ranked.
type match struct {
	idx   int
	id    string
	score float64
}

// fuse merges two rankings with weighted reciprocal rank fusion:
// weight/(k+rank+1) summed per record, divided by the best attainable sum.
// Both inputs must already be in rank order.
func fuse(vector, lexical []match, w Weights) []match {
	k := w.RRFK
	if k <= 0 {
		k = 60
	}
	best := (w.VectorWeight + w.LexicalWeight) / (k + 1)

	byIdx := map[int]*match{}
	order := []int{}
	add := func(list []match, weight float64) {
		for rank, m := range list {
			f, ok := byIdx[m.idx]
			if !ok {
				f = &match{idx: m.idx, id: m.id}
				byIdx[m.idx] = f
				order = append(order, m.idx)
			}
			f.score += weight / (k + float64(rank+1))
		}
	}
	add(vector, w.VectorWeight)
	add(lexical, w.LexicalWeight)

	out := make([]match, 0, len(order))
	for _, idx := range order {
		m := *byIdx[idx]
		if best > 0 {
			m.score /= best
		}
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

// lexicalRanking returns records sharing at least one term with query,
// best BM25 score first.
func lexicalRanking(query string, records []model.Record, w Weights) []match {
	terms := lo.Uniq(Tokenize(query))
	if len(terms) == 0 || len(records) == 0 {
		return nil
	}
	docs := lo.Map(records, func(r model.Record, _ int) string { return r.SearchText() })
	idx := newBM25Index(docs, w.K1, w.B)

	var out []match
	for i, rec := range records {
		if score := idx.score(i, terms); score > 0 {
			out = append(out, match{idx: i, id: rec.ID, score: score})
		}
	}
	sortMatches(out)
	return out
}

// vectorRanking returns records whose similarity to qvec reaches floor,
// most similar first. Records without a stored vector are hash-embedded
// from their search text; stored vectors of another width are folded.
func vectorRanking(qvec embedding.Vector, records []model.Record, floor float64) []match {
	var out []match
	for i, rec := range records {
		v := rec.Embedding
		switch {
		case len(v) == 0:
			v = embedding.Hash(rec.SearchText(), len(qvec))
		case len(v) != len(qvec):
			v = embedding.Resize(v, len(qvec))
		}
		if sim := embedding.CosineSimilarity(qvec, v); sim >= floor {
			out = append(out, match{idx: i, id: rec.ID, score: sim})
		}
	}
	sortMatches(out)
	return out
}

func importanceBoost(r model.Record, w Weights) float64 {
	return 1 + w.ImportanceWeight*r.Importance
}

func sortMatches(ms []match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].score != ms[j].score {
			return ms[i].score > ms[j].score
		}
		return ms[i].id < ms[j].id
	})
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}
