// Package gazetteer resolves extracted village names against the reference
// gazetteer: an exact normalized match first, then a trigram fuzzy pass over
// candidates narrowed by the administrative hints.
package gazetteer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/resilience"
	"github.com/gramveda/claim-intake/internal/store"
)

// Resolution is a successful village match with its confidence.
type Resolution struct {
	Village   model.Village
	Hierarchy model.Hierarchy

	// Confidence is the 0-1 match confidence: 1.0 for a unique exact match,
	// the trigram similarity for a fuzzy match, discounted when the match
	// was ambiguous.
	Confidence float64
	Exact      bool
	Ambiguous  bool
}

// Resolver looks up villages in the gazetteer store.
type Resolver struct {
	store         store.Store
	threshold     float64
	maxCandidates int
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// defaultMaxCandidates bounds the fuzzy pass; districts in the pilot regions
// hold well under a thousand villages.
const defaultMaxCandidates = 2000

// NewResolver creates a Resolver. threshold is the minimum fuzzy similarity
// (0-1); rps bounds lookups per second so bulk ingests cannot starve the
// store; maxCandidates caps the fuzzy candidate pool.
func NewResolver(s store.Store, threshold, rps float64, maxCandidates int) *Resolver {
	if rps <= 0 {
		rps = 100
	}
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	return &Resolver{
		store:         s,
		threshold:     threshold,
		maxCandidates: maxCandidates,
		limiter:       rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:        zap.L().With(zap.String("component", "gazetteer")),
	}
}

// Resolve matches a village name within the given administrative hints.
// A nil Resolution with nil error means no candidate cleared the threshold.
func (r *Resolver) Resolve(ctx context.Context, name, state, district, block string) (*Resolution, error) {
	if name == "" {
		return nil, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gazetteer: rate limit wait")
	}

	norm := Normalize(name)

	exact, err := r.store.SearchVillages(ctx, store.VillageQuery{
		NameNorm: norm,
		State:    state,
		District: district,
		Block:    block,
	})
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "gazetteer: exact lookup"))
	}
	if len(exact) > 0 {
		res := resolutionFor(exact[0], 1.0, true)
		if len(exact) > 1 {
			// Same normalized name in several blocks; take the first but
			// mark the ambiguity so validation discounts it.
			res.Ambiguous = true
			res.Confidence = 0.8
			r.logger.Debug("ambiguous exact match",
				zap.String("village", name),
				zap.Int("candidates", len(exact)))
		}
		return res, nil
	}

	candidates, err := r.store.SearchVillages(ctx, store.VillageQuery{
		State:    state,
		District: district,
		Block:    block,
		Limit:    r.maxCandidates,
	})
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "gazetteer: candidate lookup"))
	}

	var best *model.Village
	var bestScore, runnerUp float64
	for i := range candidates {
		score := Similarity(norm, candidates[i].Name)
		if score > bestScore {
			runnerUp = bestScore
			bestScore = score
			best = &candidates[i]
		} else if score > runnerUp {
			runnerUp = score
		}
	}

	if best == nil || bestScore < r.threshold {
		r.logger.Debug("village unresolved",
			zap.String("village", name),
			zap.Float64("best_score", bestScore))
		return nil, nil
	}

	res := resolutionFor(*best, bestScore, false)
	if runnerUp >= r.threshold {
		res.Ambiguous = true
		res.Confidence = bestScore * 0.8
	}
	return res, nil
}

func resolutionFor(v model.Village, confidence float64, exact bool) *Resolution {
	return &Resolution{
		Village: v,
		Hierarchy: model.Hierarchy{
			State:     v.State,
			District:  v.District,
			Block:     v.Block,
			Village:   v.Name,
			VillageID: v.ID,
		},
		Confidence: confidence,
		Exact:      exact,
	}
}
