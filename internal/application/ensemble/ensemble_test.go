package ensemble_test

import (
	"math"
	"testing"

	"github.com/alejandrodnm/polyforecast/internal/application/ensemble"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(model string, p, h float64) domain.Success {
	return domain.Success{Model: model, Probability: p, Entropy: h, EntropySource: domain.EntropyLogprobs}
}

func cfg() ensemble.Config {
	return ensemble.Config{DefaultThreshold: 4.0, Aggregate: ensemble.AggregateMin}
}

func TestCombine_WeightedAverageExcludesAbstentions(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.ModelWeights = map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}
	snap.DomainWeights[domain.DomainFinance] = map[string]float64{"a": 1.5}

	results := []domain.ModelResult{
		ok("a", 0.60, 1.0),
		ok("b", 0.40, 2.0),
		domain.Abstained{Model: "c", Reason: "timeout"},
	}
	e := ensemble.Combine(results, snap, domain.DomainFinance, cfg())

	// pesos crudos a = .75, b = .3 → .714, .286
	require.Len(t, e.Contributor, 2)
	assert.Equal(t, 1, e.Abstentions)
	assert.InDelta(t, 0.75/1.05, e.Weights["a"], 1e-9)
	assert.InDelta(t, 0.30/1.05, e.Weights["b"], 1e-9)
	assert.InDelta(t, (0.75*0.60+0.30*0.40)/1.05, e.Probability, 1e-9)
	assert.InDelta(t, 1.0, e.Entropy, 1e-9)
	assert.Equal(t, domain.ConfidenceHigh, e.Confidence)
	assert.NotContains(t, e.Weights, "c")
}

func TestCombine_ConvexCombination(t *testing.T) {
	snap := domain.NewSnapshot()
	for _, w := range [][3]float64{{1, 1, 1}, {0.9, 0.05, 0.05}, {0, 0.5, 0.5}, {0.2, 0.2, 0.6}} {
		snap.ModelWeights = map[string]float64{"a": w[0], "b": w[1], "c": w[2]}
		e := ensemble.Combine([]domain.ModelResult{ok("a", 0.1, 1), ok("b", 0.7, 1), ok("c", 0.35, 1)}, snap, domain.DomainPolitics, cfg())
		assert.GreaterOrEqual(t, e.Probability, 0.1)
		assert.LessOrEqual(t, e.Probability, 0.7)
		var sum float64
		for _, v := range e.Weights {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestCombine_KilledModelExcluded(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.ModelWeights = map[string]float64{"good": 1, "killed": 0}

	e := ensemble.Combine([]domain.ModelResult{ok("good", 0.3, 1), ok("killed", 0.9, 0.1)}, snap, domain.DomainPolitics, cfg())
	require.Len(t, e.Contributor, 1)
	assert.InDelta(t, 0.3, e.Probability, 1e-9)
	assert.InDelta(t, 1.0, e.Entropy, 1e-9)
}

func TestCombine_NoContributors(t *testing.T) {
	e := ensemble.Combine([]domain.ModelResult{domain.Abstained{Model: "a"}}, domain.NewSnapshot(), domain.DomainPolitics, cfg())
	assert.False(t, e.HasContributors())
	assert.Equal(t, domain.ConfidenceLow, e.Confidence)
	assert.True(t, math.IsNaN(e.Entropy))
}

func TestCombine_TierUsesDomainThreshold(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.Thresholds[domain.DomainSports] = 2.0
	results := []domain.ModelResult{ok("a", 0.5, 2.5)}

	assert.Equal(t, domain.ConfidenceHigh, ensemble.Combine(results, snap, domain.DomainFinance, cfg()).Confidence)
	e := ensemble.Combine(results, snap, domain.DomainSports, cfg())
	assert.Equal(t, domain.ConfidenceMedium, e.Confidence)
	assert.InDelta(t, 2.0, e.Threshold, 1e-9)

	results = []domain.ModelResult{ok("a", 0.5, 3.5)}
	assert.Equal(t, domain.ConfidenceLow, ensemble.Combine(results, snap, domain.DomainSports, cfg()).Confidence)
}

func TestCombine_WeightedMeanAggregate(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.ModelWeights = map[string]float64{"a": 0.5, "b": 0.5}
	c := ensemble.Config{DefaultThreshold: 2.0, Aggregate: ensemble.AggregateWeightedMean}

	e := ensemble.Combine([]domain.ModelResult{ok("a", 0.5, 1.0), ok("b", 0.5, 4.0)}, snap, domain.DomainPolitics, c)
	assert.InDelta(t, 2.5, e.Entropy, 1e-9)
	assert.Equal(t, domain.ConfidenceMedium, e.Confidence)

	e = ensemble.Combine([]domain.ModelResult{ok("a", 0.5, 1.0), ok("b", 0.5, 4.0)}, snap, domain.DomainPolitics, cfg())
	assert.InDelta(t, 1.0, e.Entropy, 1e-9)
}

func TestCombine_ProxyEntropyKeptApart(t *testing.T) {
	snap := domain.NewSnapshot()
	proxy := domain.Success{Model: "claude", Probability: 0.5, Entropy: 0.5, EntropySource: domain.EntropyProxy}

	e := ensemble.Combine([]domain.ModelResult{proxy, ok("gpt", 0.6, 3.0)}, snap, domain.DomainPolitics, cfg())
	assert.False(t, e.ProxyOnly)
	assert.InDelta(t, 3.0, e.Entropy, 1e-9)

	e = ensemble.Combine([]domain.ModelResult{proxy}, snap, domain.DomainPolitics, cfg())
	assert.True(t, e.ProxyOnly)
	assert.Equal(t, domain.ConfidenceMedium, e.Confidence)
}

func TestMinDomainWeight(t *testing.T) {
	snap := domain.NewSnapshot()
	snap.DomainWeights[domain.DomainFinance] = map[string]float64{"a": 1.2, "b": 0.3}
	e := ensemble.Combine([]domain.ModelResult{ok("a", 0.5, 1), ok("b", 0.5, 1)}, snap, domain.DomainFinance, cfg())
	assert.InDelta(t, 0.3, ensemble.MinDomainWeight(e, snap, domain.DomainFinance), 1e-9)
	assert.Zero(t, ensemble.MinDomainWeight(domain.EnsembleForecast{}, snap, domain.DomainFinance))
}
