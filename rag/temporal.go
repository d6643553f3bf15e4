package rag

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// TemporalBooster re-weights fragments that carry timestamps using
// exponential decay: boosted = base * 2^(-age_days / half_life_days). With
// the default 7-day half-life a week-old fragment keeps half its score. It
// is a scoring pass over fragments the other agents already retrieved, not
// a source of its own; fragments without timestamps pass through untouched.
type TemporalBooster struct {
	halfLifeDays float64
	now          func() time.Time
	logger       *zap.Logger
}

// NewTemporalBooster builds the booster. A non-positive half-life disables
// boosting entirely.
func NewTemporalBooster(halfLifeDays float64, logger *zap.Logger) *TemporalBooster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalBooster{
		halfLifeDays: halfLifeDays,
		now:          time.Now,
		logger:       logger.With(zap.String("component", "temporal_booster")),
	}
}

// Boost rescores the fragments in place and returns the same slice.
func (b *TemporalBooster) Boost(frags []Fragment) []Fragment {
	if b.halfLifeDays <= 0 {
		return frags
	}

	now := b.now()
	boosted := 0
	for i := range frags {
		if frags[i].Timestamp.IsZero() {
			continue
		}
		ageDays := now.Sub(frags[i].Timestamp).Hours() / 24
		if ageDays < 0 {
			// clock skew: content from the future counts as fresh
			ageDays = 0
		}
		frags[i].Score = clampScore(frags[i].Score * math.Exp2(-ageDays/b.halfLifeDays))
		boosted++
	}

	if boosted > 0 {
		b.logger.Debug("temporal boost applied", zap.Int("fragments", boosted))
	}
	return frags
}
