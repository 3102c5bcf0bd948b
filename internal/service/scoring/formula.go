// Package scoring computes the opportunity score of an artist from a trend
// signal and a sample of related videos.
package scoring

import (
	"strings"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
)

const (
	trendWeight  = 0.5
	viewWeight   = 0.35
	sampleWeight = 0.15

	concentrationWeight = 0.4
	authorityWeight     = 0.35
	engagementWeight    = 0.25
)

var categoryCoefficients = map[string]float64{
	"hip-hop": 1.0,
	"rap":     1.0,
	"trap":    1.05,
	"drill":   1.05,
	"r&b":     0.95,
	"pop":     0.9,
}

// Subscriber counts mapped to authority points; linear in between.
var authorityCurve = []struct{ subscribers, points float64 }{
	{0, 0},
	{1_000, 15},
	{10_000, 40},
	{100_000, 70},
	{1_000_000, 90},
	{10_000_000, 100},
}

var bands = []struct {
	min            float64
	category       string
	recommendation string
}{
	{80, "Excellent", "Strong opportunity: low competition for real demand. Produce for this artist now."},
	{65, "Very good", "Good opportunity: worth a regular slot in the release schedule."},
	{50, "Average", "Moderate opportunity: test a few uploads before committing."},
	{30, "Weak", "Crowded or low demand: only with a distinctive angle."},
	{0, "Very weak", "Poor opportunity: skip for now."},
}

// Signals is everything the formula needs, already fetched.
type Signals struct {
	Trend          float64
	TrendAvailable bool
	Sample         []domain.RelatedVideo
}

// Coefficient returns the category multiplier for genre; unknown genres get 1.
func Coefficient(genre string) float64 {
	if c, ok := categoryCoefficients[strings.ToLower(strings.TrimSpace(genre))]; ok {
		return c
	}
	return 1.0
}

// ViewScore maps a mean view count onto 0-100 with log-like buckets.
func ViewScore(views float64) float64 {
	switch {
	case views <= 0:
		return 0
	case views < 1_000:
		return views / 1_000 * 20
	case views < 10_000:
		return 20 + (views-1_000)/9_000*30
	case views < 100_000:
		return 50 + (views-10_000)/90_000*30
	default:
		return 80 + minFloat((views-100_000)/900_000*20, 20)
	}
}

// SampleScore rewards a deep result set, saturating at 50 videos.
func SampleScore(n int) float64 {
	v := float64(n)
	switch {
	case n <= 0:
		return 0
	case n < 5:
		return v / 5 * 25
	case n < 15:
		return 25 + (v-5)/10*25
	case n < 30:
		return 50 + (v-15)/15*25
	default:
		return 75 + minFloat((v-30)/20*25, 25)
	}
}

// ConcentrationScore is high when few channels own the sample.
func ConcentrationScore(uniqueChannels int) float64 {
	switch {
	case uniqueChannels < 3:
		return 100
	case uniqueChannels < 5:
		return 80
	case uniqueChannels < 8:
		return 60
	case uniqueChannels < 12:
		return 40
	default:
		return 20
	}
}

func AuthorityScore(meanSubscribers float64) float64 {
	if meanSubscribers <= 0 {
		return 0
	}
	last := authorityCurve[len(authorityCurve)-1]
	if meanSubscribers >= last.subscribers {
		return last.points
	}
	for i := 1; i < len(authorityCurve); i++ {
		lo, hi := authorityCurve[i-1], authorityCurve[i]
		if meanSubscribers < hi.subscribers {
			frac := (meanSubscribers - lo.subscribers) / (hi.subscribers - lo.subscribers)
			return lo.points + frac*(hi.points-lo.points)
		}
	}
	return last.points
}

// Interpret bands a composite score.
func Interpret(score float64) domain.Interpretation {
	for _, b := range bands {
		if score >= b.min {
			return domain.Interpretation{Category: b.category, Recommendation: b.recommendation}
		}
	}
	last := bands[len(bands)-1]
	return domain.Interpretation{Category: last.category, Recommendation: last.recommendation}
}

func Weights() domain.ScoringWeights {
	coefficients := make(map[string]float64, len(categoryCoefficients)+1)
	for k, v := range categoryCoefficients {
		coefficients[k] = v
	}
	coefficients["default"] = 1.0

	return domain.ScoringWeights{
		AlgorithmName:       constants.ScoringConfig.AlgorithmName,
		AlgorithmVersion:    constants.ScoringConfig.AlgorithmVersion,
		Demand:              constants.ScoringConfig.DemandWeight,
		Competition:         constants.ScoringConfig.CompetitionWeight,
		Optimization:        constants.ScoringConfig.OptimizationWeight,
		OptimizationConst:   constants.ScoringConfig.OptimizationScore,
		CategoryCoefficient: coefficients,
	}
}

// Compute is the whole formula. It is pure: identical inputs give identical
// breakdowns apart from ComputedAt.
func Compute(artistName, query, genre string, s Signals, now time.Time) domain.ScoreBreakdown {
	if genre == "" {
		genre = domain.DefaultGenre
	}
	cfg := constants.ScoringConfig
	coefficient := Coefficient(genre)

	views := make([]float64, 0, len(s.Sample))
	channelSubs := make(map[string]float64)
	for _, v := range s.Sample {
		views = append(views, float64(v.ViewCount))
		if v.ChannelID != "" {
			if prev, ok := channelSubs[v.ChannelID]; !ok || float64(v.ChannelSubscribers) > prev {
				channelSubs[v.ChannelID] = float64(v.ChannelSubscribers)
			}
		}
	}
	meanViews := util.Mean(views)

	trend := util.Clamp(s.Trend, 0, 100)
	demand := domain.DemandBreakdown{
		TrendScore:     util.Round2(trend),
		TrendAvailable: s.TrendAvailable,
		MeanViews:      util.Round2(meanViews),
		ViewScore:      util.Round2(ViewScore(meanViews)),
		SampleSize:     len(s.Sample),
		SampleScore:    util.Round2(SampleScore(len(s.Sample))),
	}
	demandScore := util.Clamp(trendWeight*trend+viewWeight*ViewScore(meanViews)+sampleWeight*SampleScore(len(s.Sample)), 0, 100)
	demand.Score = util.Round2(demandScore)

	breakdown := domain.ScoreBreakdown{
		ArtistName:          artistName,
		Query:               query,
		Genre:               genre,
		AlgorithmName:       cfg.AlgorithmName,
		AlgorithmVersion:    cfg.AlgorithmVersion,
		Demand:              demand,
		OptimizationScore:   cfg.OptimizationScore,
		CategoryCoefficient: coefficient,
		ComputedAt:          now,
	}

	if len(s.Sample) == 0 {
		breakdown.EmptySample = true
		breakdown.Competition = domain.CompetitionBreakdown{Inverted: 100}
		breakdown.Composite = util.Round2(util.Clamp(coefficient*demandScore, 0, 100))
		breakdown.Interpretation = Interpret(breakdown.Composite)
		return breakdown
	}

	subs := make([]float64, 0, len(channelSubs))
	for _, v := range channelSubs {
		subs = append(subs, v)
	}
	meanSubs := util.Mean(subs)

	concentration := ConcentrationScore(len(channelSubs))
	authority := AuthorityScore(meanSubs)
	engagement := ViewScore(meanViews)
	intensity := util.Clamp(concentrationWeight*concentration+authorityWeight*authority+engagementWeight*engagement, 0, 100)

	breakdown.Competition = domain.CompetitionBreakdown{
		UniqueChannels:     len(channelSubs),
		ConcentrationScore: concentration,
		MeanSubscribers:    util.Round2(meanSubs),
		AuthorityScore:     util.Round2(authority),
		MeanViews:          util.Round2(meanViews),
		EngagementScore:    util.Round2(engagement),
		Intensity:          util.Round2(intensity),
		Inverted:           util.Round2(100 - intensity),
	}

	raw := cfg.DemandWeight*demandScore + cfg.CompetitionWeight*(100-intensity) + cfg.OptimizationWeight*cfg.OptimizationScore
	breakdown.Composite = util.Round2(util.Clamp(raw*coefficient, 0, 100))
	breakdown.Interpretation = Interpret(breakdown.Composite)
	return breakdown
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
