package domain

import (
	"encoding/json"
	"time"
)

// ScoreRecord is immutable once written. The current score of an artist is the
// most recent record for a given algorithm.
type ScoreRecord struct {
	ID                int64           `json:"id"`
	ArtistID          int64           `json:"artist_id"`
	AlgorithmName     string          `json:"algorithm_name"`
	AlgorithmVersion  string          `json:"algorithm_version"`
	DemandScore       float64         `json:"demand_score"`
	CompetitionScore  float64         `json:"competition_intensity"`
	OptimizationScore float64         `json:"optimization_score"`
	OverallScore      float64         `json:"overall_score"`
	Category          string          `json:"category"`
	Breakdown         json.RawMessage `json:"breakdown"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ScoreBreakdown is the full audit trail of one score computation.
type ScoreBreakdown struct {
	ArtistName       string `json:"artist_name"`
	Query            string `json:"query"`
	Genre            string `json:"genre"`
	AlgorithmName    string `json:"algorithm_name"`
	AlgorithmVersion string `json:"algorithm_version"`

	Demand      DemandBreakdown      `json:"demand"`
	Competition CompetitionBreakdown `json:"competition"`

	OptimizationScore   float64 `json:"optimization_score"`
	CategoryCoefficient float64 `json:"category_coefficient"`
	Composite           float64 `json:"composite"`
	EmptySample         bool    `json:"empty_sample"`

	Interpretation Interpretation `json:"interpretation"`
	ComputedAt     time.Time      `json:"computed_at"`
}

type DemandBreakdown struct {
	TrendScore     float64 `json:"trend_score"`
	TrendAvailable bool    `json:"trend_available"`
	MeanViews      float64 `json:"mean_views"`
	ViewScore      float64 `json:"view_score"`
	SampleSize     int     `json:"sample_size"`
	SampleScore    float64 `json:"sample_score"`
	Score          float64 `json:"score"`
}

type CompetitionBreakdown struct {
	UniqueChannels     int     `json:"unique_channels"`
	ConcentrationScore float64 `json:"concentration_score"`
	MeanSubscribers    float64 `json:"mean_subscribers"`
	AuthorityScore     float64 `json:"authority_score"`
	MeanViews          float64 `json:"mean_views"`
	EngagementScore    float64 `json:"engagement_score"`
	Intensity          float64 `json:"intensity"`
	Inverted           float64 `json:"inverted"`
}

type Interpretation struct {
	Category       string `json:"category"`
	Recommendation string `json:"recommendation"`
}

// ScoringWeights describes the composite blend of the active algorithm.
type ScoringWeights struct {
	AlgorithmName       string             `json:"algorithm_name"`
	AlgorithmVersion    string             `json:"algorithm_version"`
	Demand              float64            `json:"demand"`
	Competition         float64            `json:"competition"`
	Optimization        float64            `json:"optimization"`
	OptimizationConst   float64            `json:"optimization_constant"`
	CategoryCoefficient map[string]float64 `json:"category_coefficients"`
}
