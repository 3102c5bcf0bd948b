package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/kapu/artist-radar/internal/domain"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func sampleWith(uniqueChannels, size int, views, subs uint64) []domain.RelatedVideo {
	videos := make([]domain.RelatedVideo, 0, size)
	for i := 0; i < size; i++ {
		videos = append(videos, domain.RelatedVideo{
			VideoID:            fmt.Sprintf("v%d", i),
			ChannelID:          fmt.Sprintf("c%d", i%uniqueChannels),
			ViewCount:          views,
			ChannelSubscribers: subs,
		})
	}
	return videos
}

func TestEmptySampleIsDemandOnly(t *testing.T) {
	b := Compute("Nobody", "Nobody type beat", "hip-hop", Signals{Trend: 60, TrendAvailable: true}, fixedNow)

	if !b.EmptySample {
		t.Fatalf("expected empty sample flag")
	}
	if b.Competition.Intensity != 0 {
		t.Fatalf("expected zero intensity, got %v", b.Competition.Intensity)
	}
	if b.Demand.Score != 30 || b.Composite != 30 {
		t.Fatalf("expected demand = composite = 30, got %v / %v", b.Demand.Score, b.Composite)
	}
	if b.Interpretation.Category != "Weak" {
		t.Fatalf("expected Weak, got %s", b.Interpretation.Category)
	}

	trap := Compute("Nobody", "Nobody type beat", "trap", Signals{Trend: 60}, fixedNow)
	if trap.Composite != 31.5 {
		t.Fatalf("expected coefficient 1.05 applied, got %v", trap.Composite)
	}
}

func TestComputeKnownSample(t *testing.T) {
	sample := []domain.RelatedVideo{
		{VideoID: "v1", ChannelID: "c1", ViewCount: 1000, ChannelSubscribers: 1000},
		{VideoID: "v2", ChannelID: "c2", ViewCount: 3000, ChannelSubscribers: 10000},
	}
	b := Compute("Lil Test", "Lil Test type beat", "", Signals{Trend: 40, TrendAvailable: true, Sample: sample}, fixedNow)

	if b.Genre != domain.DefaultGenre || b.CategoryCoefficient != 1 {
		t.Fatalf("expected default genre, got %s (%v)", b.Genre, b.CategoryCoefficient)
	}
	if b.Demand.Score != 29.67 {
		t.Fatalf("expected demand 29.67, got %v", b.Demand.Score)
	}
	if b.Competition.UniqueChannels != 2 || b.Competition.ConcentrationScore != 100 || b.Competition.AuthorityScore != 27.5 {
		t.Fatalf("unexpected competition %+v", b.Competition)
	}
	if b.Competition.Intensity != 55.46 {
		t.Fatalf("expected intensity 55.46, got %v", b.Competition.Intensity)
	}
	if b.Composite != 39.68 {
		t.Fatalf("expected composite 39.68, got %v", b.Composite)
	}
	if b.AlgorithmName != "opportunity" || b.AlgorithmVersion != "2.0.0" {
		t.Fatalf("unexpected algorithm %s@%s", b.AlgorithmName, b.AlgorithmVersion)
	}
}

func TestDemandMonotonicInViews(t *testing.T) {
	prevView := -1.0
	prevDemand := -1.0
	for views := uint64(0); views <= 5_000_000; views += 2_500 {
		if vs := ViewScore(float64(views)); vs < prevView {
			t.Fatalf("view score decreased at %d: %v < %v", views, vs, prevView)
		} else {
			prevView = vs
		}

		b := Compute("A", "A type beat", "rap", Signals{Trend: 50, Sample: sampleWith(5, 20, views, 5000)}, fixedNow)
		if b.Demand.Score < prevDemand {
			t.Fatalf("demand decreased at %d views: %v < %v", views, b.Demand.Score, prevDemand)
		}
		prevDemand = b.Demand.Score
	}
}

func TestIntensityMonotonicInConcentration(t *testing.T) {
	prev := -1.0
	// Fewer unique channels means a more concentrated sample.
	for unique := 20; unique >= 1; unique-- {
		b := Compute("A", "A type beat", "rap", Signals{Sample: sampleWith(unique, 20, 10_000, 50_000)}, fixedNow)
		if b.Competition.Intensity < prev {
			t.Fatalf("intensity decreased at %d channels: %v < %v", unique, b.Competition.Intensity, prev)
		}
		prev = b.Competition.Intensity
	}
}

func TestCompositeIsClamped(t *testing.T) {
	b := Compute("A", "A type beat", "drill", Signals{Trend: 100, Sample: sampleWith(20, 50, 10, 0)}, fixedNow)
	if b.Composite < 0 || b.Composite > 100 {
		t.Fatalf("composite out of range: %v", b.Composite)
	}

	b = Compute("A", "A type beat", "pop", Signals{Trend: -50, Sample: sampleWith(1, 50, 50_000_000, 50_000_000)}, fixedNow)
	if b.Composite < 0 || b.Composite > 100 {
		t.Fatalf("composite out of range: %v", b.Composite)
	}
}

func TestInterpretBands(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "Excellent"},
		{80, "Excellent"},
		{79.99, "Very good"},
		{65, "Very good"},
		{50, "Average"},
		{30, "Weak"},
		{29.99, "Very weak"},
		{0, "Very weak"},
	}
	for _, tt := range tests {
		if got := Interpret(tt.score).Category; got != tt.want {
			t.Fatalf("score %v: expected %s, got %s", tt.score, tt.want, got)
		}
	}
}

func TestSampleAndAuthorityCurves(t *testing.T) {
	if SampleScore(0) != 0 || SampleScore(5) != 25 || SampleScore(15) != 50 || SampleScore(30) != 75 || SampleScore(50) != 100 || SampleScore(500) != 100 {
		t.Fatalf("unexpected sample curve")
	}
	if AuthorityScore(0) != 0 || AuthorityScore(1_000) != 15 || AuthorityScore(5_500) != 27.5 || AuthorityScore(50_000_000) != 100 {
		t.Fatalf("unexpected authority curve")
	}
}

func TestWeightsExposeDefaults(t *testing.T) {
	w := Weights()
	if w.Demand+w.Competition+w.Optimization != 1 {
		t.Fatalf("weights must sum to 1, got %+v", w)
	}
	if w.CategoryCoefficient["trap"] != 1.05 || w.CategoryCoefficient["default"] != 1 {
		t.Fatalf("unexpected coefficients %v", w.CategoryCoefficient)
	}
}
