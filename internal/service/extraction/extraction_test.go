package extraction

import (
	"reflect"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/pkg/errors"
)

func TestExtractCandidateNames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"separator with featuring", "Lil Baby & Gunna - Drip Too Hard (feat. Future)", []string{"Future", "Gunna", "Lil Baby"}},
		{"noise only", "OFFICIAL MUSIC VIDEO", []string{}},
		{"x separator", "Drake x 21 Savage - Rich Flex", []string{"21 Savage", "Drake"}},
		{"html entities", "Kendrick Lamar &amp; SZA - All The Stars", []string{"Kendrick Lamar", "SZA"}},
		{"em dash", "Bad Bunny — Monaco", []string{"Bad Bunny"}},
		{"bare ft in title", "Travis Scott - FE!N ft. Playboi Carti", []string{"Playboi Carti", "Travis Scott"}},
		{"cypher", "Cordae | The Cypher Effect", []string{"Cordae"}},
		{"on the radar", "Central Cee On The Radar Freestyle", []string{"Central Cee"}},
		{"freestyle", "Lil Tecca Freestyle", []string{"Lil Tecca"}},
		{"live performance", "Doja Cat (Live Performance)", []string{"Doja Cat"}},
		{"short bare name", "Ice Spice", []string{"Ice Spice"}},
		{"multi-line keeps first line", "Ice Spice\nStreaming everywhere now", []string{"Ice Spice"}},
		{"empty", "   ", []string{}},
		{"invalid utf8 dropped", "\xff\xfe bad utf8 - title", []string{"bad utf8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCandidateNames(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalizeTitleDropsInvalidBytes(t *testing.T) {
	got := NormalizeTitle("Digga D\xc3 &amp; \xffM24")
	if !utf8.ValidString(got) {
		t.Fatalf("expected valid utf8, got %q", got)
	}
	if got != "Digga D & M24" {
		t.Fatalf("expected %q, got %q", "Digga D & M24", got)
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	inputs := []string{
		"Lil Baby & Gunna - Drip Too Hard (feat. Future)",
		"Lil Durk x King Von - Still Trappin' [ft. Someone Else]",
		"“Quoted” Title – With Dash",
		"",
	}
	for _, in := range inputs {
		first := ExtractCandidateNames(in)
		second := ExtractCandidateNames(in)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%q: runs differ: %v vs %v", in, first, second)
		}
	}
}

func TestCleanCandidate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"@someone Lil Durk 2023", "Lil Durk", true},
		{"[Future]", "Future", true},
		{"The Weeknd", "The Weeknd", true},
		{"feat Drake", "", false},
		{"Drake x", "", false},
		{"2024", "", false},
		{"a", "", false},
		{"Music Video Premiere", "", false},
		{"The", "", false},
		{"Official", "", false},
		{"One Two Three Four Five", "", false},
	}

	for _, tt := range tests {
		got, ok := CleanCandidate(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("%q: expected (%q, %v), got (%q, %v)", tt.raw, tt.want, tt.ok, got, ok)
		}
	}
}

func TestSplitArtists(t *testing.T) {
	got := SplitArtists("A & B, C x D feat. E with F")
	want := []string{"A", "B", "C", "D", "E", "F"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFromPlaylistItem(t *testing.T) {
	added := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	item := domain.PlaylistItem{
		TrackID:     "t1",
		ArtistNames: []string{"Lil Baby", "OFFICIAL"},
		ArtistIDs:   []string{"a1", "a2"},
		AddedAt:     added,
	}

	got, err := FromPlaylistItem(item, "RapCaviar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Lil Baby" || got[0].ExternalID != "a1" || !got[0].AppearedAt.Equal(added) {
		t.Fatalf("unexpected candidates %+v", got)
	}

	item.AddedAt = time.Time{}
	if _, err := FromPlaylistItem(item, "RapCaviar"); !errors.IsExtractionParse(err) {
		t.Fatalf("expected extraction parse error, got %v", err)
	}
}

func TestFromChannelVideo(t *testing.T) {
	published := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	got, err := FromChannelVideo(domain.ChannelVideo{
		VideoID:     "v1",
		Description: "Cordae | The Cypher Effect\nmore text",
		PublishedAt: published,
	}, "Cypher Channel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Cordae" || got[0].Source != domain.SourceYouTube {
		t.Fatalf("expected description fallback to yield Cordae, got %+v", got)
	}

	if _, err := FromChannelVideo(domain.ChannelVideo{VideoID: "v2", PublishedAt: published}, "x"); !errors.IsExtractionParse(err) {
		t.Fatalf("expected parse error for empty video, got %v", err)
	}
	if _, err := FromChannelVideo(domain.ChannelVideo{VideoID: "v3", Title: "Ice Spice"}, "x"); !errors.IsExtractionParse(err) {
		t.Fatalf("expected parse error for missing timestamp, got %v", err)
	}
}

func TestDedupeKeepsLatestAppearance(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	got := Dedupe([]domain.Candidate{
		{Name: "Lil Baby", AppearedAt: early, ExternalID: "a1"},
		{Name: "Gunna", AppearedAt: early},
		{Name: "lil  baby", AppearedAt: late},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if !got[0].AppearedAt.Equal(late) || got[0].ExternalID != "a1" {
		t.Fatalf("expected latest appearance with preserved id, got %+v", got[0])
	}
}
