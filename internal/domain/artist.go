package domain

import "time"

type SourceKind string

const (
	SourceSpotify SourceKind = "spotify"
	SourceYouTube SourceKind = "youtube"
	// SourceManual marks artists added through an on-demand collection.
	SourceManual  SourceKind = "manual"
)

const DefaultGenre = "hip-hop"

// Artist is a discovered act. Identity is NormalizedName; external ids are optional.
type Artist struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Genre          string `json:"genre"`

	SpotifyID        *string `json:"spotify_id,omitempty"`
	YouTubeChannelID *string `json:"youtube_channel_id,omitempty"`

	Metrics ArtistMetrics `json:"metrics"`

	// MostRecentAppearance is the latest item timestamp seen in any source.
	MostRecentAppearance *time.Time `json:"most_recent_appearance,omitempty"`
	// LastSeenAt is the wall-clock time of the last extraction pass touching the artist.
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	NeedsScoring bool       `json:"needs_scoring"`
	IsActive     bool       `json:"is_active"`

	DiscoveredVia SourceKind `json:"discovered_via"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ArtistMetrics is the latest per-source snapshot.
type ArtistMetrics struct {
	SpotifyFollowers   int64    `json:"spotify_followers"`
	SpotifyPopularity  int      `json:"spotify_popularity"`
	MonthlyListeners   int64    `json:"monthly_listeners"`
	SpotifyGenres      []string `json:"spotify_genres,omitempty"`
	YouTubeSubscribers int64    `json:"youtube_subscribers"`
	YouTubeViews       int64    `json:"youtube_views"`
	YouTubeVideos      int64    `json:"youtube_videos"`
}

// ArtistWithScore pairs an artist with its current score for ranking views.
type ArtistWithScore struct {
	Artist *Artist      `json:"artist"`
	Score  *ScoreRecord `json:"score"`
}
