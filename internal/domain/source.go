package domain

import "time"

// PlaylistItem is one track row of a curated playlist.
type PlaylistItem struct {
	PlaylistID  string    `json:"playlist_id"`
	TrackID     string    `json:"track_id"`
	TrackName   string    `json:"track_name"`
	ArtistNames []string  `json:"artist_names"`
	ArtistIDs   []string  `json:"artist_ids"`
	AddedAt     time.Time `json:"added_at"`
}

// ChannelVideo is one upload of a monitored video channel.
type ChannelVideo struct {
	VideoID      string    `json:"video_id"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	PublishedAt  time.Time `json:"published_at"`
}

// RelatedVideo is one element of the sample the scoring engine reasons about.
type RelatedVideo struct {
	VideoID            string `json:"video_id"`
	ChannelID          string `json:"channel_id"`
	ViewCount          uint64 `json:"view_count"`
	LikeCount          uint64 `json:"like_count"`
	CommentCount       uint64 `json:"comment_count"`
	ChannelSubscribers uint64 `json:"channel_subscribers"`
}

// RelatedSample is a bounded set of videos returned for a scoring query.
type RelatedSample struct {
	Query  string         `json:"query"`
	Videos []RelatedVideo `json:"videos"`
}

// ArtistProfile is what the catalog knows about an artist by name.
type ArtistProfile struct {
	SpotifyID        string   `json:"spotify_id"`
	Name             string   `json:"name"`
	Followers        int64    `json:"followers"`
	Popularity       int      `json:"popularity"`
	Genres           []string `json:"genres"`
	MonthlyListeners int64    `json:"monthly_listeners"`
}

// ChannelProfile is the public statistics of an artist's own video channel.
type ChannelProfile struct {
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title"`
	Subscribers int64  `json:"subscribers"`
	Views       int64  `json:"views"`
	Videos      int64  `json:"videos"`
}

// Candidate is one extracted artist appearance, ready to be merged.
type Candidate struct {
	Name       string
	Source     SourceKind
	SourceName string
	ExternalID string
	AppearedAt time.Time
}

// SourceRef names one configured playlist or channel.
type SourceRef struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (s SourceRef) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type ExtractionSettings struct {
	TracksPerPlaylist int  `yaml:"tracks_per_playlist" json:"tracks_per_playlist"`
	VideosPerChannel  int  `yaml:"videos_per_channel" json:"videos_per_channel"`
	EnrichNewArtists  bool `yaml:"enrich_new_artists" json:"enrich_new_artists"`
}

// SourcesConfig is the monitored-source catalogue.
type SourcesConfig struct {
	SpotifyPlaylists []SourceRef        `yaml:"spotify_playlists" json:"spotify_playlists"`
	YouTubeChannels  []SourceRef        `yaml:"youtube_channels" json:"youtube_channels"`
	Settings         ExtractionSettings `yaml:"extraction_settings" json:"extraction_settings"`
}
