// Package pipeline holds the job processors driven by the orchestrator:
// source extraction and rescoring of pending artists.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/metrics"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// PlaylistSource lists the tracks of a curated playlist.
type PlaylistSource interface {
	PlaylistItems(ctx context.Context, playlistID string, limit int) ([]domain.PlaylistItem, error)
}

// ChannelSource lists the uploads of a monitored channel.
type ChannelSource interface {
	ChannelVideos(ctx context.Context, channelID string, maxResults int, publishedAfter time.Time) ([]domain.ChannelVideo, error)
}

// ProfileSource looks an artist up in the catalog. Nil, nil means no match.
type ProfileSource interface {
	SearchArtist(ctx context.Context, name string) (*domain.ArtistProfile, error)
}

// ChannelProfileSource finds an artist's own video channel. Nil, nil means no match.
type ChannelProfileSource interface {
	SearchChannel(ctx context.Context, name string) (*domain.ChannelProfile, error)
	ChannelProfile(ctx context.Context, channelID string) (*domain.ChannelProfile, error)
}

type MergeResult string

const (
	MergeNew       MergeResult = "new"
	MergeUpdated   MergeResult = "updated"
	MergeUnchanged MergeResult = "unchanged"
)

// Merger folds extracted candidates into the artist store.
type Merger struct {
	store    domain.ArtistStore
	profiles ProfileSource
	channels ChannelProfileSource
	enrich   bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewMerger builds a merger. profiles and channels may be nil; enrich turns
// metric lookups on for new and re-appearing artists.
func NewMerger(store domain.ArtistStore, profiles ProfileSource, channels ChannelProfileSource, enrich bool, logger *zap.Logger, m *metrics.Metrics) *Merger {
	return &Merger{
		store:    store,
		profiles: profiles,
		channels: channels,
		enrich:   enrich && (profiles != nil || channels != nil),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Merge creates the artist on first sight. An existing artist is flagged for
// scoring, and its metric snapshots refreshed, only when the candidate is a
// newer appearance than any seen so far.
func (m *Merger) Merge(ctx context.Context, c domain.Candidate) (MergeResult, error) {
	key := util.NormalizeName(c.Name)
	now := m.now()

	existing, err := m.store.FindArtistByName(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to look up %q: %w", c.Name, err)
	}

	if existing == nil {
		artist := &domain.Artist{
			Name:                 c.Name,
			NormalizedName:       key,
			Genre:                domain.DefaultGenre,
			MostRecentAppearance: util.TimePtr(c.AppearedAt),
			LastSeenAt:           util.TimePtr(now),
			NeedsScoring:         true,
			IsActive:             true,
			DiscoveredVia:        c.Source,
		}
		if c.Source == domain.SourceSpotify && c.ExternalID != "" {
			artist.SpotifyID = util.StringPtr(c.ExternalID)
		}
		m.refreshMetrics(ctx, artist)

		if err := m.store.CreateArtist(ctx, artist); err != nil {
			return "", fmt.Errorf("failed to create %q: %w", c.Name, err)
		}
		m.metrics.EntityMerged(string(MergeNew))
		m.logger.Debug("New artist discovered",
			zap.String("name", artist.Name),
			zap.String("source", c.SourceName))
		return MergeNew, nil
	}

	result := MergeUnchanged
	if existing.SpotifyID == nil && c.Source == domain.SourceSpotify && c.ExternalID != "" {
		existing.SpotifyID = util.StringPtr(c.ExternalID)
	}
	if existing.MostRecentAppearance == nil || c.AppearedAt.After(*existing.MostRecentAppearance) {
		existing.MostRecentAppearance = util.TimePtr(c.AppearedAt)
		existing.NeedsScoring = true
		result = MergeUpdated
		m.refreshMetrics(ctx, existing)
	}
	existing.LastSeenAt = util.TimePtr(now)

	if err := m.store.UpdateArtist(ctx, existing); err != nil {
		return "", fmt.Errorf("failed to update %q: %w", c.Name, err)
	}
	m.metrics.EntityMerged(string(result))
	return result, nil
}

// CollectResult reports an on-demand collection.
type CollectResult struct {
	Success          bool           `json:"success"`
	Created          bool           `json:"created"`
	Artist           *domain.Artist `json:"artist,omitempty"`
	SpotifyCollected bool           `json:"spotify_data_collected"`
	YouTubeCollected bool           `json:"youtube_data_collected"`
	Errors           []string       `json:"errors"`
}

// Collect looks one artist up in every metric source and stores the result.
// An unknown artist is only created when at least one source knows it.
func (m *Merger) Collect(ctx context.Context, name string) (*CollectResult, error) {
	name = util.CollapseSpaces(name)
	key := util.NormalizeName(name)
	if key == "" {
		return nil, errors.NewValidationError("artist name is required", "artist_name", name)
	}

	artist, err := m.store.FindArtistByName(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", name, err)
	}
	result := &CollectResult{Errors: []string{}}
	if artist == nil {
		result.Created = true
		artist = &domain.Artist{
			Name:           name,
			NormalizedName: key,
			Genre:          domain.DefaultGenre,
			IsActive:       true,
			DiscoveredVia:  domain.SourceManual,
		}
	}

	if m.profiles == nil {
		result.Errors = append(result.Errors, "spotify lookup not configured")
	} else if ok, err := m.applyProfile(ctx, artist); err != nil {
		result.Errors = append(result.Errors, "spotify: "+err.Error())
	} else if !ok {
		result.Errors = append(result.Errors, "no spotify data found")
	} else {
		result.SpotifyCollected = true
	}

	if m.channels == nil {
		result.Errors = append(result.Errors, "youtube lookup not configured")
	} else if ok, err := m.applyChannel(ctx, artist); err != nil {
		result.Errors = append(result.Errors, "youtube: "+err.Error())
	} else if !ok {
		result.Errors = append(result.Errors, "no youtube data found")
	} else {
		result.YouTubeCollected = true
	}

	result.Success = result.SpotifyCollected || result.YouTubeCollected
	if !result.Success {
		if result.Created {
			result.Created = false
			return result, nil
		}
		result.Artist = artist
		return result, nil
	}

	artist.NeedsScoring = true
	artist.LastSeenAt = util.TimePtr(m.now())
	if result.Created {
		if err := m.store.CreateArtist(ctx, artist); err != nil {
			return nil, fmt.Errorf("failed to create %q: %w", name, err)
		}
		m.metrics.EntityMerged(string(MergeNew))
	} else {
		if err := m.store.UpdateArtist(ctx, artist); err != nil {
			return nil, fmt.Errorf("failed to update %q: %w", name, err)
		}
		m.metrics.EntityMerged(string(MergeUpdated))
	}
	result.Artist = artist

	m.logger.Info("Artist collected",
		zap.String("name", artist.Name),
		zap.Int64("id", artist.ID),
		zap.Bool("created", result.Created),
		zap.Bool("spotify", result.SpotifyCollected),
		zap.Bool("youtube", result.YouTubeCollected))
	return result, nil
}

// refreshMetrics updates catalog and channel snapshots. Failures leave the
// artist as is.
func (m *Merger) refreshMetrics(ctx context.Context, artist *domain.Artist) {
	if !m.enrich {
		return
	}
	if m.profiles != nil {
		if _, err := m.applyProfile(ctx, artist); err != nil {
			m.logger.Debug("Artist enrichment failed",
				zap.String("name", artist.Name),
				zap.Error(err))
		}
	}
	if m.channels != nil {
		if _, err := m.applyChannel(ctx, artist); err != nil {
			m.logger.Debug("Channel enrichment failed",
				zap.String("name", artist.Name),
				zap.Error(err))
		}
	}
}

// applyProfile copies catalog metrics onto artist and reports whether the
// catalog knew it.
func (m *Merger) applyProfile(ctx context.Context, artist *domain.Artist) (bool, error) {
	profile, err := m.profiles.SearchArtist(ctx, artist.Name)
	if err != nil {
		return false, err
	}
	if profile == nil {
		return false, nil
	}
	// a fuzzy catalog hit for a different name is not the same act
	if util.NormalizeName(profile.Name) != util.NormalizeName(artist.Name) {
		return false, nil
	}

	if artist.SpotifyID == nil && profile.SpotifyID != "" {
		artist.SpotifyID = util.StringPtr(profile.SpotifyID)
	}
	artist.Metrics.SpotifyFollowers = profile.Followers
	artist.Metrics.SpotifyPopularity = profile.Popularity
	artist.Metrics.MonthlyListeners = profile.MonthlyListeners
	artist.Metrics.SpotifyGenres = profile.Genres
	// an operator-set genre is kept
	if len(profile.Genres) > 0 && (artist.Genre == "" || artist.Genre == domain.DefaultGenre) {
		artist.Genre = primaryGenre(profile.Genres)
	}
	return true, nil
}

// applyChannel copies channel statistics onto artist. A known channel id is
// read directly; otherwise the channel is searched by name.
func (m *Merger) applyChannel(ctx context.Context, artist *domain.Artist) (bool, error) {
	var (
		channel *domain.ChannelProfile
		err     error
	)
	if artist.YouTubeChannelID != nil {
		channel, err = m.channels.ChannelProfile(ctx, *artist.YouTubeChannelID)
	} else {
		channel, err = m.channels.SearchChannel(ctx, artist.Name)
	}
	if err != nil {
		return false, err
	}
	if channel == nil {
		return false, nil
	}

	if artist.YouTubeChannelID == nil && channel.ChannelID != "" {
		artist.YouTubeChannelID = util.StringPtr(channel.ChannelID)
	}
	artist.Metrics.YouTubeSubscribers = channel.Subscribers
	artist.Metrics.YouTubeViews = channel.Views
	artist.Metrics.YouTubeVideos = channel.Videos
	return true, nil
}

// Checked in order: the first tag fragment found wins.
var genreFragments = []struct{ fragment, genre string }{
	{"drill", "drill"},
	{"trap", "trap"},
	{"r&b", "r&b"},
	{"rap", "rap"},
	{"hip hop", "hip-hop"},
	{"hip-hop", "hip-hop"},
	{"pop", "pop"},
}

// primaryGenre maps catalog genre tags onto one scoring category.
func primaryGenre(tags []string) string {
	for _, g := range genreFragments {
		for _, tag := range tags {
			if util.ContainsFold(tag, g.fragment) {
				return g.genre
			}
		}
	}
	return domain.DefaultGenre
}
