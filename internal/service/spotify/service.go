package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/service/cache"
	"github.com/kapu/artist-radar/internal/service/upstream"
	"github.com/kapu/artist-radar/internal/util"
	"go.uber.org/zap"
)

type artistObject struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Followers struct {
		Total int64 `json:"total"`
	} `json:"followers"`
	Popularity int      `json:"popularity"`
	Genres     []string `json:"genres"`
}

type playlistTracksResponse struct {
	Items []struct {
		AddedAt string `json:"added_at"`
		Track   *struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
}

type artistSearchResponse struct {
	Artists struct {
		Items []artistObject `json:"items"`
	} `json:"artists"`
}

// SpotifyService reads curated playlists and artist profiles.
type SpotifyService struct {
	client    upstream.Requester
	listeners *ListenersScraper
	logger    *zap.Logger
}

// NewSpotifyService wires the Web API client. listeners may be nil, in which
// case profiles carry no monthly-listener figure.
func NewSpotifyService(client upstream.Requester, listeners *ListenersScraper, logger *zap.Logger) *SpotifyService {
	return &SpotifyService{client: client, listeners: listeners, logger: logger}
}

// PlaylistItems returns up to limit track rows of a playlist. Rows with an
// unparseable added_at keep a zero AddedAt; callers decide what to do with them.
func (s *SpotifyService) PlaylistItems(ctx context.Context, playlistID string, limit int) ([]domain.PlaylistItem, error) {
	params := url.Values{
		"limit": {strconv.Itoa(util.ClampInt(limit, 1, constants.APIConfig.MaxPlaylistPageSize))},
	}
	endpoint := fmt.Sprintf("playlists/%s/tracks", url.PathEscape(playlistID))

	body, err := s.client.Call(ctx, endpoint, params, cache.CategorySearch)
	if err != nil {
		return nil, err
	}

	var response playlistTracksResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode playlist tracks: %w", err)
	}

	items := make([]domain.PlaylistItem, 0, len(response.Items))
	for _, row := range response.Items {
		if row.Track == nil {
			continue
		}
		item := domain.PlaylistItem{
			PlaylistID: playlistID,
			TrackID:    row.Track.ID,
			TrackName:  row.Track.Name,
		}
		for _, a := range row.Track.Artists {
			item.ArtistNames = append(item.ArtistNames, a.Name)
			item.ArtistIDs = append(item.ArtistIDs, a.ID)
		}
		if added, err := time.Parse(time.RFC3339, row.AddedAt); err == nil {
			item.AddedAt = added
		}
		items = append(items, item)
	}

	s.logger.Debug("Playlist items fetched",
		zap.String("playlist", playlistID),
		zap.Int("items", len(items)))

	return items, nil
}

// SearchArtist looks an artist up by name. A miss returns (nil, nil).
func (s *SpotifyService) SearchArtist(ctx context.Context, name string) (*domain.ArtistProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{
		"q":     {"artist:" + name},
		"type":  {"artist"},
		"limit": {"1"},
	}
	body, err := s.client.Call(ctx, "search", params, cache.CategoryProfile)
	if err != nil {
		return nil, err
	}

	var response artistSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode artist search: %w", err)
	}
	if len(response.Artists.Items) == 0 {
		return nil, nil
	}

	a := response.Artists.Items[0]
	profile := &domain.ArtistProfile{
		SpotifyID:  a.ID,
		Name:       a.Name,
		Followers:  a.Followers.Total,
		Popularity: a.Popularity,
		Genres:     a.Genres,
	}

	if s.listeners != nil && a.ID != "" {
		listeners, err := s.listeners.MonthlyListeners(ctx, a.ID)
		if err != nil {
			s.logger.Debug("Monthly listeners unavailable",
				zap.String("artist", a.Name),
				zap.Error(err))
		} else {
			profile.MonthlyListeners = listeners
		}
	}

	return profile, nil
}
