package extraction

import (
	"strings"

	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/util"
	"github.com/kapu/artist-radar/pkg/errors"
)

// FromPlaylistItem cleans the credited artists of a track row. Playlist
// credits are already structured, so no title parsing happens.
func FromPlaylistItem(item domain.PlaylistItem, sourceName string) ([]domain.Candidate, error) {
	if item.AddedAt.IsZero() {
		return nil, errors.NewExtractionParseError(sourceName, item.TrackID, "missing added_at")
	}
	if len(item.ArtistNames) == 0 {
		return nil, errors.NewExtractionParseError(sourceName, item.TrackID, "track has no credited artists")
	}

	seen := newNameSet()
	ids := make(map[string]string, len(item.ArtistNames))
	for i, raw := range item.ArtistNames {
		seen.add(raw)
		if i < len(item.ArtistIDs) {
			if name, ok := CleanCandidate(raw); ok {
				ids[name] = item.ArtistIDs[i]
			}
		}
	}

	names := seen.sorted()
	candidates := make([]domain.Candidate, 0, len(names))
	for _, name := range names {
		candidates = append(candidates, domain.Candidate{
			Name:       name,
			Source:     domain.SourceSpotify,
			SourceName: sourceName,
			ExternalID: ids[name],
			AppearedAt: item.AddedAt,
		})
	}
	return candidates, nil
}

// FromChannelVideo extracts names from the video title, falling back to the
// description when the title is blank.
func FromChannelVideo(video domain.ChannelVideo, sourceName string) ([]domain.Candidate, error) {
	if video.PublishedAt.IsZero() {
		return nil, errors.NewExtractionParseError(sourceName, video.VideoID, "missing published_at")
	}

	text := strings.TrimSpace(video.Title)
	if text == "" {
		text = strings.TrimSpace(video.Description)
	}
	if text == "" {
		return nil, errors.NewExtractionParseError(sourceName, video.VideoID, "no title or description")
	}

	names := ExtractCandidateNames(text)
	candidates := make([]domain.Candidate, 0, len(names))
	for _, name := range names {
		candidates = append(candidates, domain.Candidate{
			Name:       name,
			Source:     domain.SourceYouTube,
			SourceName: sourceName,
			AppearedAt: video.PublishedAt,
		})
	}
	return candidates, nil
}

// Dedupe keeps one candidate per normalized name, the one with the latest
// appearance. Order follows first occurrence.
func Dedupe(candidates []domain.Candidate) []domain.Candidate {
	index := make(map[string]int, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := util.NormalizeName(c.Name)
		if i, ok := index[key]; ok {
			if c.AppearedAt.After(out[i].AppearedAt) {
				if c.ExternalID == "" {
					c.ExternalID = out[i].ExternalID
				}
				out[i] = c
			}
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}
