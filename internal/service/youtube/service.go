package youtube

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
	"google.golang.org/api/youtube/v3"
)

// YouTubeService reads channel uploads and related-video samples. Every call
// goes through the rate-limited client, so results are cached per category.
type YouTubeService struct {
	client upstream.Requester
	logger *zap.Logger
}

func NewYouTubeService(client upstream.Requester, logger *zap.Logger) *YouTubeService {
	return &YouTubeService{client: client, logger: logger}
}

// ChannelVideos lists the newest uploads of a channel. A zero publishedAfter
// disables the time window.
func (ys *YouTubeService) ChannelVideos(ctx context.Context, channelID string, maxResults int, publishedAfter time.Time) ([]domain.ChannelVideo, error) {
	params := url.Values{
		"part":       {"snippet"},
		"channelId":  {channelID},
		"type":       {"video"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(util.ClampInt(maxResults, 1, 50))},
	}
	if !publishedAfter.IsZero() {
		params.Set("publishedAfter", publishedAfter.UTC().Format(time.RFC3339))
	}

	body, err := ys.client.Call(ctx, "search", params, cache.CategorySearch)
	if err != nil {
		return nil, err
	}

	var response youtube.SearchListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode channel search: %w", err)
	}

	videos := make([]domain.ChannelVideo, 0, len(response.Items))
	for _, item := range response.Items {
		if item == nil || item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		video := domain.ChannelVideo{
			VideoID:      item.Id.VideoId,
			ChannelID:    item.Snippet.ChannelId,
			ChannelTitle: item.Snippet.ChannelTitle,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
		}
		if published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = published
		}
		videos = append(videos, video)
	}

	ys.logger.Debug("Channel videos fetched",
		zap.String("channel", channelID),
		zap.Int("videos", len(videos)))

	return videos, nil
}

// VideoStatistics fetches statistics in batches of 50 ids.
func (ys *YouTubeService) VideoStatistics(ctx context.Context, videoIDs []string) (map[string]*youtube.VideoStatistics, error) {
	result := make(map[string]*youtube.VideoStatistics, len(videoIDs))

	for _, batch := range util.Chunk(util.UniqueStrings(videoIDs), constants.APIConfig.MaxIDsPerStatsCall) {
		params := url.Values{
			"part": {"statistics"},
			"id":   {strings.Join(batch, ",")},
		}
		body, err := ys.client.Call(ctx, "videos", params, cache.CategoryVideoStats)
		if err != nil {
			return nil, err
		}

		var response youtube.VideoListResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to decode video statistics: %w", err)
		}
		for _, video := range response.Items {
			if video != nil && video.Statistics != nil {
				result[video.Id] = video.Statistics
			}
		}
	}

	return result, nil
}

// ChannelStatistics fetches subscriber/view aggregates in batches of 50 ids.
func (ys *YouTubeService) ChannelStatistics(ctx context.Context, channelIDs []string) (map[string]*youtube.ChannelStatistics, error) {
	result := make(map[string]*youtube.ChannelStatistics, len(channelIDs))

	for _, batch := range util.Chunk(util.UniqueStrings(channelIDs), constants.APIConfig.MaxIDsPerStatsCall) {
		params := url.Values{
			"part": {"statistics"},
			"id":   {strings.Join(batch, ",")},
		}
		body, err := ys.client.Call(ctx, "channels", params, cache.CategoryChannelStats)
		if err != nil {
			return nil, err
		}

		var response youtube.ChannelListResponse
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to decode channel statistics: %w", err)
		}
		for _, channel := range response.Items {
			if channel != nil && channel.Statistics != nil {
				result[channel.Id] = channel.Statistics
			}
		}
	}

	return result, nil
}

// RelatedSample searches query and joins per-video and per-channel statistics
// onto at most maxResults videos: search, then videos, then channels.
func (ys *YouTubeService) RelatedSample(ctx context.Context, query string, maxResults int) (*domain.RelatedSample, error) {
	params := url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"type":       {"video"},
		"order":      {"relevance"},
		"maxResults": {strconv.Itoa(util.ClampInt(maxResults, 1, constants.APIConfig.RelatedSampleSize))},
	}

	body, err := ys.client.Call(ctx, "search", params, cache.CategorySearch)
	if err != nil {
		return nil, err
	}

	var response youtube.SearchListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode related search: %w", err)
	}

	sample := &domain.RelatedSample{Query: query, Videos: make([]domain.RelatedVideo, 0, len(response.Items))}
	videoIDs := make([]string, 0, len(response.Items))
	channelIDs := make([]string, 0, len(response.Items))
	for _, item := range response.Items {
		if item == nil || item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		channelID := ""
		if item.Snippet != nil {
			channelID = item.Snippet.ChannelId
		}
		sample.Videos = append(sample.Videos, domain.RelatedVideo{VideoID: item.Id.VideoId, ChannelID: channelID})
		videoIDs = append(videoIDs, item.Id.VideoId)
		if channelID != "" {
			channelIDs = append(channelIDs, channelID)
		}
	}

	if len(sample.Videos) == 0 {
		return sample, nil
	}

	videoStats, err := ys.VideoStatistics(ctx, videoIDs)
	if err != nil {
		return nil, err
	}
	channelStats, err := ys.ChannelStatistics(ctx, channelIDs)
	if err != nil {
		return nil, err
	}

	for i := range sample.Videos {
		v := &sample.Videos[i]
		if stats, ok := videoStats[v.VideoID]; ok {
			v.ViewCount = stats.ViewCount
			v.LikeCount = stats.LikeCount
			v.CommentCount = stats.CommentCount
		}
		if stats, ok := channelStats[v.ChannelID]; ok && !stats.HiddenSubscriberCount {
			v.ChannelSubscribers = stats.SubscriberCount
		}
	}

	ys.logger.Debug("Related sample fetched",
		zap.String("query", query),
		zap.Int("videos", len(sample.Videos)),
		zap.Int("channels", len(channelStats)))

	return sample, nil
}

// Suffixes auto-generated or label channels append to an artist name.
var channelTitleSuffixes = []string{" - topic", "vevo", " official"}

func channelTitleMatches(title, name string) bool {
	t := util.NormalizeName(title)
	n := util.NormalizeName(name)
	if t == n {
		return true
	}
	for _, suffix := range channelTitleSuffixes {
		if strings.HasSuffix(t, suffix) && strings.TrimSpace(strings.TrimSuffix(t, suffix)) == n {
			return true
		}
	}
	return false
}

// SearchChannel finds the artist's own channel by name. Only a channel whose
// title is the artist name is accepted; a miss returns (nil, nil).
func (ys *YouTubeService) SearchChannel(ctx context.Context, name string) (*domain.ChannelProfile, error) {
	name = util.CollapseSpaces(name)
	if name == "" {
		return nil, nil
	}

	params := url.Values{
		"part":       {"snippet"},
		"q":          {name},
		"type":       {"channel"},
		"maxResults": {strconv.Itoa(constants.APIConfig.ChannelSearchResults)},
	}
	body, err := ys.client.Call(ctx, "search", params, cache.CategorySearch)
	if err != nil {
		return nil, err
	}

	var response youtube.SearchListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode channel lookup: %w", err)
	}

	for _, item := range response.Items {
		if item == nil || item.Id == nil || item.Id.ChannelId == "" || item.Snippet == nil {
			continue
		}
		title := item.Snippet.Title
		if title == "" {
			title = item.Snippet.ChannelTitle
		}
		if channelTitleMatches(title, name) {
			return ys.ChannelProfile(ctx, item.Id.ChannelId)
		}
	}
	return nil, nil
}

// ChannelProfile reads title and statistics of one channel. An unknown id
// returns (nil, nil).
func (ys *YouTubeService) ChannelProfile(ctx context.Context, channelID string) (*domain.ChannelProfile, error) {
	params := url.Values{
		"part": {"snippet,statistics"},
		"id":   {channelID},
	}
	body, err := ys.client.Call(ctx, "channels", params, cache.CategoryChannelStats)
	if err != nil {
		return nil, err
	}

	var response youtube.ChannelListResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode channel profile: %w", err)
	}
	if len(response.Items) == 0 || response.Items[0] == nil {
		return nil, nil
	}

	channel := response.Items[0]
	profile := &domain.ChannelProfile{ChannelID: channel.Id}
	if channel.Snippet != nil {
		profile.Title = channel.Snippet.Title
	}
	if stats := channel.Statistics; stats != nil {
		if !stats.HiddenSubscriberCount {
			profile.Subscribers = int64(stats.SubscriberCount)
		}
		profile.Views = int64(stats.ViewCount)
		profile.Videos = int64(stats.VideoCount)
	}
	return profile, nil
}
