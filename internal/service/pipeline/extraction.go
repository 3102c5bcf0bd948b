package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kapu/artist-radar/internal/constants"
	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/internal/service/extraction"
	"github.com/kapu/artist-radar/internal/service/jobs"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// progressEvery bounds how often entity-level progress is reported.
const progressEvery = 25

type sourceTask struct {
	kind domain.SourceKind
	ref  domain.SourceRef
}

// ExtractionProcessor walks every enabled source, extracts candidate names and
// merges them. A zero window means a full pass; otherwise items older than
// the window are skipped.
type ExtractionProcessor struct {
	kind      domain.JobKind
	window    time.Duration
	sources   domain.SourcesConfig
	playlists PlaylistSource
	channels  ChannelSource
	merger    *Merger
	logger    *zap.Logger
	now       func() time.Time
}

func NewFullExtraction(sources domain.SourcesConfig, playlists PlaylistSource, channels ChannelSource, merger *Merger, logger *zap.Logger) *ExtractionProcessor {
	return newExtraction(domain.JobFullExtraction, 0, sources, playlists, channels, merger, logger)
}

func NewIncrementalExtraction(window time.Duration, sources domain.SourcesConfig, playlists PlaylistSource, channels ChannelSource, merger *Merger, logger *zap.Logger) *ExtractionProcessor {
	if window <= 0 {
		window = constants.JobConfig.IncrementalWindow
	}
	return newExtraction(domain.JobIncrementalExtraction, window, sources, playlists, channels, merger, logger)
}

func newExtraction(kind domain.JobKind, window time.Duration, sources domain.SourcesConfig, playlists PlaylistSource, channels ChannelSource, merger *Merger, logger *zap.Logger) *ExtractionProcessor {
	return &ExtractionProcessor{
		kind:      kind,
		window:    window,
		sources:   sources,
		playlists: playlists,
		channels:  channels,
		merger:    merger,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *ExtractionProcessor) Kind() domain.JobKind {
	return p.kind
}

func (p *ExtractionProcessor) tasks() []sourceTask {
	tasks := make([]sourceTask, 0, len(p.sources.SpotifyPlaylists)+len(p.sources.YouTubeChannels))
	if p.playlists != nil {
		for _, ref := range p.sources.SpotifyPlaylists {
			if ref.IsEnabled() && ref.ID != "" {
				tasks = append(tasks, sourceTask{kind: domain.SourceSpotify, ref: ref})
			}
		}
	}
	if p.channels != nil {
		for _, ref := range p.sources.YouTubeChannels {
			if ref.IsEnabled() && ref.ID != "" {
				tasks = append(tasks, sourceTask{kind: domain.SourceYouTube, ref: ref})
			}
		}
	}
	return tasks
}

func (p *ExtractionProcessor) TotalUnits(context.Context) (int, error) {
	return len(p.tasks()), nil
}

type extractionCounters struct {
	sources   int
	processed int
	new       int
	updated   int
	skipped   int
}

func (c *extractionCounters) update(step, source string) domain.JobUpdate {
	return domain.JobUpdate{
		CurrentStep:       domain.Ptr(step),
		CurrentSource:     domain.Ptr(source),
		SourcesProcessed:  domain.Ptr(c.sources),
		EntitiesProcessed: domain.Ptr(c.processed),
		EntitiesSaved:     domain.Ptr(c.new + c.updated),
		NewEntities:       domain.Ptr(c.new),
		UpdatedEntities:   domain.Ptr(c.updated),
	}
}

func (c *extractionCounters) summary(window time.Duration, errs int) domain.JobSummary {
	return domain.JobSummary{
		"sources_processed":  c.sources,
		"entities_processed": c.processed,
		"new_entities":       c.new,
		"updated_entities":   c.updated,
		"skipped_items":      c.skipped,
		"errors":             errs,
		"window_hours":       window.Hours(),
	}
}

// Run processes sources in order. A source that fails is recorded and skipped;
// pool-wide quota exhaustion ends the run with the work done so far.
func (p *ExtractionProcessor) Run(ctx context.Context, progress jobs.ProgressFunc, cancelled jobs.CancelFunc) (domain.JobSummary, error) {
	var (
		counters extractionCounters
		errs     int
		cutoff   time.Time
	)
	if p.window > 0 {
		cutoff = p.now().Add(-p.window)
	}

	for _, task := range p.tasks() {
		if cancelled() {
			return counters.summary(p.window, errs), nil
		}
		if err := ctx.Err(); err != nil {
			return counters.summary(p.window, errs), err
		}
		progress(counters.update("fetching", task.ref.Name))

		candidates, skipped, err := p.collect(ctx, task, cutoff)
		counters.skipped += skipped
		if err != nil {
			if errors.IsQuotaExhausted(err) {
				return counters.summary(p.window, errs), err
			}
			errs++
			counters.sources++
			p.logger.Warn("Source fetch failed",
				zap.String("source", task.ref.Name),
				zap.String("kind", string(task.kind)),
				zap.Error(err))
			u := counters.update("fetching", task.ref.Name)
			u.Errors = []string{fmt.Sprintf("%s: %v", task.ref.Name, err)}
			progress(u)
			continue
		}

		for i, c := range extraction.Dedupe(candidates) {
			if cancelled() {
				progress(counters.update("merging", task.ref.Name))
				return counters.summary(p.window, errs), nil
			}

			result, err := p.merger.Merge(ctx, c)
			counters.processed++
			if err != nil {
				errs++
				u := counters.update("merging", task.ref.Name)
				u.Errors = []string{err.Error()}
				progress(u)
				continue
			}
			switch result {
			case MergeNew:
				counters.new++
			case MergeUpdated:
				counters.updated++
			}
			if (i+1)%progressEvery == 0 {
				progress(counters.update("merging", task.ref.Name))
			}
		}

		counters.sources++
		progress(counters.update("merging", task.ref.Name))

		p.logger.Info("Source processed",
			zap.String("source", task.ref.Name),
			zap.String("kind", string(task.kind)),
			zap.Int("candidates", len(candidates)),
			zap.Int("new_total", counters.new),
			zap.Int("updated_total", counters.updated))
	}

	return counters.summary(p.window, errs), nil
}

// collect fetches one source and turns its items into candidates. Malformed
// items are skipped and counted.
func (p *ExtractionProcessor) collect(ctx context.Context, task sourceTask, cutoff time.Time) ([]domain.Candidate, int, error) {
	settings := p.sources.Settings
	var (
		candidates []domain.Candidate
		skipped    int
	)

	switch task.kind {
	case domain.SourceSpotify:
		limit := settings.TracksPerPlaylist
		if limit <= 0 {
			limit = constants.ExtractionConfig.TracksPerPlaylist
		}
		items, err := p.playlists.PlaylistItems(ctx, task.ref.ID, limit)
		if err != nil {
			return nil, 0, err
		}
		for _, item := range items {
			if !cutoff.IsZero() && !item.AddedAt.IsZero() && item.AddedAt.Before(cutoff) {
				continue
			}
			found, err := extraction.FromPlaylistItem(item, task.ref.Name)
			if err != nil {
				skipped++
				p.logger.Debug("Playlist item skipped", zap.Error(err))
				continue
			}
			candidates = append(candidates, found...)
		}

	case domain.SourceYouTube:
		limit := settings.VideosPerChannel
		if limit <= 0 {
			limit = constants.ExtractionConfig.VideosPerChannel
		}
		videos, err := p.channels.ChannelVideos(ctx, task.ref.ID, limit, cutoff)
		if err != nil {
			return nil, 0, err
		}
		for _, video := range videos {
			found, err := extraction.FromChannelVideo(video, task.ref.Name)
			if err != nil {
				skipped++
				p.logger.Debug("Channel video skipped", zap.Error(err))
				continue
			}
			candidates = append(candidates, found...)
		}
	}

	return candidates, skipped, nil
}
