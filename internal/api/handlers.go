package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kapu/artist-radar/internal/service/discovery"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

type scoreRequest struct {
	Name  string `json:"name" binding:"required"`
	Genre string `json:"genre"`
}

type collectRequest struct {
	ArtistName string `json:"artist_name" binding:"required"`
}

type batchRequest struct {
	Names []string `json:"names" binding:"required"`
	Genre string   `json:"genre"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status := errors.StatusCode(err)
	if status >= 500 {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	if running, ok := errors.RunningJob(err); ok {
		body["running_job_id"] = running.RunningID
		body["running_kind"] = running.RunningKind
	}
	c.JSON(status, body)
}

func pathID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError("invalid artist id", "id", raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError("invalid integer", name, raw)
	}
	return n, nil
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func (s *Server) startJob(c *gin.Context) {
	st, err := s.svc.StartJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) jobStatus(c *gin.Context) {
	st, err := s.svc.GetJobStatus(c.Request.Context(), c.Query("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelJob(c *gin.Context) {
	st, err := s.svc.CancelJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) jobHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	jobs, err := s.svc.JobHistory(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) jobStream(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	current, err := s.svc.GetJobStatus(c.Request.Context(), "")
	if err != nil && !errors.IsNotFound(err) {
		s.fail(c, err)
		return
	}
	s.hub.ServeWS(c.Writer, c.Request, current)
}

func (s *Server) getArtist(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := s.svc.GetEntity(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) listArtists(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	includeInactive := false
	if raw := c.Query("include_inactive"); raw != "" {
		if includeInactive, err = strconv.ParseBool(raw); err != nil {
			s.fail(c, errors.NewValidationError("invalid boolean", "include_inactive", raw))
			return
		}
	}
	page, err := s.svc.ListArtists(c.Request.Context(), offset, limit, includeInactive)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) updateArtist(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req discovery.ArtistUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body", "body", err.Error()))
		return
	}
	artist, err := s.svc.UpdateArtist(c.Request.Context(), id, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, artist)
}

func (s *Server) deleteArtist(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.svc.DeactivateArtist(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_active": false})
}

func (s *Server) collectArtist(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body", "body", err.Error()))
		return
	}
	res, err := s.svc.CollectArtist(c.Request.Context(), req.ArtistName)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (s *Server) topArtists(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		s.fail(c, err)
		return
	}
	ranked, err := s.svc.ListTopByScore(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artists": ranked, "count": len(ranked)})
}

func (s *Server) artistScores(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.svc.ScoreHistory(c.Request.Context(), id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scores": records, "count": len(records)})
}

func (s *Server) rescoreArtist(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.svc.RescoreArtist(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) scoreOne(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body", "body", err.Error()))
		return
	}
	res, err := s.svc.ScoreOne(c.Request.Context(), req.Name, req.Genre)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) scoreBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.NewValidationError("invalid request body", "body", err.Error()))
		return
	}
	results, err := s.svc.ScoreBatch(c.Request.Context(), req.Names, req.Genre)
	if err != nil {
		s.fail(c, err)
		return
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"requested": len(results),
		"failed":    failed,
	})
}

func (s *Server) interpretation(c *gin.Context) {
	raw := c.Query("score")
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.fail(c, errors.NewValidationError("score must be a number", "score", raw))
		return
	}
	interp, err := s.svc.Interpretation(score)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"score": score, "interpretation": interp})
}

func (s *Server) weights(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Weights())
}

func (s *Server) quotaStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": s.svc.QuotaStatus()})
}

func (s *Server) quotaReset(c *gin.Context) {
	pools, err := s.svc.ResetQuota(c.Query("provider"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": pools})
}

func (s *Server) cacheStats(c *gin.Context) {
	stats, err := s.svc.CacheStats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": stats})
}

func (s *Server) cacheClear(c *gin.Context) {
	category := c.Param("category")
	deleted, err := s.svc.ClearCache(c.Request.Context(), category)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "deleted": deleted})
}
