package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"orderflow-core/internal/export"
	"orderflow-core/pkg/db"
)

type listQuery struct {
	Limit int `form:"limit"`
}

type candlesQuery struct {
	Format string `form:"format"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"meta":        s.Meta,
		"pipeline":    s.Engine.Status(),
		"server_time": time.Now().UTC(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	snapshot := s.Metrics.GetSnapshot()
	c.JSON(http.StatusOK, snapshot)
}

// getCandles returns {candles, statistics, indications}, or the flat bar
// table with format=parquet.
func (s *Server) getCandles(c *gin.Context) {
	var q candlesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}

	switch strings.ToLower(q.Format) {
	case "", "json":
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Status(http.StatusOK)
		if err := export.WriteJSON(c.Writer, s.Engine.Export()); err != nil {
			s.logger.Warn().Err(err).Msg("write candles")
		}
	case "parquet":
		c.Header("Content-Type", "application/vnd.apache.parquet")
		c.Header("Content-Disposition", `attachment; filename="candles.parquet"`)
		c.Status(http.StatusOK)
		if err := export.WriteParquet(c.Writer, s.Engine.Candles()); err != nil {
			s.logger.Warn().Err(err).Msg("write candles parquet")
		}
	default:
		respondError(c, http.StatusBadRequest, "INVALID_FORMAT", "format must be json or parquet")
	}
}

func (s *Server) getProfiles(c *gin.Context)     { c.JSON(http.StatusOK, s.Engine.Profiles()) }
func (s *Server) getPriceActions(c *gin.Context) { c.JSON(http.StatusOK, s.Engine.PriceActions()) }
func (s *Server) getLevels(c *gin.Context)       { c.JSON(http.StatusOK, s.Engine.Levels()) }
func (s *Server) getVolatility(c *gin.Context)   { c.JSON(http.StatusOK, s.Engine.Volatility()) }
func (s *Server) getExtremes(c *gin.Context)     { c.JSON(http.StatusOK, s.Engine.Extremes()) }
func (s *Server) getBets(c *gin.Context)         { c.JSON(http.StatusOK, s.Engine.Bets()) }
func (s *Server) getStats(c *gin.Context)        { c.JSON(http.StatusOK, s.Engine.Statistics()) }
func (s *Server) getStreaks(c *gin.Context)      { c.JSON(http.StatusOK, s.Engine.Streaks()) }
func (s *Server) getSamples(c *gin.Context)      { c.JSON(http.StatusOK, s.Engine.Samples()) }

// --- Persisted runs ---

func (s *Server) requireDB(c *gin.Context) bool {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database not configured")
		return false
	}
	return true
}

func (s *Server) bindList(c *gin.Context) (listQuery, bool) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return q, false
	}
	q.normalize()
	return q, true
}

func (s *Server) listRuns(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	q, ok := s.bindList(c)
	if !ok {
		return
	}
	runs, err := s.DB.Queries().ListRuns(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	run, err := s.DB.Queries().GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "run not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getRunProfiles(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	q, ok := s.bindList(c)
	if !ok {
		return
	}
	rows, err := s.DB.Queries().GetProfilesByRun(c.Request.Context(), c.Param("id"), q.Limit)
	s.respondRows(c, rows, err)
}

func (s *Server) getRunPriceEvents(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	q, ok := s.bindList(c)
	if !ok {
		return
	}
	rows, err := s.DB.Queries().GetPriceEventsByRun(c.Request.Context(), c.Param("id"), q.Limit)
	s.respondRows(c, rows, err)
}

func (s *Server) getRunBets(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	q, ok := s.bindList(c)
	if !ok {
		return
	}
	rows, err := s.DB.Queries().GetBetsByRun(c.Request.Context(), c.Param("id"), q.Limit)
	s.respondRows(c, rows, err)
}

func (s *Server) getRunStreaks(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	rows, err := s.DB.Queries().GetStreaksByRun(c.Request.Context(), c.Param("id"))
	s.respondRows(c, rows, err)
}

func (s *Server) respondRows(c *gin.Context, rows any, err error) {
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}
