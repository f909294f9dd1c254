package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/freshness"
	"github.com/tidewatch/tidewatch/internal/store"
)

const (
	queryTimeout = 15 * time.Second
	maxPageLimit = 2000
)

// handleStations returns station metadata, optionally filtered by bbox.
// GET /v1/stations?bbox=minLon,minLat,maxLon,maxLat
func (s *Server) handleStations(c *gin.Context) {
	bbox, ok := bboxParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	stations, err := s.data.ListStations(ctx, bbox)
	if err != nil {
		s.serverError(c, "list stations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stations, "meta": gin.H{"count": len(stations)}})
}

// handleObservations returns a page of the observation series.
// GET /v1/obs?station_id=&from=&to=&bbox=&qc=good|all&limit=&cursor=
func (s *Server) handleObservations(c *gin.Context) {
	q := store.ObservationQuery{StationID: stationParam(c)}

	switch c.DefaultQuery("qc", "good") {
	case "good":
	case "all":
		q.IncludeAll = true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "qc must be good or all"})
		return
	}

	var ok bool
	if q.BBox, ok = bboxParam(c); !ok {
		return
	}
	if q.From, ok = timeParam(c, "from"); !ok {
		return
	}
	if q.To, ok = timeParam(c, "to"); !ok {
		return
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1.." + strconv.Itoa(maxPageLimit)})
			return
		}
		q.Limit = limit
	}

	if raw := c.Query("cursor"); raw != "" {
		cur, err := store.DecodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
			return
		}
		q.Cursor = &cur
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	obs, next, err := s.data.Observations(ctx, q)
	if err != nil {
		s.serverError(c, "query observations", err)
		return
	}

	resp := gin.H{"data": obs, "meta": gin.H{"count": len(obs)}}
	if next != nil {
		resp["next_cursor"] = next.Encode()
	}
	c.JSON(http.StatusOK, resp)
}

// handleSummary returns per-bucket aggregates of the observation series.
// GET /v1/obs/summary?period=daily|monthly&station_id=&from=&to=
func (s *Server) handleSummary(c *gin.Context) {
	q := store.SummaryQuery{StationID: stationParam(c)}

	switch c.DefaultQuery("period", "daily") {
	case "daily":
		q.Period = store.SummaryDaily
	case "monthly":
		q.Period = store.SummaryMonthly
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be daily or monthly"})
		return
	}

	var ok bool
	if q.From, ok = timeParam(c, "from"); !ok {
		return
	}
	if q.To, ok = timeParam(c, "to"); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.data.Summarize(ctx, q)
	if err != nil {
		s.serverError(c, "summarize observations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "meta": gin.H{"count": len(rows), "period": q.Period}})
}

// handleStatus reports per-source freshness from the job run ledger.
// GET /v1/status
func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	lastSuccess, err := s.data.LastSuccessPerSource(ctx)
	if err != nil {
		s.serverError(c, "read last successes", err)
		return
	}
	latest, err := s.data.LatestRunPerSource(ctx)
	if err != nil {
		s.serverError(c, "read latest runs", err)
		return
	}

	now := s.clock.Now().UTC()
	c.JSON(http.StatusOK, gin.H{
		"generated_at": now,
		"sources":      freshness.Snapshot(s.sources, lastSuccess, latest, now),
	})
}

// handleTile serves one rendered map tile with the content hash as ETag.
// GET /v1/tiles/:layer/:z/:x/:y?time=YYYY-MM
func (s *Server) handleTile(c *gin.Context) {
	var layer domain.TileLayer
	switch c.Param("layer") {
	case string(domain.LayerSST):
		layer = domain.LayerSST
	case string(domain.LayerCurrents):
		layer = domain.LayerCurrents
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown layer"})
		return
	}

	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errZ != nil || errX != nil || errY != nil || z < 0 || z > 12 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tile coordinates"})
		return
	}

	bucket := c.Query("time")
	if bucket == "" {
		bucket = domain.MonthBucket(s.clock.Now())
	} else if _, err := time.Parse("2006-01", bucket); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time must be YYYY-MM"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	data, hash, err := s.tiles.Tile(ctx, layer, z, x, y, bucket)
	if err != nil {
		s.serverError(c, "serve tile", err)
		return
	}
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tile not available for this time bucket"})
		return
	}

	etag := `"` + hash + `"`
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	contentType := "image/png"
	if layer == domain.LayerCurrents {
		contentType = "application/vnd.mapbox-vector-tile"
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) serverError(c *gin.Context, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// stationParam reads the station filter. station_id is the documented name;
// the bare station alias is kept for early clients.
func stationParam(c *gin.Context) string {
	if id := c.Query("station_id"); id != "" {
		return id
	}
	return c.Query("station")
}

func bboxParam(c *gin.Context) (*store.BBox, bool) {
	raw := c.Query("bbox")
	if raw == "" {
		return nil, true
	}
	bbox, err := store.ParseBBox(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return bbox, true
}

func timeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC3339"})
		return nil, false
	}
	u := t.UTC()
	return &u, true
}
