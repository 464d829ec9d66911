package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relvacode/iso8601"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/config"
	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

// handleIngest accepts one JSON object from a gateway.
// POST /api/data
func (s *Server) handleIngest(c *gin.Context) {
	raw, err := telemetry.DecodePayload(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "No data received"})
		return
	}

	res, err := s.svc.Ingest(c.Request.Context(), raw)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to store reading"})
		return
	}

	if !res.Stored() {
		c.JSON(http.StatusOK, gin.H{
			"status":  "warning",
			"message": "Invalid numeric data received",
			"missing": res.Decision.Missing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Data logged successfully",
		"timestamp": telemetry.FormatTimestamp(res.Reading.Timestamp),
	})
}

// handleHistory returns the most recent readings, oldest first. Backend
// failures answer 500 with an empty array so charts keep rendering.
// GET /api/history
func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	readings, err := s.svc.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, readings)
		return
	}

	c.JSON(http.StatusOK, readings)
}

// handleExport streams readings as a CSV attachment.
// GET /api/export, GET /api/download_csv
func (s *Server) handleExport(c *gin.Context) {
	since, err := sinceFromQuery(c, "since", "window")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	var threshold time.Time
	if since != nil {
		threshold = *since
	}

	readings, err := s.svc.Export(c.Request.Context(), threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "export failed"})
		return
	}

	var buf bytes.Buffer
	if err := telemetry.WriteCSV(&buf, readings, threshold, s.svc.Columns()); err != nil {
		s.log.Error("write csv", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "export failed"})
		return
	}

	filename := fmt.Sprintf("lora_readings_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// handleCleanup purges readings. Without parameters every reading is removed.
// POST /api/cleanup
func (s *Server) handleCleanup(c *gin.Context) {
	olderThan, err := sinceFromQuery(c, "older_than", "max_age")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	removed, err := s.svc.Cleanup(c.Request.Context(), olderThan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Removed %d readings", removed),
		"removed": removed,
	})
}

// sinceFromQuery reads an absolute ISO-8601 instant from absKey or a
// duration back from now from relKey. At most one may be given.
func sinceFromQuery(c *gin.Context, absKey, relKey string) (*time.Time, error) {
	abs, rel := c.Query(absKey), c.Query(relKey)
	switch {
	case abs != "" && rel != "":
		return nil, fmt.Errorf("use either %s or %s", absKey, relKey)
	case abs != "":
		t, err := iso8601.ParseString(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", absKey)
		}
		t = t.UTC()
		return &t, nil
	case rel != "":
		d, err := config.ParseDuration(rel)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid %s", relKey)
		}
		t := time.Now().UTC().Add(-d)
		return &t, nil
	}
	return nil, nil
}
