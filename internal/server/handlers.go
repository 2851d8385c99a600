package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"partsbin/internal"
	"partsbin/internal/pipeline"
)

const ndjsonContentType = "application/x-ndjson"

// handlePreview accepts an order-history document (raw body or a multipart
// "file" field) and returns the parsed preview. Clients that accept NDJSON
// get stage-by-stage progress lines followed by a terminal payload; others
// get a single JSON response.
func (s *Server) handlePreview(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	raw, err := s.readUpload(c)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty upload"})
		return
	}

	timeout := time.Duration(s.cfg.ParseTimeoutSec) * time.Second
	if strings.Contains(c.GetHeader("Accept"), ndjsonContentType) {
		s.streamPreview(c, raw, timeout)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	orders, stats, err := s.previewer.Preview(ctx, raw, nil)
	if err != nil {
		s.writePreviewError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preview": orders, "statistics": stats})
}

// streamPreview runs the pipeline in a goroutine and relays its progress
// events as NDJSON lines, finishing with a terminal complete or error line.
// A client disconnect cancels the session and stops the work.
func (s *Server) streamPreview(c *gin.Context, raw []byte, timeout time.Duration) {
	type previewResult struct {
		orders []internal.Order
		stats  internal.PreviewStatistics
		err    error
	}

	session := pipeline.NewSession(c.Request.Context(), timeout)
	defer session.Cancel()

	resultCh := make(chan previewResult, 1)
	go func() {
		orders, stats, err := s.previewer.Preview(session.Context(), raw, session)
		session.Close()
		resultCh <- previewResult{orders: orders, stats: stats, err: err}
	}()

	c.Header("Content-Type", ndjsonContentType)
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	flusher, _ := c.Writer.(http.Flusher)
	writeLine := func(v interface{}) {
		if err := enc.Encode(v); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	for evt := range session.Events() {
		if evt.Stage == pipeline.StageComplete {
			// The terminal line below carries the payload.
			continue
		}
		writeLine(evt)
	}

	res := <-resultCh
	if res.err != nil {
		writeLine(gin.H{"stage": pipeline.StageError, "error": res.err.Error()})
		return
	}
	writeLine(gin.H{
		"stage":      pipeline.StageComplete,
		"preview":    res.orders,
		"statistics": res.stats,
	})
}

func (s *Server) writePreviewError(c *gin.Context, err error) {
	var formatErr *internal.DocumentFormatError
	switch {
	case errors.As(err, &formatErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": formatErr.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "preview timed out"})
	default:
		s.log.Error("preview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
	}
}

// readUpload pulls the document bytes from a multipart "file" field when
// present, falling back to the raw request body.
func (s *Server) readUpload(c *gin.Context) ([]byte, error) {
	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing multipart field %q: %w", "file", err)
		}
		f, err := fileHeader.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request.Body)
}

type importOptionsRequest struct {
	CreateComponents *bool `json:"createComponents"`
	UpdateExisting   *bool `json:"updateExisting"`
	AllowDuplicates  *bool `json:"allowDuplicates"`
	MatchByTitle     *bool `json:"matchByTitle"`
}

// apply overlays the request's explicit flags on the defaults; absent
// fields keep their default value.
func (r *importOptionsRequest) apply(opts internal.ImportOptions) internal.ImportOptions {
	if r == nil {
		return opts
	}
	if r.CreateComponents != nil {
		opts.CreateComponents = *r.CreateComponents
	}
	if r.UpdateExisting != nil {
		opts.UpdateExisting = *r.UpdateExisting
	}
	if r.AllowDuplicates != nil {
		opts.AllowDuplicates = *r.AllowDuplicates
	}
	if r.MatchByTitle != nil {
		opts.MatchByTitle = *r.MatchByTitle
	}
	return opts
}

type commitRequest struct {
	Orders        []internal.Order      `json:"orders" binding:"required,min=1"`
	ImportOptions *importOptionsRequest `json:"importOptions"`
}

// handleCommit persists a previewed batch. The request is rejected up front
// when it exceeds the configured batch limits; otherwise partial success is
// reported through the result, never through the HTTP status.
func (s *Server) handleCommit(c *gin.Context) {
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(req.Orders) > s.cfg.MaxOrdersPerBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("batch exceeds %d orders", s.cfg.MaxOrdersPerBatch),
		})
		return
	}
	for _, order := range req.Orders {
		if len(order.Items) > s.cfg.MaxItemsPerOrder {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   fmt.Sprintf("order %s exceeds %d items", order.OrderNumber, s.cfg.MaxItemsPerOrder),
			})
			return
		}
	}

	opts := req.ImportOptions.apply(internal.DefaultImportOptions())

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(s.cfg.CommitTimeoutSec)*time.Second)
	defer cancel()

	result, err := s.reconciler.Commit(ctx, req.Orders, opts)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		// Orders committed before the failure stay committed; report them.
		c.JSON(status, gin.H{"success": false, "error": err.Error(), "results": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": result})
}

// handleReviewExport builds the manual-review workbook on the fly and
// serves it as a download.
func (s *Server) handleReviewExport(c *gin.Context) {
	limit := 1000
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	path := filepath.Join(os.TempDir(), "review-"+uuid.NewString()+".xlsx")
	defer os.Remove(path)

	count, err := pipeline.ExportReviewSheet(s.db, path, limit)
	if err != nil {
		s.log.Error("review export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("X-Review-Count", strconv.Itoa(count))
	c.FileAttachment(path, "manual-review.xlsx")
}
