package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"

	"secretfriend/internal/models"
	"secretfriend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	tenantCookie = "tenant_id"
	tenantHeader = "X-Tenant-ID"
	tenantKey    = "tenantID"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the draw service.
type HTTPHandler struct {
	service *services.DrawService
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service *services.DrawService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// TenantMiddleware resolves the tenant of a request from the X-Tenant-ID
// header or the tenant cookie, issuing a new cookie when neither is present.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		if tenantID == "" {
			tenantID, _ = c.Cookie(tenantCookie)
		}
		if tenantID == "" {
			tenantID = uuid.NewString()
			c.SetCookie(tenantCookie, tenantID, 0, "/", "", false, true)
		}
		c.Set(tenantKey, tenantID)
		c.Next()
	}
}

// RegisterPublicRoutes registers routes that need no tenant.
func (h *HTTPHandler) RegisterPublicRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)
}

// RegisterTenantRoutes registers all the tenant-scoped routes.
func (h *HTTPHandler) RegisterTenantRoutes(router gin.IRouter) {
	router.GET("/participants", h.ListParticipants)
	router.POST("/participants", h.AddParticipant)
	router.DELETE("/participants", h.ClearParticipants)
	router.DELETE("/participants/:email", h.RemoveParticipant)
	router.POST("/upload-participants-csv", h.UploadParticipantsCSV)
	router.GET("/config", h.GetConfig)
	router.PUT("/config", h.SetConfig)
	router.POST("/draw", h.PerformDraw)
	router.POST("/draw/retry", h.RetryDraw)
	router.POST("/draw/cancel", h.CancelDraw)
	router.GET("/draw/status", h.DrawStatus)
	router.GET("/export-failures-csv", h.ExportFailuresCSV)
	router.DELETE("/session", h.ClearSession)
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListParticipants returns the registered participants.
func (h *HTTPHandler) ListParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"participants": h.service.GetParticipants(c.GetString(tenantKey))})
}

type participantRequest struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// AddParticipant handles the form or JSON submission for adding a new participant.
func (h *HTTPHandler) AddParticipant(c *gin.Context) {
	tenantID := c.GetString(tenantKey)
	var req participantRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.service.AddParticipant(tenantID, req.Name, req.Email); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participants": h.service.GetParticipants(tenantID)})
}

// RemoveParticipant deletes the participant identified by email.
func (h *HTTPHandler) RemoveParticipant(c *gin.Context) {
	tenantID := c.GetString(tenantKey)
	if err := h.service.RemoveParticipant(tenantID, c.Param("email")); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": h.service.GetParticipants(tenantID)})
}

// ClearParticipants empties the participant list.
func (h *HTTPHandler) ClearParticipants(c *gin.Context) {
	tenantID := c.GetString(tenantKey)
	h.service.ClearParticipants(tenantID)
	c.JSON(http.StatusOK, gin.H{"participants": h.service.GetParticipants(tenantID)})
}

// UploadParticipantsCSV handles the CSV upload for participants (name,email per row).
func (h *HTTPHandler) UploadParticipantsCSV(c *gin.Context) {
	tenantID := c.GetString(tenantKey)
	file, _, err := c.Request.FormFile("participantCSV")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	added, skipped := 0, 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_csv", err)
			return
		}

		if len(record) != 2 {
			logger.Infof("Skipping malformed participant CSV record: %v", record)
			skipped++
			continue
		}
		if err := h.service.AddParticipant(tenantID, record[0], record[1]); err != nil {
			logger.Infof("Skipping participant CSV record %v: %v", record, err)
			skipped++
			continue
		}
		added++
	}

	c.JSON(http.StatusOK, gin.H{
		"added":        added,
		"skipped":      skipped,
		"participants": h.service.GetParticipants(tenantID),
	})
}

// GetConfig reports whether delivery is configured. The public key is not echoed.
func (h *HTTPHandler) GetConfig(c *gin.Context) {
	cfg := h.service.GetConfig(c.GetString(tenantKey))
	c.JSON(http.StatusOK, gin.H{
		"configured":  cfg.Complete(),
		"service_id":  cfg.ServiceID,
		"template_id": cfg.TemplateID,
	})
}

// SetConfig stores the delivery credentials of the tenant.
func (h *HTTPHandler) SetConfig(c *gin.Context) {
	var cfg models.DeliveryConfig
	if err := c.ShouldBind(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	tenantID := c.GetString(tenantKey)
	h.service.SetConfig(tenantID, cfg)
	c.JSON(http.StatusOK, gin.H{"configured": h.service.GetConfig(tenantID).Complete()})
}

// PerformDraw runs a draw and streams its progress as Server-Sent Events.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	h.streamRun(c, h.service.RunDraw)
}

// RetryDraw re-sends the notifications the last run failed to deliver.
func (h *HTTPHandler) RetryDraw(c *gin.Context) {
	h.streamRun(c, h.service.RetryFailed)
}

// CancelDraw stops the active draw before its next notification.
func (h *HTTPHandler) CancelDraw(c *gin.Context) {
	if err := h.service.CancelDraw(c.GetString(tenantKey)); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// DrawStatus returns the state of the current or last draw.
func (h *HTTPHandler) DrawStatus(c *gin.Context) {
	run, _ := h.service.GetRun(c.GetString(tenantKey))
	c.JSON(http.StatusOK, run)
}

// ExportFailuresCSV lists the participants the last run could not notify,
// including those a cancelled run never reached.
// Receivers are left out so the operator can resend without learning the pairs.
func (h *HTTPHandler) ExportFailuresCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=undelivered.csv")

	// Add BOM to ensure UTF-8 compatibility in Excel
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)
	if err := w.Write([]string{"name", "email", "error"}); err != nil {
		logger.Errorf("Error writing CSV header: %v", err)
		return
	}
	for _, f := range h.service.GetFailures(c.GetString(tenantKey)) {
		row := []string{f.Assignment.Giver.Name, f.Assignment.Giver.Email, f.Error}
		if err := w.Write(row); err != nil {
			logger.Errorf("Error writing CSV row: %v", err)
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logger.Errorf("Error flushing CSV writer: %v", err)
	}
}

// ClearSession forgets everything stored for the tenant and expires its cookie.
func (h *HTTPHandler) ClearSession(c *gin.Context) {
	h.service.ClearSession(c.GetString(tenantKey))
	c.SetCookie(tenantCookie, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

type runFunc func(ctx context.Context, tenantID string, onProgress func(models.ProgressEvent)) (models.DispatchReport, error)

type runResult struct {
	report models.DispatchReport
	err    error
}

// streamRun executes run and relays its progress. Errors raised before the
// first notification are answered with a plain JSON error instead of a stream.
// A client that disconnects abandons the run.
func (h *HTTPHandler) streamRun(c *gin.Context, run runFunc) {
	ctx := c.Request.Context()
	tenantID := c.GetString(tenantKey)

	events := make(chan models.ProgressEvent)
	done := make(chan runResult, 1)
	go func() {
		report, err := run(ctx, tenantID, func(ev models.ProgressEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
		done <- runResult{report: report, err: err}
	}()

	var (
		pending  []models.ProgressEvent
		finished *runResult
	)
	select {
	case ev := <-events:
		pending = append(pending, ev)
	case res := <-done:
		if res.err != nil {
			abortWithServiceError(c, res.err)
			return
		}
		finished = &res
	case <-ctx.Done():
		return
	}

	c.Stream(func(w io.Writer) bool {
		if len(pending) > 0 {
			c.SSEvent("progress", pending[0])
			pending = pending[1:]
			return true
		}
		if finished == nil {
			select {
			case ev := <-events:
				c.SSEvent("progress", ev)
				return true
			case res := <-done:
				finished = &res
			}
		}
		if finished.err != nil {
			status, code := errorStatus(finished.err)
			c.SSEvent("error", gin.H{"status": status, "code": code, "error": finished.err.Error()})
			return false
		}
		c.SSEvent("report", newReportView(finished.report))
		return false
	})
}

type failureView struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Error string `json:"error"`
}

type reportView struct {
	Sent   int                   `json:"sent"`
	Failed []failureView         `json:"failed"`
	Status models.DispatchStatus `json:"status"`
}

// newReportView strips receivers from a report before it leaves the server.
func newReportView(r models.DispatchReport) reportView {
	v := reportView{Sent: r.Sent, Status: r.Status, Failed: make([]failureView, 0, len(r.Failed))}
	for _, f := range r.Failed {
		v.Failed = append(v.Failed, failureView{Name: f.Assignment.Giver.Name, Email: f.Assignment.Giver.Email, Error: f.Error})
	}
	return v
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidParticipant):
		return http.StatusBadRequest, "invalid_participant"
	case errors.Is(err, services.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_email"
	case errors.Is(err, services.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case errors.Is(err, services.ErrUnknownParticipant):
		return http.StatusNotFound, "unknown_participant"
	case errors.Is(err, services.ErrInsufficientParticipants):
		return http.StatusUnprocessableEntity, "insufficient_participants"
	case errors.Is(err, services.ErrConfigurationMissing):
		return http.StatusPreconditionFailed, "configuration_missing"
	case errors.Is(err, services.ErrNoDerangementFound):
		return http.StatusServiceUnavailable, "no_derangement_found"
	case errors.Is(err, services.ErrDrawInProgress):
		return http.StatusConflict, "draw_in_progress"
	case errors.Is(err, services.ErrNothingToRetry):
		return http.StatusNotFound, "nothing_to_retry"
	case errors.Is(err, services.ErrNoActiveDraw):
		return http.StatusNotFound, "no_active_draw"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func abortWithServiceError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	respondError(c, status, code, err)
}

func respondError(c *gin.Context, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}
