package api

import (
	"alcyxob/coaching-app/internal/domain"
	"alcyxob/coaching-app/internal/service"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GenerationHandler exposes preview, generation and tracking queries.
type GenerationHandler struct {
	generationService service.GenerationService
}

func NewGenerationHandler(generationService service.GenerationService) *GenerationHandler {
	return &GenerationHandler{generationService: generationService}
}

// --- Request/Response Structs ---

type PreviewRequest struct {
	StartDate      time.Time  `json:"startDate" binding:"required"`
	EndDate        *time.Time `json:"endDate"`
	MaxOccurrences *int       `json:"maxOccurrences" binding:"omitempty,min=1"`
}

type PreviewResponse struct {
	Dates     []time.Time `json:"dates"`
	Count     int         `json:"count"`
	Truncated bool        `json:"truncated"`
}

type GenerateRequest struct {
	ClientID                 string                       `json:"clientId" binding:"required"`
	StartDate                time.Time                    `json:"startDate" binding:"required"`
	EndDate                  *time.Time                   `json:"endDate"`
	MaxOccurrences           *int                         `json:"maxOccurrences" binding:"omitempty,min=1"`
	Customizations           *domain.SessionCustomization `json:"customizations"`
	ApplyClientCustomization *bool                        `json:"applyClientCustomization"`
}

type BulkGenerateRequest struct {
	ClientIDs                []string                     `json:"clientIds" binding:"required,min=1"`
	StartDate                time.Time                    `json:"startDate" binding:"required"`
	EndDate                  *time.Time                   `json:"endDate"`
	MaxOccurrences           *int                         `json:"maxOccurrences" binding:"omitempty,min=1"`
	Customizations           *domain.SessionCustomization `json:"customizations"`
	ApplyClientCustomization *bool                        `json:"applyClientCustomization"`
}

type GeneratedSessionResponse struct {
	ID              string               `json:"id"`
	CoachID         string               `json:"coachId"`
	ClientID        string               `json:"clientId"`
	Date            time.Time            `json:"date"`
	Duration        int                  `json:"duration"`
	Status          domain.SessionStatus `json:"status"`
	Notes           string               `json:"notes,omitempty"`
	RecordID        string               `json:"recordId"`
	Sequence        int                  `json:"sequence"`
	TrackingPending bool                 `json:"trackingPending,omitempty"`
}

type ConflictResponse struct {
	Date                 time.Time `json:"date"`
	ConflictingSessionID string    `json:"conflictingSessionId"`
	Reason               string    `json:"reason"`
}

type FailureResponse struct {
	Date     time.Time `json:"date"`
	Sequence int       `json:"sequence"`
	RecordID string    `json:"recordId,omitempty"`
	Errors   []string  `json:"errors"`
}

type GenerateResponse struct {
	Success            bool                       `json:"success"`
	Message            string                     `json:"message"`
	ParentRecurrenceID string                     `json:"parentRecurrenceId"`
	BatchID            string                     `json:"batchId,omitempty"`
	GeneratedSessions  []GeneratedSessionResponse `json:"generatedSessions"`
	SkippedDates       []time.Time                `json:"skippedDates"`
	Conflicts          []ConflictResponse         `json:"conflicts"`
	Failures           []FailureResponse          `json:"failures"`
	TotalGenerated     int                        `json:"totalGenerated"`
	Truncated          bool                       `json:"truncated"`
	Interrupted        bool                       `json:"interrupted,omitempty"`
}

type ClientOutcomeResponse struct {
	ClientID string            `json:"clientId"`
	Result   *GenerateResponse `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type BulkGenerateResponse struct {
	BatchID        string                  `json:"batchId"`
	Outcomes       []ClientOutcomeResponse `json:"outcomes"`
	TotalGenerated int                     `json:"totalGenerated"`
	FailedClients  int                     `json:"failedClients"`
}

// --- Handler Methods ---

// Preview godoc
// @Summary Preview the dates a recurring template would generate
// @Tags Generation
// @Param templateId path string true "Template ID"
// @Param request body PreviewRequest true "Window"
// @Success 200 {object} PreviewResponse
// @Router /coach/templates/{templateId}/preview [post]
func (h *GenerationHandler) Preview(c *gin.Context) {
	coachID, templateID, ok := coachAndTemplate(c)
	if !ok {
		return
	}
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	res, err := h.generationService.Preview(c.Request.Context(), service.PreviewRequest{
		TemplateID:     templateID,
		CoachID:        coachID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		MaxOccurrences: req.MaxOccurrences,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, PreviewResponse{Dates: res.Dates, Count: len(res.Dates), Truncated: res.Truncated})
}

// Generate godoc
// @Summary Generate sessions for one client from a recurring template
// @Tags Generation
// @Param templateId path string true "Template ID"
// @Param request body GenerateRequest true "Generation request"
// @Success 201 {object} GenerateResponse
// @Failure 409 {object} gin.H "Generation already running"
// @Router /coach/templates/{templateId}/generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	coachID, templateID, ok := coachAndTemplate(c)
	if !ok {
		return
	}
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	clientID, err := primitive.ObjectIDFromHex(req.ClientID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid client ID format.")
		return
	}

	res, err := h.generationService.Generate(c.Request.Context(), service.GenerateRequest{
		TemplateID:               templateID,
		CoachID:                  coachID,
		ClientID:                 clientID,
		StartDate:                req.StartDate,
		EndDate:                  req.EndDate,
		MaxOccurrences:           req.MaxOccurrences,
		Customizations:           req.Customizations,
		ApplyClientCustomization: req.ApplyClientCustomization,
	})
	if err != nil {
		if res == nil {
			writeServiceError(c, err)
			return
		}
		// Interrupted run: report what was created.
		_ = c.Error(err)
		c.JSON(http.StatusOK, MapGenerateResultToResponse(res))
		return
	}

	c.JSON(http.StatusCreated, MapGenerateResultToResponse(res))
}

// BulkGenerate godoc
// @Summary Generate the same series for several clients under one batch
// @Tags Generation
// @Param templateId path string true "Template ID"
// @Param request body BulkGenerateRequest true "Bulk request"
// @Success 201 {object} BulkGenerateResponse
// @Router /coach/templates/{templateId}/generate/bulk [post]
func (h *GenerationHandler) BulkGenerate(c *gin.Context) {
	coachID, templateID, ok := coachAndTemplate(c)
	if !ok {
		return
	}
	var req BulkGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	clientIDs := make([]primitive.ObjectID, len(req.ClientIDs))
	for i, raw := range req.ClientIDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid client ID format: "+raw)
			return
		}
		clientIDs[i] = id
	}

	res, err := h.generationService.BulkGenerate(c.Request.Context(), service.BulkGenerateRequest{
		TemplateID:               templateID,
		CoachID:                  coachID,
		ClientIDs:                clientIDs,
		StartDate:                req.StartDate,
		EndDate:                  req.EndDate,
		MaxOccurrences:           req.MaxOccurrences,
		Customizations:           req.Customizations,
		ApplyClientCustomization: req.ApplyClientCustomization,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := BulkGenerateResponse{
		BatchID:        res.BatchID,
		Outcomes:       make([]ClientOutcomeResponse, len(res.Outcomes)),
		TotalGenerated: res.TotalGenerated,
		FailedClients:  res.FailedClients,
	}
	for i, o := range res.Outcomes {
		resp.Outcomes[i] = ClientOutcomeResponse{ClientID: o.ClientID.Hex(), Error: o.Error}
		if o.Result != nil {
			r := MapGenerateResultToResponse(o.Result)
			resp.Outcomes[i].Result = &r
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// GetTemplateRecords godoc
// @Summary List generation records of a template
// @Tags Tracking
// @Router /coach/templates/{templateId}/records [get]
func (h *GenerationHandler) GetTemplateRecords(c *gin.Context) {
	coachID, templateID, ok := coachAndTemplate(c)
	if !ok {
		return
	}
	records, err := h.generationService.RecordsByTemplate(c.Request.Context(), coachID, templateID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetTemplateUsage godoc
// @Summary Usage statistics of a template
// @Tags Tracking
// @Success 200 {object} domain.TemplateUsageStats
// @Router /coach/templates/{templateId}/usage [get]
func (h *GenerationHandler) GetTemplateUsage(c *gin.Context) {
	coachID, templateID, ok := coachAndTemplate(c)
	if !ok {
		return
	}
	stats, err := h.generationService.UsageStats(c.Request.Context(), coachID, templateID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *GenerationHandler) GetSeriesRecords(c *gin.Context) {
	coachID, ok := coachFromContext(c)
	if !ok {
		return
	}
	records, err := h.generationService.RecordsBySeries(c.Request.Context(), coachID, c.Param("seriesId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetSeriesCalendar godoc
// @Summary Download a series as an iCalendar file
// @Tags Tracking
// @Produce text/calendar
// @Router /coach/series/{seriesId}/calendar.ics [get]
func (h *GenerationHandler) GetSeriesCalendar(c *gin.Context) {
	coachID, ok := coachFromContext(c)
	if !ok {
		return
	}
	seriesID := c.Param("seriesId")
	body, err := h.generationService.SeriesCalendar(c.Request.Context(), coachID, seriesID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="series-`+seriesID+`.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func (h *GenerationHandler) GetBatchRecords(c *gin.Context) {
	coachID, ok := coachFromContext(c)
	if !ok {
		return
	}
	records, err := h.generationService.RecordsByBatch(c.Request.Context(), coachID, c.Param("batchId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// ExportBatchReport godoc
// @Summary Export a batch report to object storage
// @Tags Tracking
// @Success 201 {object} service.BatchReport
// @Router /coach/batches/{batchId}/report [post]
func (h *GenerationHandler) ExportBatchReport(c *gin.Context) {
	coachID, ok := coachFromContext(c)
	if !ok {
		return
	}
	report, err := h.generationService.ExportBatchReport(c.Request.Context(), coachID, c.Param("batchId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// --- Helpers ---

func coachFromContext(c *gin.Context) (primitive.ObjectID, bool) {
	coachID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, "Unable to identify coach from token.")
		return primitive.NilObjectID, false
	}
	return coachID, true
}

func coachAndTemplate(c *gin.Context) (primitive.ObjectID, primitive.ObjectID, bool) {
	coachID, ok := coachFromContext(c)
	if !ok {
		return primitive.NilObjectID, primitive.NilObjectID, false
	}
	templateID, err := primitive.ObjectIDFromHex(c.Param("templateId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid template ID format in URL path.")
		return primitive.NilObjectID, primitive.NilObjectID, false
	}
	return coachID, templateID, true
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrSeriesNotFound),
		errors.Is(err, service.ErrBatchNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTemplateAccessDenied):
		abortWithError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTemplateInactive),
		errors.Is(err, service.ErrTemplateNotRecurring),
		errors.Is(err, service.ErrInvalidTemplate):
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrGenerationInProgress):
		abortWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		abortWithError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		abortWithError(c, http.StatusGatewayTimeout, "Request timed out")
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

func MapGenerateResultToResponse(r *service.GenerateResult) GenerateResponse {
	resp := GenerateResponse{
		Success:            r.Success,
		Message:            r.Message,
		ParentRecurrenceID: r.ParentRecurrenceID,
		BatchID:            r.BatchID,
		GeneratedSessions:  make([]GeneratedSessionResponse, len(r.GeneratedSessions)),
		SkippedDates:       r.SkippedDates,
		Conflicts:          make([]ConflictResponse, len(r.Conflicts)),
		Failures:           make([]FailureResponse, len(r.Failures)),
		TotalGenerated:     r.TotalGenerated,
		Truncated:          r.Truncated,
		Interrupted:        r.Interrupted,
	}
	if resp.SkippedDates == nil {
		resp.SkippedDates = []time.Time{}
	}
	for i, g := range r.GeneratedSessions {
		resp.GeneratedSessions[i] = GeneratedSessionResponse{
			ID:              g.Session.ID.Hex(),
			CoachID:         g.Session.CoachID.Hex(),
			ClientID:        g.Session.ClientID.Hex(),
			Date:            g.Session.Date,
			Duration:        g.Session.Duration,
			Status:          g.Session.Status,
			Notes:           g.Session.Notes,
			RecordID:        g.RecordID.Hex(),
			Sequence:        g.Sequence,
			TrackingPending: g.TrackingPending,
		}
	}
	for i, cf := range r.Conflicts {
		resp.Conflicts[i] = ConflictResponse{
			Date:                 cf.Date,
			ConflictingSessionID: cf.ConflictingSessionID.Hex(),
			Reason:               cf.Reason,
		}
	}
	for i, f := range r.Failures {
		resp.Failures[i] = FailureResponse{Date: f.Date, Sequence: f.Sequence, Errors: f.Errors}
		if !f.RecordID.IsZero() {
			resp.Failures[i].RecordID = f.RecordID.Hex()
		}
	}
	return resp
}
