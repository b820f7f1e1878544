package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/IANDYI/progress-service/internal/adapters/middleware"
	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/IANDYI/progress-service/internal/core/ports"
	"github.com/IANDYI/progress-service/internal/core/services"
	"go.uber.org/zap"
)

// maxBodyBytes caps a submission body
const maxBodyBytes = 1 << 20

// EntryHandler handles HTTP requests for progress entries
type EntryHandler struct {
	registry    *domain.Registry
	submissions ports.SubmissionService
	queries     ports.QueryService
	logger      *zap.Logger
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(registry *domain.Registry, submissions ports.SubmissionService, queries ports.QueryService, logger *zap.Logger) *EntryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntryHandler{
		registry:    registry,
		submissions: submissions,
		queries:     queries,
		logger:      logger,
	}
}

// CreateEntry handles POST /progress/entries
// Any authenticated user; condition_type (or surgery_type) selects the condition
func (h *EntryHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "")
}

// CreateConditionEntry handles POST /progress/entries/{condition}
// The body may omit condition_type; when present it must name the same condition
func (h *EntryHandler) CreateConditionEntry(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, r.PathValue("condition"))
}

func (h *EntryHandler) create(w http.ResponseWriter, r *http.Request, pathCondition string) {
	start := time.Now()
	requestID := generateRequestID()

	fail := func(status int, errs ...domain.FieldError) {
		middleware.RecordSubmissionFailure(failureCode(errs))
		writeErrors(w, status, errs...)
		logRequest(h.logger, requestID, r, status, start)
	}

	payload, err := services.DecodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Debug("failed to decode submission", zap.String("request_id", requestID), zap.Error(err))
		fail(http.StatusBadRequest, domain.FieldError{Code: domain.CodeTypeViolation, Message: "request body must be a JSON object"})
		return
	}

	if pathCondition != "" {
		d, err := h.registry.Lookup(pathCondition)
		if err != nil {
			status, errs := errorResponse(err)
			fail(status, errs...)
			return
		}
		if tag, ok := services.ConditionTag(payload); ok {
			if bodyDesc, err := h.registry.Lookup(tag); err != nil || bodyDesc.Type != d.Type {
				fail(http.StatusBadRequest, domain.FieldError{
					Field:   services.KeyConditionType,
					Code:    domain.CodeEnumViolation,
					Message: "condition_type does not match the condition in the path",
				})
				return
			}
		} else {
			payload[services.KeyConditionType] = string(d.Type)
		}
	}

	entry, err := h.submissions.Submit(r.Context(), payload)
	if err != nil {
		status, errs := errorResponse(err)
		fail(status, errs...)
		return
	}

	middleware.RecordSubmission(string(entry.ConditionType), string(entry.UrgencyStatus))
	writeJSON(w, http.StatusCreated, entry)
	logRequest(h.logger, requestID, r, http.StatusCreated, start)
}

// ListEntries handles GET /progress/entries
// CLINICIAN/ADMIN; federates across conditions when condition_type is omitted
func (h *EntryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	q := r.URL.Query()
	var filter ports.EntryFilter
	var errs []domain.FieldError

	if v := q.Get("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 1 {
			errs = append(errs, badRequest("patient_id", "must be a positive integer"))
		} else {
			filter.PatientID = &id
		}
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{{"from", &filter.From}, {"to", &filter.To}} {
		if v := q.Get(p.name); v != "" {
			if _, err := time.Parse(domain.DateLayout, v); err != nil {
				errs = append(errs, badRequest(p.name, "must be a YYYY-MM-DD date"))
				continue
			}
			*p.dst = v
		}
	}
	if v := q.Get("urgency"); v != "" {
		if !domain.IsValidUrgency(domain.Urgency(v)) {
			errs = append(errs, badRequest("urgency", "must be one of low, moderate, high, critical"))
		} else {
			filter.Urgency = domain.Urgency(v)
		}
	}
	limit, err := nonNegativeParam(q.Get("limit"), ports.DefaultLimit)
	if err != nil {
		errs = append(errs, badRequest("limit", "must be a non-negative integer"))
	}
	offset, err := nonNegativeParam(q.Get("offset"), 0)
	if err != nil {
		errs = append(errs, badRequest("offset", "must be a non-negative integer"))
	}
	if len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		logRequest(h.logger, requestID, r, http.StatusBadRequest, start)
		return
	}
	if limit == 0 {
		limit = ports.DefaultLimit
	}
	if limit > ports.MaxLimit {
		limit = ports.MaxLimit
	}
	filter.Limit, filter.Offset = limit, offset

	condition := q.Get("condition_type")
	if condition == "" {
		condition = q.Get("surgery_type")
	}

	page, err := h.queries.ListEntries(r.Context(), condition, filter)
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// GetEntry handles GET /progress/entries/{condition}/{id}
func (h *EntryHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeErrors(w, http.StatusBadRequest, badRequest("id", "must be a positive integer"))
		logRequest(h.logger, requestID, r, http.StatusBadRequest, start)
		return
	}

	entry, err := h.queries.GetEntry(r.Context(), r.PathValue("condition"), id)
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// LatestPerPatient handles GET /progress/entries/{condition}/latest
func (h *EntryHandler) LatestPerPatient(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	latest, err := h.queries.LatestPerPatient(r.Context(), r.PathValue("condition"))
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, latest)
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// CheckEntry handles GET /progress/entries/{condition}/check/{patient_id}/{date}
func (h *EntryHandler) CheckEntry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	var errs []domain.FieldError
	patientID, err := strconv.ParseInt(r.PathValue("patient_id"), 10, 64)
	if err != nil || patientID < 1 {
		errs = append(errs, badRequest("patient_id", "must be a positive integer"))
	}
	date := r.PathValue("date")
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		errs = append(errs, badRequest("date", "must be a YYYY-MM-DD date"))
	}
	if len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		logRequest(h.logger, requestID, r, http.StatusBadRequest, start)
		return
	}

	exists, err := h.queries.EntryExists(r.Context(), r.PathValue("condition"), patientID, date)
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// PatientHistory handles GET /progress/patients/{patient_id}/history
func (h *EntryHandler) PatientHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	var errs []domain.FieldError
	patientID, err := strconv.ParseInt(r.PathValue("patient_id"), 10, 64)
	if err != nil || patientID < 1 {
		errs = append(errs, badRequest("patient_id", "must be a positive integer"))
	}
	since, until := r.URL.Query().Get("since"), r.URL.Query().Get("until")
	for _, p := range [][2]string{{"since", since}, {"until", until}} {
		if p[1] == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, p[1]); err != nil {
			errs = append(errs, badRequest(p[0], "must be a YYYY-MM-DD date"))
		}
	}
	if len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		logRequest(h.logger, requestID, r, http.StatusBadRequest, start)
		return
	}

	history, err := h.queries.PatientHistory(r.Context(), patientID, since, until)
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient_id": patientID,
		"entries":    history,
	})
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// DashboardStats handles GET /progress/dashboard-stats
func (h *EntryHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	stats, err := h.queries.DashboardStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, requestID, start, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

// conditionView is the public description of a registered condition, common
// fields included
type conditionView struct {
	Type   domain.ConditionType `json:"condition_type"`
	Label  string               `json:"label"`
	Strict bool                 `json:"strict"`
	Fields []domain.FieldSpec   `json:"fields"`
}

// Conditions handles GET /progress/conditions
func (h *EntryHandler) Conditions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	descriptors := h.queries.Conditions()
	views := make([]conditionView, 0, len(descriptors))
	for _, d := range descriptors {
		views = append(views, conditionView{
			Type:   d.Type,
			Label:  d.Label,
			Strict: d.Strict,
			Fields: h.registry.Fields(d),
		})
	}

	writeJSON(w, http.StatusOK, views)
	logRequest(h.logger, requestID, r, http.StatusOK, start)
}

func (h *EntryHandler) writeServiceError(w http.ResponseWriter, r *http.Request, requestID string, start time.Time, err error) {
	status, errs := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("query failed", zap.String("request_id", requestID), zap.Error(err))
	}
	writeErrors(w, status, errs...)
	logRequest(h.logger, requestID, r, status, start)
}

// nonNegativeParam parses an optional non-negative integer query parameter
func nonNegativeParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
