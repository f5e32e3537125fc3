package http

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/swaggo/swag"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports the state of each backing dependency
// @Description Readiness response
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// QueryRecordsResponse carries every record a source query returned
type QueryRecordsResponse struct {
	TotalSize int             `json:"total_size"`
	Records   []domain.Record `json:"records"`
}

// UpsertRecordsResponse carries per-record upsert outcomes in input order
type UpsertRecordsResponse struct {
	Results []driven.UpsertResult `json:"results"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the liveness status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Checks the database, redis and task queue connections and the worker loop
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string)}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	check("database", s.db)
	check("redis", s.redisClient)
	if s.taskQueue != nil {
		check("queue", s.taskQueue)
	}
	if s.worker != nil {
		resp.Checks["worker"] = "running"
		if !s.worker.Running() {
			resp.Status = "unavailable"
			resp.Checks["worker"] = "stopped"
		}
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// handleSwaggerDoc serves the OpenAPI document
func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "openapi document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// Auth endpoints

// handleIssueToken godoc
// @Summary      Issue API token
// @Description  Mint a bearer token for a subject and role (admin only)
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.IssueTokenRequest  true  "Token request"
// @Success      201      {object}  driving.TokenResponse
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Failure      403      {object}  ErrorResponse  "Forbidden - admin only"
// @Router       /auth/tokens [post]
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req driving.IssueTokenRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	resp, err := s.authService.IssueToken(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// handleGetMe godoc
// @Summary      Get caller
// @Description  Returns the authenticated caller
// @Tags         Authentication
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.AuthContext
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /me [get]
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GetAuthContext(r.Context()))
}

// Subscription endpoints

// handleListSubscriptions godoc
// @Summary      List subscriptions
// @Description  List subscriptions, optionally filtered by application
// @Tags         Subscriptions
// @Produce      json
// @Security     BearerAuth
// @Param        application_id  query     string  false  "Application ID"
// @Success      200             {array}   domain.SubscriptionSummary
// @Failure      403             {object}  ErrorResponse  "Application not accessible"
// @Router       /subscriptions [get]
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	applicationID := r.URL.Query().Get("application_id")

	if authCtx.ApplicationID != "" {
		if applicationID != "" && applicationID != authCtx.ApplicationID {
			writeError(w, http.StatusForbidden, "application not accessible")
			return
		}
		applicationID = authCtx.ApplicationID
	}

	subs, err := s.subscriptionService.List(r.Context(), applicationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	summaries := make([]*domain.SubscriptionSummary, len(subs))
	for i, sub := range subs {
		summaries[i] = sub.ToSummary()
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleCreateSubscription godoc
// @Summary      Create subscription
// @Description  Register an application for change events from a source (admin only)
// @Tags         Subscriptions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.CreateSubscriptionRequest  true  "Subscription"
// @Success      201      {object}  domain.SubscriptionSummary
// @Failure      400      {object}  ErrorResponse  "Invalid request"
// @Failure      409      {object}  ErrorResponse  "Connector key already registered"
// @Router       /subscriptions [post]
func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateSubscriptionRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if !GetAuthContext(r.Context()).CanAccessApplication(req.ApplicationID) {
		writeError(w, http.StatusForbidden, "application not accessible")
		return
	}

	sub, err := s.subscriptionService.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sub.ToSummary())
}

// handleGetSubscription godoc
// @Summary      Get subscription
// @Tags         Subscriptions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Subscription ID"
// @Success      200  {object}  domain.SubscriptionSummary
// @Failure      404  {object}  ErrorResponse  "Subscription not found"
// @Router       /subscriptions/{id} [get]
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub.ToSummary())
}

// handleUpdateSubscription godoc
// @Summary      Update subscription
// @Description  Rename or enable/disable a subscription (admin only)
// @Tags         Subscriptions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                             true  "Subscription ID"
// @Param        request  body      driving.UpdateSubscriptionRequest  true  "Changes"
// @Success      200      {object}  domain.SubscriptionSummary
// @Failure      404      {object}  ErrorResponse  "Subscription not found"
// @Router       /subscriptions/{id} [patch]
func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	var req driving.UpdateSubscriptionRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	updated, err := s.subscriptionService.Update(r.Context(), sub.ID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated.ToSummary())
}

// handleDeleteSubscription godoc
// @Summary      Delete subscription
// @Description  Delete a subscription and its watermarks (admin only)
// @Tags         Subscriptions
// @Security     BearerAuth
// @Param        id   path  string  true  "Subscription ID"
// @Success      204  "No Content"
// @Failure      404  {object}  ErrorResponse  "Subscription not found"
// @Router       /subscriptions/{id} [delete]
func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	if err := s.subscriptionService.Delete(r.Context(), sub.ID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetAuthorization godoc
// @Summary      Override credentials
// @Description  Store credentials that win over the saved settings on the next poll (admin only)
// @Tags         Subscriptions
// @Accept       json
// @Security     BearerAuth
// @Param        id       path  string                      true  "Subscription ID"
// @Param        request  body  driving.CredentialsRequest  true  "Credentials"
// @Success      204      "No Content"
// @Failure      400      {object}  ErrorResponse  "Invalid request"
// @Router       /subscriptions/{id}/authorization [put]
func (s *Server) handleSetAuthorization(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	var req driving.CredentialsRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	if err := s.subscriptionService.SetAuthorization(r.Context(), sub.ID, req); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Watermark endpoints

// handleListWatermarks godoc
// @Summary      List watermarks
// @Description  Per-entity last poll time and known record ids
// @Tags         Watermarks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Subscription ID"
// @Success      200  {array}   domain.EntityWatermark
// @Failure      404  {object}  ErrorResponse  "Subscription not found"
// @Router       /subscriptions/{id}/watermarks [get]
func (s *Server) handleListWatermarks(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	watermarks, err := s.subscriptionService.ListWatermarks(r.Context(), sub.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, watermarks)
}

// handleResetWatermarks godoc
// @Summary      Reset watermarks
// @Description  Delete all watermarks so the next poll bootstraps (admin only)
// @Tags         Watermarks
// @Security     BearerAuth
// @Param        id   path  string  true  "Subscription ID"
// @Success      204  "No Content"
// @Router       /subscriptions/{id}/watermarks [delete]
func (s *Server) handleResetWatermarks(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	if err := s.subscriptionService.ResetWatermarks(r.Context(), sub.ID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Poll endpoints

// handleTriggerPoll godoc
// @Summary      Trigger poll
// @Description  Enqueue an immediate poll, optionally with credential overrides
// @Tags         Polling
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                      true   "Subscription ID"
// @Param        request  body      driving.TriggerPollRequest  false  "Overrides"
// @Success      202      {object}  domain.Task
// @Failure      409      {object}  ErrorResponse  "Subscription disabled"
// @Router       /subscriptions/{id}/poll [post]
func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	var req driving.TriggerPollRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	task, err := s.subscriptionService.TriggerPoll(r.Context(), sub.ID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, task)
}

// handleUpsertRecords godoc
// @Summary      Upsert records
// @Description  Create records without an Id and update records with one (admin only)
// @Tags         Records
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                        true  "Subscription ID"
// @Param        entity   path      string                        true  "Entity type"
// @Param        request  body      driving.UpsertRecordsRequest  true  "Records"
// @Success      200      {object}  UpsertRecordsResponse
// @Failure      502      {object}  ErrorResponse  "Source login failed"
// @Router       /subscriptions/{id}/records/{entity} [post]
func (s *Server) handleUpsertRecords(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	var req driving.UpsertRecordsRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	results, err := s.subscriptionService.UpsertRecords(r.Context(), sub.ID, r.PathValue("entity"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UpsertRecordsResponse{Results: results})
}

// handleQueryRecords godoc
// @Summary      Query records
// @Description  Run a query in the source's own language (SOQL for Salesforce) and return every page
// @Tags         Records
// @Produce      json
// @Security     BearerAuth
// @Param        id  path      string  true  "Subscription ID"
// @Param        q   query     string  true  "Query, e.g. SELECT Id, Name FROM Account"
// @Success      200  {object}  QueryRecordsResponse
// @Failure      400  {object}  ErrorResponse  "Missing query"
// @Failure      502  {object}  ErrorResponse  "Source login failed"
// @Router       /subscriptions/{id}/query [get]
func (s *Server) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.loadSubscription(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	records, err := s.subscriptionService.QueryRecords(r.Context(), sub.ID, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}

	writeJSON(w, http.StatusOK, QueryRecordsResponse{TotalSize: len(records), Records: records})
}

// Task endpoints

// handleGetTask godoc
// @Summary      Get task
// @Description  Status of a queued poll task
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Task ID"
// @Success      200  {object}  domain.Task
// @Failure      404  {object}  ErrorResponse  "Task not found"
// @Router       /tasks/{id} [get]
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskQueue.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !GetAuthContext(r.Context()).CanAccessApplication(task.ApplicationID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleListTasks godoc
// @Summary      List tasks
// @Description  Queued and finished poll tasks. Scoped tokens only see their application.
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "pending, processing, completed, failed or cancelled"
// @Param        limit   query     int     false  "Maximum tasks to return (default 50, max 500)"
// @Param        offset  query     int     false  "Tasks to skip"
// @Success      200     {array}   domain.Task
// @Failure      400     {object}  ErrorResponse  "Invalid filter"
// @Router       /tasks [get]
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := driven.TaskFilter{
		ApplicationID: GetAuthContext(r.Context()).ApplicationID,
		Status:        domain.TaskStatus(q.Get("status")),
		Type:          domain.TaskTypePollSubscription,
		Limit:         50,
	}

	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	var ok bool
	if filter.Limit, ok = queryInt(q.Get("limit"), filter.Limit, 1, 500); !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, ok = queryInt(q.Get("offset"), 0, 0, math.MaxInt32); !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	tasks, err := s.taskQueue.ListTasks(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// handleCancelTask godoc
// @Summary      Cancel task
// @Description  Cancel a poll task that has not started yet (admin or operator)
// @Tags         Tasks
// @Security     BearerAuth
// @Param        id   path  string  true  "Task ID"
// @Success      204  "Cancelled"
// @Failure      404  {object}  ErrorResponse  "Task not found"
// @Failure      409  {object}  ErrorResponse  "Task already started or finished"
// @Router       /tasks/{id} [delete]
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.taskQueue.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !GetAuthContext(r.Context()).CanAccessApplication(task.ApplicationID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	if err := s.taskQueue.CancelTask(r.Context(), task.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueueStats godoc
// @Summary      Queue statistics
// @Tags         Tasks
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  driven.QueueStats
// @Router       /queue/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

// loadSubscription fetches the {id} subscription and hides it from callers scoped to
// another application.
func (s *Server) loadSubscription(w http.ResponseWriter, r *http.Request) (*domain.Subscription, bool) {
	sub, err := s.subscriptionService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if !GetAuthContext(r.Context()).CanAccessApplication(sub.ApplicationID) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return sub, true
}

// decode reads a JSON body into dst and validates it.
// When optional is set an empty body is accepted.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+verrs[0].Namespace()+": "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSubscriptionDisabled), errors.Is(err, domain.ErrTaskNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrAuthorization):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(raw string, def, lo, hi int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
