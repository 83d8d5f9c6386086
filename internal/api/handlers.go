package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/domain"
	"github.com/phenex-cohort-server/internal/feedback"
	"github.com/phenex-cohort-server/internal/session"
)

// getSession resolves the session for the cohort id in the route, wiring the
// WebSocket hub into the model's change feed on first access.
func (s *Server) getSession(c *gin.Context) (*session.Session, bool) {
	id := c.Param("id")
	sess, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	s.hub.attach(sess)
	return sess, true
}

// writeError maps domain errors onto the structured API error envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")

	var status int
	var code string
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrEntryExists),
		errors.Is(err, domain.ErrInvalidType),
		errors.Is(err, domain.ErrInvalidClass):
		status, code = http.StatusUnprocessableEntity, domain.ErrCodeInvalidInput
	case errors.Is(err, domain.ErrUnresolvedReference),
		errors.Is(err, domain.ErrUnknownNodeClass):
		status, code = http.StatusUnprocessableEntity, domain.ErrCodeConversion
	default:
		status, code = http.StatusInternalServerError, domain.ErrCodeInternalServer
	}

	s.log.WithField("request_id", requestID).WithError(err).Error("Request failed")
	c.JSON(status, domain.NewAPIError(code, err.Error(), "", requestID))
}

type createCohortRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateCohort(c *gin.Context) {
	var req createCohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	sess := s.sessions.Create(req.Name)
	s.hub.attach(sess)
	c.JSON(http.StatusCreated, sess.Model.Cohort())
}

func (s *Server) handleGetCohort(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cohort": sess.Model.Cohort(),
		"rows":   sess.Model.Rows(),
	})
}

func (s *Server) handleSaveCohort(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	if err := sess.Model.Save(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteCohort(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	if err := sess.Model.Delete(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	s.sessions.Drop(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleValidateCohort(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	issues := sess.Model.Validate()
	executable := true
	for _, issue := range issues {
		if issue.Severity == cohort.SeverityError {
			executable = false
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"issues":     issues,
		"executable": executable,
	})
}

type addPhenotypeRequest struct {
	Type     domain.PhenotypeType `json:"type"`
	ParentID string               `json:"parent_id"`
}

func (s *Server) handleAddPhenotype(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req addPhenotypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	p, err := sess.Model.AddPhenotype(req.Type, req.ParentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) handleDeletePhenotype(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	removed, err := sess.Model.DeletePhenotype(c.Param("pid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_ids": removed})
}

type updateCellRequest struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

func (s *Server) handleUpdateCell(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req updateCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	if err := sess.Model.UpdateCell(c.Param("pid"), req.Field, req.Value); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderRequest struct {
	VisibleIDs []string `json:"visible_ids"`
}

func (s *Server) handleReorder(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	if err := sess.Model.Reorder(req.VisibleIDs); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": sess.Model.Rows()})
}

type filterRequest struct {
	Types []domain.PhenotypeType `json:"types"`
}

func (s *Server) handleFilterType(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	sess.Model.FilterType(req.Types)
	c.JSON(http.StatusOK, gin.H{"rows": sess.Model.Rows()})
}

func (s *Server) handleSetConstant(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var constant domain.Constant
	if err := c.ShouldBindJSON(&constant); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	if err := sess.Model.SetConstant(c.Param("name"), &constant); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constants": sess.Model.OrderedConstants()})
}

func (s *Server) handleDeleteConstant(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	if err := sess.Model.DeleteConstant(c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderConstantsRequest struct {
	Names []string `json:"names"`
}

func (s *Server) handleReorderConstants(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req reorderConstantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	if err := sess.Model.ReorderConstants(req.Names); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constants": sess.Model.OrderedConstants()})
}

func (s *Server) handleListCodelists(c *gin.Context) {
	codelists, err := s.codelists.ListCodelists(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codelists": codelists})
}

func (s *Server) handleUploadCodelist(c *gin.Context) {
	var codelist domain.Codelist
	if err := c.ShouldBindJSON(&codelist); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	stored, err := s.codelists.UploadCodelist(c.Request.Context(), c.Param("id"), &codelist)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// handleExecute relays the execution stream to the client as SSE.
func (s *Server) handleExecute(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.writeError(c, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	s.setSSEHeaders(c)

	err := sess.Execution.Execute(c.Request.Context(), func(ev domain.ExecutionEvent) error {
		return s.writeSSE(c, flusher, ev)
	})
	if err != nil {
		// Headers are gone; report the failure in-band.
		_ = s.writeSSE(c, flusher, domain.ExecutionEvent{
			Type:    domain.ExecutionError,
			Message: err.Error(),
		})
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat relays the assistant stream to the client as SSE.
func (s *Server) handleChat(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "invalid request body", err.Error(), c.GetString("request_id")))
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.writeError(c, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	s.setSSEHeaders(c)

	err := sess.Chat.SendMessage(c.Request.Context(), req.Message, func(ev domain.ChatEvent) error {
		return s.writeSSE(c, flusher, ev)
	})
	if err != nil {
		_ = s.writeSSE(c, flusher, domain.ChatEvent{
			Type:    domain.ChatError,
			Message: err.Error(),
		})
	}
}

func (s *Server) handleChatRetry(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.writeError(c, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	s.setSSEHeaders(c)

	err := sess.Chat.Retry(c.Request.Context(), func(ev domain.ChatEvent) error {
		return s.writeSSE(c, flusher, ev)
	})
	if err != nil {
		_ = s.writeSSE(c, flusher, domain.ChatEvent{
			Type:    domain.ChatError,
			Message: err.Error(),
		})
	}
}

func (s *Server) handleChatHistory(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": sess.Chat.History()})
}

func (s *Server) handleAccept(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	prompt, summary := lastExchange(sess.Chat.History())
	if err := sess.Chat.Accept(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	s.recordDecision(c, feedback.VerdictAccepted, prompt, summary)
	c.JSON(http.StatusOK, sess.Model.Cohort())
}

func (s *Server) handleReject(c *gin.Context) {
	sess, ok := s.getSession(c)
	if !ok {
		return
	}
	prompt, summary := lastExchange(sess.Chat.History())
	if err := sess.Chat.Reject(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	s.recordDecision(c, feedback.VerdictRejected, prompt, summary)
	c.JSON(http.StatusOK, sess.Model.Cohort())
}

// lastExchange returns the most recent user prompt and assistant response.
func lastExchange(history []domain.ChatTurn) (prompt, summary string) {
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Role {
		case domain.RoleUser:
			if prompt == "" {
				prompt = history[i].Content
			}
		case domain.RoleSystem:
			if summary == "" && !history[i].Loading {
				summary = history[i].Content
			}
		}
		if prompt != "" && summary != "" {
			break
		}
	}
	return prompt, summary
}

// recordDecision appends to the suggestion decision log. Recording failures
// are logged, never surfaced: the accept/reject itself already succeeded.
func (s *Server) recordDecision(c *gin.Context, verdict feedback.Verdict, prompt, summary string) {
	if s.feedback == nil {
		return
	}
	entry := &feedback.Entry{
		CohortID: c.Param("id"),
		Prompt:   prompt,
		Summary:  summary,
		Verdict:  verdict,
	}
	if err := s.feedback.Save(c.Request.Context(), entry); err != nil {
		s.log.WithError(err).Warn("Failed to record suggestion decision")
	}
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if s.feedback == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []*feedback.Entry{}})
		return
	}
	limit, offset := 50, 0
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	entries, err := s.feedback.ListByCohort(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if entries == nil {
		entries = []*feedback.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleExportFeedback(c *gin.Context) {
	if s.feedback == nil {
		s.writeError(c, fmt.Errorf("feedback log not configured: %w", domain.ErrNotFound))
		return
	}
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="suggestion-feedback.json"`)
	if err := s.feedback.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		s.log.WithError(err).Error("Feedback export failed")
	}
}

func (s *Server) setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
}

// writeSSE emits one event as an SSE data frame and flushes it.
func (s *Server) writeSSE(c *gin.Context, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding stream event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing stream event: %w", err)
	}
	flusher.Flush()
	return nil
}
