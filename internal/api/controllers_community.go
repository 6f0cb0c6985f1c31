package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kingdom-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// --- Support chat ---

func (s *Server) createChatSession(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		Subject string `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Subject) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "subject is required")
		return
	}

	session := db.ChatSession{
		ID:        newID(),
		UserID:    userID,
		Subject:   strings.TrimSpace(req.Subject),
		Status:    "open",
		CreatedAt: time.Now(),
	}
	if err := s.DB.Queries().CreateChatSession(c.Request.Context(), session); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listChatSessions(c *gin.Context) {
	userID := CurrentUserID(c)
	sessions, err := s.DB.Queries().ListChatSessionsByUser(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) postChatMessage(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		SessionID string `json:"session_id"`
		Body      string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || strings.TrimSpace(req.Body) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "session_id and body are required")
		return
	}

	ctx := c.Request.Context()
	// Ownership check; messages can only go to the caller's own sessions.
	if _, err := s.DB.Queries().GetChatSessionByUser(ctx, userID, req.SessionID); err != nil {
		respondServiceError(c, err)
		return
	}

	msg := db.ChatMessage{
		ID:        newID(),
		SessionID: req.SessionID,
		Sender:    "user",
		Body:      strings.TrimSpace(req.Body),
		CreatedAt: time.Now(),
	}
	if err := s.DB.Queries().CreateChatMessage(ctx, msg); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) listChatMessages(c *gin.Context) {
	userID := CurrentUserID(c)
	sessionID := c.Query("session_id")
	if sessionID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "session_id is required")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.DB.Queries().GetChatSessionByUser(ctx, userID, sessionID); err != nil {
		respondServiceError(c, err)
		return
	}
	messages, err := s.DB.Queries().ListChatMessages(ctx, sessionID, queryLimit(c, 100, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// --- Security ---

func (s *Server) getSecurityEvents(c *gin.Context) {
	userID := CurrentUserID(c)
	// The audit writer batches; flush so users see their own fresh events.
	if s.Audit != nil {
		_ = s.Audit.Flush()
	}
	events, err := s.DB.Queries().ListSecurityEventsByUser(c.Request.Context(), userID, queryLimit(c, 100, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// --- Forum ---

func (s *Server) getForumCategories(c *gin.Context) {
	categories, err := s.DB.Queries().ListForumCategories(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *Server) listForumThreads(c *gin.Context) {
	threads, err := s.DB.Queries().ListForumThreads(c.Request.Context(), c.Query("category"), queryLimit(c, 50, 200))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (s *Server) getForumThread(c *gin.Context) {
	ctx := c.Request.Context()
	thread, err := s.DB.Queries().GetForumThread(ctx, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	replies, err := s.DB.Queries().ListForumReplies(ctx, thread.ID, queryLimit(c, 100, 500))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thread":  thread,
		"replies": replies,
	})
}

func (s *Server) createForumThread(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		CategoryID string `json:"category_id"`
		Title      string `json:"title"`
		Body       string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CategoryID == "" || strings.TrimSpace(req.Title) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "category_id and title are required")
		return
	}

	thread := db.ForumThread{
		ID:         newID(),
		CategoryID: req.CategoryID,
		UserID:     userID,
		Title:      strings.TrimSpace(req.Title),
		Body:       req.Body,
		CreatedAt:  time.Now(),
	}
	if err := s.DB.Queries().CreateForumThread(c.Request.Context(), thread); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (s *Server) createForumReply(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		ThreadID string `json:"thread_id"`
		Body     string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ThreadID == "" || strings.TrimSpace(req.Body) == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "thread_id and body are required")
		return
	}

	ctx := c.Request.Context()
	if _, err := s.DB.Queries().GetForumThread(ctx, req.ThreadID); err != nil {
		respondServiceError(c, err)
		return
	}

	reply := db.ForumReply{
		ID:        newID(),
		ThreadID:  req.ThreadID,
		UserID:    userID,
		Body:      strings.TrimSpace(req.Body),
		CreatedAt: time.Now(),
	}
	if err := s.DB.Queries().CreateForumReply(ctx, reply); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reply)
}

// --- KYC ---

func maskDocument(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

func (s *Server) getKYCStatus(c *gin.Context) {
	userID := CurrentUserID(c)
	sub, err := s.DB.Queries().GetLatestKYCByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "none"})
			return
		}
		respondServiceError(c, err)
		return
	}

	resp := gin.H{
		"id":            sub.ID,
		"status":        sub.Status,
		"full_name":     sub.FullName,
		"country":       sub.Country,
		"document_type": sub.DocumentType,
		"note":          sub.Note,
		"created_at":    sub.CreatedAt,
		"reviewed_at":   sub.ReviewedAt,
	}
	if s.Keys != nil && sub.DocumentNumberEnc != "" {
		if plain, err := s.Keys.Decrypt(sub.DocumentNumberEnc); err == nil {
			resp["document_number"] = maskDocument(plain)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) submitKYC(c *gin.Context) {
	userID := CurrentUserID(c)

	var req struct {
		FullName       string `json:"full_name"`
		Country        string `json:"country"`
		DocumentType   string `json:"document_type"`
		DocumentNumber string `json:"document_number"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if req.FullName == "" || req.Country == "" || req.DocumentType == "" || req.DocumentNumber == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "all fields are required")
		return
	}

	ctx := c.Request.Context()
	if latest, err := s.DB.Queries().GetLatestKYCByUser(ctx, userID); err == nil {
		if latest.Status == "pending" || latest.Status == "approved" {
			respondError(c, http.StatusConflict, "ALREADY_SUBMITTED", "a submission is already "+latest.Status)
			return
		}
	}

	if s.Keys == nil {
		respondError(c, http.StatusServiceUnavailable, "ENCRYPTION_UNAVAILABLE", "identity encryption is not configured")
		return
	}
	encrypted, err := s.Keys.Encrypt(req.DocumentNumber)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to protect document number")
		return
	}

	sub := db.KYCSubmission{
		ID:                newID(),
		UserID:            userID,
		FullName:          req.FullName,
		Country:           req.Country,
		DocumentType:      req.DocumentType,
		DocumentNumberEnc: encrypted,
		KeyVersion:        s.Keys.CurrentVersion(),
		Status:            "pending",
		CreatedAt:         time.Now(),
	}
	if err := s.DB.Queries().CreateKYCSubmission(ctx, sub); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":     sub.ID,
		"status": sub.Status,
	})
}

// --- Admin console ---

func (s *Server) adminListUsers(c *gin.Context) {
	limit := queryLimit(c, 50, 200)
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			offset = n
		}
	}
	users, err := s.DB.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) adminSetRole(c *gin.Context) {
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Role != "user" && req.Role != "admin") {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "role must be user or admin")
		return
	}

	if err := s.DB.SetUserRole(c.Request.Context(), c.Param("id"), req.Role); err != nil {
		respondServiceError(c, err)
		return
	}
	if s.Audit != nil {
		s.Audit.SecurityEvent(CurrentUserID(c), "role_change", "target="+c.Param("id")+" role="+req.Role, c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) adminListKYC(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		status = "pending"
	}
	subs, err := s.DB.Queries().ListKYCByStatus(c.Request.Context(), status, queryLimit(c, 50, 200))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, subs)
}

func (s *Server) adminReviewKYC(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || (req.Status != "approved" && req.Status != "rejected") {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "status must be approved or rejected")
		return
	}

	if err := s.DB.Queries().ReviewKYC(c.Request.Context(), c.Param("id"), req.Status, req.Note); err != nil {
		respondServiceError(c, err)
		return
	}
	if s.Audit != nil {
		s.Audit.SecurityEvent(CurrentUserID(c), "kyc_review", "submission="+c.Param("id")+" status="+req.Status, c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (s *Server) adminSecurityEvents(c *gin.Context) {
	if s.Audit != nil {
		_ = s.Audit.Flush()
	}
	events, err := s.DB.Queries().ListSecurityEvents(c.Request.Context(), queryLimit(c, 200, 1000))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) adminMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) adminAdvanceDelivery(c *gin.Context) {
	status, err := s.Metals.AdvanceDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
