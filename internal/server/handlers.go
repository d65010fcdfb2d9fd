package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/logging"
	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/store"
)

// -----------------------------------------------------------------------------
// Check endpoints
// -----------------------------------------------------------------------------

// FraudCheckRequest is the synchronous fraud check payload.
type FraudCheckRequest struct {
	SubjectID         string  `json:"subjectId"`
	Email             string  `json:"email" binding:"required"`
	Amount            float64 `json:"amount" binding:"required"`
	MerchantID        string  `json:"merchantId"`
	IP                string  `json:"ip"`
	DeviceFingerprint string  `json:"deviceFingerprint"`
	UserAgent         string  `json:"userAgent"`
	ChargeID          string  `json:"chargeId"`
}

// fraudCheckHandler handles POST /v1/checks/fraud. It records the attempt as
// a pending transaction, reserves the amount against the subject's credit
// line, and scores it in-line so the caller gets the decision in the response.
func (s *Server) fraudCheckHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var req FraudCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email and a positive amount are required",
		})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be positive",
		})
		return
	}

	sub, ok := s.resolveSubject(c, req.SubjectID, req.Email)
	if !ok {
		return
	}

	tx := &store.Transaction{
		ID:         idgen.WithPrefix("txn_"),
		SubjectID:  sub.ID,
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Status:     store.TxPending,
		CreatedAt:  time.Now(),
	}
	if err := s.txns.Create(ctx, tx); err != nil {
		logging.L(ctx).Error("failed to create transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record transaction",
		})
		return
	}

	// Reserve the amount up front; a decline restores it.
	if err := s.subjects.DebitAvailableCredit(ctx, sub.ID, req.Amount); err != nil {
		logging.L(ctx).Warn("failed to reserve credit", "subject_id", sub.ID, "error", err)
	}

	res, err := s.fraudProc.Analyze(ctx, sub, tx, map[string]string{
		"ip":                 req.IP,
		"device_fingerprint": req.DeviceFingerprint,
		"user_agent":         req.UserAgent,
		"charge_id":          req.ChargeID,
	})
	if err != nil {
		logging.L(ctx).Error("fraud check failed", "transaction_id", tx.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "check_failed",
			"message": "Risk evaluation could not complete",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId": tx.ID,
		"subjectId":     sub.ID,
		"result":        res,
	})
}

// CreditCheckRequest is the synchronous credit application payload.
type CreditCheckRequest struct {
	SubjectID       string  `json:"subjectId"`
	Email           string  `json:"email" binding:"required"`
	RequestedAmount float64 `json:"requestedAmount" binding:"required"`
}

// creditCheckHandler handles POST /v1/checks/credit.
func (s *Server) creditCheckHandler(c *gin.Context) {
	var req CreditCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email and a positive requestedAmount are required",
		})
		return
	}
	if req.RequestedAmount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "requestedAmount must be positive",
		})
		return
	}

	sub, ok := s.resolveSubject(c, req.SubjectID, req.Email)
	if !ok {
		return
	}

	res := s.creditProc.Decide(c.Request.Context(), sub, req.RequestedAmount)
	c.JSON(http.StatusOK, res)
}

// resolveSubject loads the subject by ID or email, creating one on first
// contact. Writes the error response itself and returns ok=false on failure.
func (s *Server) resolveSubject(c *gin.Context, subjectID, email string) (*store.Subject, bool) {
	ctx := c.Request.Context()

	if subjectID != "" {
		sub, err := s.subjects.Get(ctx, subjectID)
		if errors.Is(err, store.ErrSubjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "subject_not_found",
				"message": "No subject with that ID",
			})
			return nil, false
		}
		if err != nil {
			logging.L(ctx).Error("failed to load subject", "subject_id", subjectID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load subject",
			})
			return nil, false
		}
		return sub, true
	}

	sub, err := s.subjects.GetByEmail(ctx, email)
	if err == nil {
		return sub, true
	}
	if !errors.Is(err, store.ErrSubjectNotFound) {
		logging.L(ctx).Error("failed to load subject by email", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load subject",
		})
		return nil, false
	}

	// First contact: create the subject record
	sub = &store.Subject{
		ID:        idgen.WithPrefix("sub_"),
		Email:     email,
		Status:    "active",
		CreatedAt: time.Now(),
	}
	if err := s.subjects.Create(ctx, sub); err != nil {
		logging.L(ctx).Error("failed to create subject", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create subject",
		})
		return nil, false
	}
	return sub, true
}

// -----------------------------------------------------------------------------
// Task enqueue
// -----------------------------------------------------------------------------

// EnqueueTaskRequest is the POST /v1/tasks payload.
type EnqueueTaskRequest struct {
	Type          string            `json:"type" binding:"required"`
	SubjectID     string            `json:"subjectId"`
	TransactionID string            `json:"transactionId"`
	Amount        float64           `json:"amount"`
	Metadata      map[string]string `json:"metadata"`
}

// enqueueTaskHandler handles POST /v1/tasks: queued background analysis.
func (s *Server) enqueueTaskHandler(c *gin.Context) {
	var req EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "type is required",
		})
		return
	}

	task := &queue.Task{
		Type:          queue.TaskType(req.Type),
		SubjectID:     req.SubjectID,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Metadata:      req.Metadata,
	}

	err := s.dispatcher.Enqueue(c.Request.Context(), task)
	switch {
	case errors.Is(err, queue.ErrUnknownTaskType):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_task_type",
			"message": "type must be fraud_analysis, credit_check, or periodic_review",
		})
		return
	case errors.Is(err, queue.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "queue_full",
			"message": "Task queue is at capacity, retry later",
		})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to enqueue task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to enqueue task",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"taskId": task.ID,
		"type":   task.Type,
		"status": queue.StatusPending,
	})
}

// -----------------------------------------------------------------------------
// Read endpoints
// -----------------------------------------------------------------------------

func (s *Server) getSubjectHandler(c *gin.Context) {
	sub, err := s.subjects.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrSubjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject_not_found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load subject", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) getTransactionHandler(c *gin.Context) {
	tx, err := s.txns.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrTransactionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction_not_found"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to load transaction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// auditQueryHandler handles GET /v1/audit with subject/kind/from/to/limit
// query parameters.
func (s *Server) auditQueryHandler(c *gin.Context) {
	q := audit.Query{
		SubjectID: c.Query("subject"),
		Kind:      c.Query("kind"),
		Limit:     50,
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and 500",
			})
			return
		}
		q.Limit = n
	}

	var err error
	if q.From, err = parseTimeParam(c.Query("from")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_from",
			"message": "from must be RFC3339",
		})
		return
	}
	if q.To, err = parseTimeParam(c.Query("to")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_to",
			"message": "to must be RFC3339",
		})
		return
	}

	recs, err := s.auditor.Query(c.Request.Context(), q)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": recs,
		"count":   len(recs),
	})
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// creditReportHandler handles GET /v1/credit/report/:subject — the raw bureau
// view, without running a decision.
func (s *Server) creditReportHandler(c *gin.Context) {
	ctx := c.Request.Context()

	sub, err := s.subjects.Get(ctx, c.Param("subject"))
	if errors.Is(err, store.ErrSubjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subject_not_found"})
		return
	}
	if err != nil {
		logging.L(ctx).Error("failed to load subject", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	report, err := s.creditSvc.Report(ctx, sub.ID, sub.Email)
	if err != nil {
		logging.L(ctx).Error("bureau report failed", "subject_id", sub.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "report_failed",
			"message": "Credit bureau did not return a report",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
