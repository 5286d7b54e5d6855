package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"B2P/dao/history"
	"B2P/dao/store"
	"B2P/logic"
	"B2P/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// requiredFields lists what a submission must carry, in reporting order.
// 只检查 key 是否存在: RawMessage 会保留字面量 null, 所以 null 也算 present.
type requiredFields struct {
	Email         json.RawMessage `json:"email" validate:"required"`
	Task          json.RawMessage `json:"task" validate:"required"`
	Round         json.RawMessage `json:"round" validate:"required"`
	Nonce         json.RawMessage `json:"nonce" validate:"required"`
	Brief         json.RawMessage `json:"brief" validate:"required"`
	EvaluationURL json.RawMessage `json:"evaluation_url" validate:"required"`
}

// HistoryLister is the read side of the submission history.
type HistoryLister interface {
	Get(ctx context.Context, submissionID string) (history.Record, error)
	ListByTask(ctx context.Context, taskName string, limit int) ([]history.Record, error)
}

type Handler struct {
	submissions *logic.Submissions
	history     HistoryLister
	validate    *validator.Validate
}

// NewHandler wires the HTTP surface. hist may be nil when history is disabled.
func NewHandler(s *logic.Submissions, hist HistoryLister) *Handler {
	v := validator.New()
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{submissions: s, history: hist, validate: v}
}

// Home is the liveness route.
func (h *Handler) Home(c *gin.Context) {
	ResponseSuccess(c, gin.H{"message": "LLM Project API is Running", "status": "ok"})
}

// SubmitTask validates a webhook submission, schedules it and answers with
// the predicted URLs before any work has started.
func (h *Handler) SubmitTask(c *gin.Context) {
	// 1. the body must be a JSON object
	var raw map[string]json.RawMessage
	if err := c.ShouldBindBodyWith(&raw, binding.JSON); err != nil || raw == nil {
		zap.L().Warn("submission with invalid json", zap.Error(err))
		ResponseBadRequest(c, MsgInvalidJSON)
		return
	}

	// 2. shared secret
	var secret string
	if v, ok := raw["secret"]; ok {
		_ = json.Unmarshal(v, &secret)
	}
	if !h.submissions.SecretMatches(secret) {
		zap.L().Warn("submission with invalid secret", zap.String("client_ip", c.ClientIP()))
		ResponseBadRequest(c, MsgInvalidSecret)
		return
	}

	// 3. required fields, first missing one wins
	var fields requiredFields
	if err := c.ShouldBindBodyWith(&fields, binding.JSON); err != nil {
		ResponseBadRequest(c, MsgInvalidJSON)
		return
	}
	if err := h.validate.Struct(fields); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) || len(errs) == 0 {
			ResponseBadRequest(c, MsgInvalidJSON)
			return
		}
		ResponseBadRequest(c, "Missing required field: "+errs[0].Field())
		return
	}

	// 4. typed submission
	var sub models.Submission
	if err := c.ShouldBindBodyWith(&sub, binding.JSON); err != nil {
		zap.L().Warn("submission does not match the expected types", zap.Error(err))
		ResponseBadRequest(c, MsgInvalidJSON)
		return
	}

	// 5. schedule and acknowledge
	resp, err := h.submissions.Accept(c.Request.Context(), sub)
	if err != nil {
		zap.L().Error("logic.Accept failed", zap.String("task", sub.Task), zap.Error(err))
		ResponseDetail(c, http.StatusServiceUnavailable, MsgServerBusy)
		return
	}
	ResponseSuccess(c, resp)
}

// TaskStatus answers GET /tasks/:task.
func (h *Handler) TaskStatus(c *gin.Context) {
	st, err := h.submissions.Status(c.Request.Context(), c.Param("task"))
	if errors.Is(err, store.ErrNotFound) {
		ResponseDetail(c, http.StatusNotFound, MsgTaskNotFound)
		return
	}
	if err != nil {
		zap.L().Error("read task status", zap.String("task", c.Param("task")), zap.Error(err))
		ResponseDetail(c, http.StatusInternalServerError, MsgServerBusy)
		return
	}
	ResponseSuccess(c, st)
}

// ListTasks answers GET /tasks?cursor=&page_size=.
func (h *Handler) ListTasks(c *gin.Context) {
	// 和 history 的 limit 一样, 超出范围直接 400, 不做静默截断
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if err != nil || pageSize <= 0 || pageSize > 100 {
		ResponseBadRequest(c, "page_size must be between 1 and 100")
		return
	}
	page, err := h.submissions.List(c.Request.Context(), c.Query("cursor"), pageSize)
	if err != nil {
		zap.L().Warn("list tasks", zap.Error(err))
		ResponseBadRequest(c, err.Error())
		return
	}
	ResponseSuccess(c, page)
}

// TaskHistory answers GET /tasks/:task/history?limit=N, newest first.
func (h *Handler) TaskHistory(c *gin.Context) {
	if h.history == nil {
		ResponseSuccess(c, []history.Record{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		ResponseBadRequest(c, "limit must be between 1 and 100")
		return
	}
	records, err := h.history.ListByTask(c.Request.Context(), c.Param("task"), limit)
	if err != nil {
		zap.L().Error("list task history", zap.String("task", c.Param("task")), zap.Error(err))
		ResponseDetail(c, http.StatusInternalServerError, MsgServerBusy)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	ResponseSuccess(c, records)
}

// SubmissionDetail answers GET /submissions/:id with one history record.
func (h *Handler) SubmissionDetail(c *gin.Context) {
	if h.history == nil {
		ResponseDetail(c, http.StatusNotFound, MsgSubmissionNotFound)
		return
	}
	rec, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		ResponseDetail(c, http.StatusNotFound, MsgSubmissionNotFound)
		return
	}
	if err != nil {
		zap.L().Error("read submission", zap.String("submission_id", c.Param("id")), zap.Error(err))
		ResponseDetail(c, http.StatusInternalServerError, MsgServerBusy)
		return
	}
	ResponseSuccess(c, rec)
}
