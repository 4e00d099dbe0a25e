package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/intervue/internal/models"
	pgrepo "github.com/yoockh/intervue/internal/repositories/postgres"
	"github.com/yoockh/intervue/internal/services"
	"github.com/yoockh/intervue/internal/utils"
)

type SessionHandler struct {
	svc         services.SessionService
	evaluations pgrepo.EvaluationRepo
}

// NewSessionHandler builds the REST handler. evaluations may be nil when
// Postgres is not configured.
func NewSessionHandler(svc services.SessionService, evaluations pgrepo.EvaluationRepo) *SessionHandler {
	return &SessionHandler{svc: svc, evaluations: evaluations}
}

type CreateSessionRequest struct {
	Questions        []models.Question `json:"questions" binding:"required"`
	CandidateProfile string            `json:"candidateProfile"`
}

type CreateSessionResponse struct {
	SessionID     string `json:"sessionId"`
	Status        string `json:"status"`
	QuestionCount int    `json:"questionCount"`
	CreatedAt     string `json:"createdAt"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Create", "invalid request body", err))
		return
	}

	sess, err := h.svc.Create(c.Request.Context(), userOrAnonymous(c), req.Questions, req.CandidateProfile)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:     sess.ID,
		Status:        sess.Status,
		QuestionCount: len(sess.Questions),
		CreatedAt:     sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// load fetches the session in the path and checks the caller owns it.
func (h *SessionHandler) load(c *gin.Context, op string) (*models.InterviewSession, bool) {
	sess, err := h.svc.FindByID(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if uid := userOrAnonymous(c); uid != "" && sess.UserID != "" && sess.UserID != uid {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.load(c, "SessionHandler.Get")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) ListEvaluations(c *gin.Context) {
	const op = "SessionHandler.ListEvaluations"

	sess, ok := h.load(c, op)
	if !ok {
		return
	}
	if h.evaluations == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "evaluations are not persisted", nil))
		return
	}

	rows, err := h.evaluations.ListBySession(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to list evaluations", err))
		return
	}
	if rows == nil {
		rows = []models.Evaluation{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "evaluations": rows})
}
