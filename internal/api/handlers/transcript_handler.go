package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

// ListTranscripts returns the final transcript lines of a session in turn
// order. ?limit caps the count (default 50, max 500).
func (h *SessionHandler) ListTranscripts(c *gin.Context) {
	const op = "SessionHandler.ListTranscripts"

	sess, ok := h.load(c, op)
	if !ok {
		return
	}

	limit := defaultTranscriptLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxTranscriptLimit {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "limit must be between 1 and 500", err))
			return
		}
		limit = n
	}

	rows, err := h.svc.ListTranscripts(c.Request.Context(), sess.ID, int64(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []models.TranscriptEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "transcripts": rows})
}
