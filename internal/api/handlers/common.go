package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/yoockh/intervue/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

// writeError renders err with the same code and safe message the control
// channel uses, and records it for the request logger.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(utils.HTTPStatus(err), APIError{
		Code:    utils.CodeOf(err),
		Message: utils.MessageOf(err),
	})
}

// userOrAnonymous returns the caller id set by JWTAuth, or "" when the route
// runs without auth.
func userOrAnonymous(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
