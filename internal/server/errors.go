package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/internal/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is ordered; the first match wins.
var errorMappings = []errorMapping{
	{target: social.ErrLoginRequired, status: http.StatusUnauthorized, code: "login_required"},
	{target: social.ErrUserNotFound, status: http.StatusUnauthorized, code: "login_required"},
	{target: social.ErrIncorrectPassword, status: http.StatusUnauthorized, code: "incorrect_password"},
	{target: social.ErrInvalidCredentials, status: http.StatusBadRequest, code: "invalid_credentials"},
	{target: social.ErrInvalidUsername, status: http.StatusBadRequest, code: "invalid_username"},
	{target: social.ErrUsernameTaken, status: http.StatusConflict, code: "username_taken"},
	{target: social.ErrInvalidFollow, status: http.StatusBadRequest, code: "invalid_follow"},
	{target: social.ErrInvalidMessage, status: http.StatusBadRequest, code: "invalid_message"},
}

func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusServiceUnavailable, "service_unavailable"
}

// writeError renders err without exposing store details to the client.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusServiceUnavailable {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
