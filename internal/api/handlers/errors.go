package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"debate_live/internal/apperrors"
	"debate_live/internal/service"
	"debate_live/internal/store"
)

// statusOf 把錯誤轉成 HTTP 狀態碼
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidEvent), errors.Is(err, service.ErrEmptyTopic):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrUsersUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrRoomExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError 回傳簡短的錯誤訊息，細節只寫進日誌
func respondError(c *gin.Context, log *slog.Logger, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "op", op, "room", c.Param("id"), "error", err)
	}

	message := apperrors.UserMessage(err)
	if errors.Is(err, service.ErrEmptyTopic) {
		message = "請輸入辯論主題"
	}
	c.JSON(status, gin.H{"error": message, "code": apperrors.CodeOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeInvalidEvent})
}
