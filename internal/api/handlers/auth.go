package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"debate_live/internal/service"
)

// AuthHandler 處理與認證相關的請求
type AuthHandler struct {
	userService *service.UserService
	log         *slog.Logger
}

// NewAuthHandler 創建一個新的 AuthHandler 實例
func NewAuthHandler(userService *service.UserService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{userService: userService, log: log}
}

// GuestInput 定義訪客登入的結構
type GuestInput struct {
	Name string `json:"name" binding:"max=64"`
}

// LoginInput 定義登入請求的結構
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterInput 定義註冊請求的結構
type RegisterInput struct {
	Username    string `json:"username" binding:"required,max=64"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"displayName" binding:"max=64"`
}

// Guest 為訪客簽發匿名身份的 token
func (h *AuthHandler) Guest(c *gin.Context) {
	var input GuestInput
	// 允許空的請求體
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	token, identity, err := h.userService.Guest(input.Name)
	if err != nil {
		respondError(c, h.log, "guest", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": identity})
}

// Register 處理用戶註冊
func (h *AuthHandler) Register(c *gin.Context) {
	var input RegisterInput
	// 解析並驗證請求體
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	// 創建新用戶
	user, err := h.userService.Register(input.Username, input.Password, input.DisplayName)
	if err != nil {
		respondError(c, h.log, "register", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "使用者註冊成功", "user": service.UserIdentity(user)})
}

// Login 處理用戶登入
func (h *AuthHandler) Login(c *gin.Context) {
	var input LoginInput
	// 解析並驗證請求體
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	token, identity, err := h.userService.Login(input.Username, input.Password)
	if err != nil {
		respondError(c, h.log, "login", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": identity})
}
