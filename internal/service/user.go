package service

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"debate_live/internal/apperrors"
	"debate_live/internal/models"
	"debate_live/internal/protocol"
	"debate_live/internal/repository"
	"debate_live/internal/utils"
)

// UserService 處理註冊、登入與訪客身份
// userRepo 為 nil 時（未設定資料庫）只提供訪客身份
type UserService struct {
	userRepo repository.UserRepository
	tokens   *utils.TokenManager
}

func NewUserService(userRepo repository.UserRepository, tokens *utils.TokenManager) *UserService {
	return &UserService{userRepo: userRepo, tokens: tokens}
}

func (s *UserService) AccountsEnabled() bool { return s.userRepo != nil }

// Register 建立帳號，密碼以 bcrypt 保存
func (s *UserService) Register(username, password, displayName string) (*models.User, error) {
	if s.userRepo == nil {
		return nil, apperrors.ErrUsersUnavailable
	}

	// 對密碼進行加密
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:    strings.TrimSpace(username),
		Password:    string(hashedPassword),
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 驗證帳號密碼並簽發 token
func (s *UserService) Login(username, password string) (string, protocol.Identity, error) {
	if s.userRepo == nil {
		return "", protocol.Identity{}, apperrors.ErrUsersUnavailable
	}

	user, err := s.userRepo.FindByUsername(username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", protocol.Identity{}, apperrors.ErrUnauthorized
	}
	if err != nil {
		return "", protocol.Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", protocol.Identity{}, apperrors.ErrUnauthorized
	}

	identity := UserIdentity(user)
	token, err := s.tokens.GenerateToken(identity)
	return token, identity, err
}

// Guest 為訪客產生匿名身份與 token
func (s *UserService) Guest(name string) (string, protocol.Identity, error) {
	identity := protocol.AnonymousIdentity(name)
	token, err := s.tokens.GenerateToken(identity)
	return token, identity, err
}

// Authenticate 驗證 token 並回傳身份
func (s *UserService) Authenticate(token string) (protocol.Identity, error) {
	claims, err := s.tokens.ParseToken(token)
	if err != nil {
		return protocol.Identity{}, apperrors.ErrUnauthorized
	}
	return claims.Identity(), nil
}

func UserIdentity(user *models.User) protocol.Identity {
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return protocol.Identity{UserID: "user-" + strconv.FormatUint(uint64(user.ID), 10), Name: name}
}
