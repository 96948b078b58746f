package service

import (
	"log/slog"

	"debate_live/internal/repository"
	"debate_live/internal/store"
	"debate_live/internal/utils"
)

type Services struct {
	User *UserService
	Room *RoomService
	Hub  *Hub
}

// NewServices 組裝所有服務，repos 為 nil 時停用帳號功能
func NewServices(st store.Store, repos *repository.Repositories, tokens *utils.TokenManager, log *slog.Logger) *Services {
	hub := NewHub(st, log)

	var userRepo repository.UserRepository
	if repos != nil {
		userRepo = repos.User
	}

	return &Services{
		User: NewUserService(userRepo, tokens),
		Room: NewRoomService(st, hub, log),
		Hub:  hub,
	}
}
