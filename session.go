package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/adrg/xdg"

	"debate_live/internal/client"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
	"debate_live/internal/utils"
)

const tokenFile = "debate_live/token"

// session 是客戶端命令共用的連線資源
type session struct {
	identity protocol.Identity
	remote   *store.Remote
	manager  *client.Manager
}

func newSession(ctx context.Context) (*session, error) {
	token, identity, err := resolveToken(ctx)
	if err != nil {
		return nil, err
	}

	return &session{
		identity: identity,
		remote:   store.NewRemote(cfg.Client.ServerURL, token, logger),
		manager: client.NewManager(client.Options{
			URL:              client.WebSocketURL(cfg.Client.ServerURL),
			Token:            token,
			Name:             cfg.Client.Name,
			HandshakeTimeout: cfg.Client.HandshakeTimeout,
			RetryDelay:       cfg.Client.RetryDelay,
			MaxAttempts:      cfg.Client.MaxAttempts,
		}, logger),
	}, nil
}

func (s *session) Close() {
	_ = s.manager.Disconnect()
	_ = s.remote.Close()
}

// resolveToken 依序使用設定的 token、快取的訪客 token，最後向伺服器申請新的訪客 token
func resolveToken(ctx context.Context) (string, protocol.Identity, error) {
	if token := cfg.Client.Token; token != "" {
		identity, err := utils.PeekIdentity(token)
		return token, identity, err
	}

	path, err := xdg.ConfigFile(tokenFile)
	if err != nil {
		return "", protocol.Identity{}, err
	}
	if data, err := os.ReadFile(path); err == nil {
		token := strings.TrimSpace(string(data))
		identity, err := utils.PeekIdentity(token)
		if err == nil && (cfg.Client.Name == "" || cfg.Client.Name == identity.Name) {
			return token, identity, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Cannot read cached token", "path", path, "error", err)
	}

	token, identity, err := client.RequestGuestToken(ctx, cfg.Client.ServerURL, cfg.Client.Name)
	if err != nil {
		return "", protocol.Identity{}, err
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		logger.Warn("Cannot cache token", "path", path, "error", err)
	}
	logger.Debug("Guest token issued", "user", identity.UserID)
	return token, identity, nil
}
