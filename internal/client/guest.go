package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"debate_live/internal/protocol"
)

// RequestGuestToken 向伺服器申請訪客 token
func RequestGuestToken(ctx context.Context, serverURL, name string) (string, protocol.Identity, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", protocol.Identity{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/guest", bytes.NewReader(body))
	if err != nil {
		return "", protocol.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", protocol.Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", protocol.Identity{}, fmt.Errorf("guest login failed: status %d", resp.StatusCode)
	}

	var out struct {
		Token string            `json:"token"`
		User  protocol.Identity `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", protocol.Identity{}, err
	}
	return out.Token, out.User, nil
}

// WebSocketURL 由伺服器的 HTTP 位址推出 WebSocket 端點
func WebSocketURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}
