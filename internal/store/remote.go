package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

// Remote 透過伺服器的 REST API 存取房間，訂閱使用 Server-Sent Events
// 讓沒有直接連線資料庫的客戶端也能使用同一套 Store 介面
type Remote struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	log     *slog.Logger
}

func NewRemote(baseURL, token string, log *slog.Logger) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		stream:  &http.Client{},
		log:     log,
	}
}

type apiError struct {
	Error string         `json:"error"`
	Code  apperrors.Code `json:"code"`
}

func (r *Remote) do(ctx context.Context, client *http.Client, method, path string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	if out == nil {
		return resp, nil
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s %s: %v", method, path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch {
	case body.Code != apperrors.CodeNone:
		return apperrors.FromCode(body.Code, body.Error)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ErrRoomNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
}

func (r *Remote) CreateRoom(ctx context.Context, doc Document) (Document, error) {
	var created Document
	_, err := r.do(ctx, r.http, http.MethodPost, "/api/rooms", doc, &created)
	return created, err
}

func (r *Remote) GetRoom(ctx context.Context, roomID string) (Document, error) {
	var doc Document
	_, err := r.do(ctx, r.http, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &doc)
	return doc, err
}

func (r *Remote) ListRooms(ctx context.Context, createdBy string) ([]Document, error) {
	path := "/api/rooms"
	if createdBy != "" {
		path += "?createdBy=" + url.QueryEscape(createdBy)
	}
	var docs []Document
	_, err := r.do(ctx, r.http, http.MethodGet, path, nil, &docs)
	return docs, err
}

func (r *Remote) AddVote(ctx context.Context, roomID string, side protocol.Side) (Votes, error) {
	var votes Votes
	body := map[string]protocol.Side{"side": side}
	_, err := r.do(ctx, r.http, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/votes", body, &votes)
	return votes, err
}

func (r *Remote) AppendEntry(ctx context.Context, roomID string, entry protocol.Entry) (bool, error) {
	var out struct {
		Added bool `json:"added"`
	}
	_, err := r.do(ctx, r.http, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/entries", entry, &out)
	return out.Added, err
}

// Subscribe 在伺服器確認訂閱（回應標頭送達）後才返回
func (r *Remote) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	resp, err := r.do(ctx, r.stream, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/changes", nil, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		err := readEvents(resp.Body, func(event string, data []byte) bool {
			if event != "change" {
				return true
			}
			var change Change
			if err := json.Unmarshal(data, &change); err != nil {
				r.log.Warn("Invalid change event", "room", roomID, "error", err)
				return true
			}
			select {
			case out <- change:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			r.log.Warn("Change stream ended", "room", roomID, "error", err)
		}
	}()

	return out, nil
}

func (r *Remote) Close() error {
	r.http.CloseIdleConnections()
	r.stream.CloseIdleConnections()
	return nil
}

// readEvents 解析 text/event-stream，fn 回傳 false 時停止
func readEvents(body io.Reader, fn func(event string, data []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		event string
		data  bytes.Buffer
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if !fn(event, data.Bytes()) {
					return nil
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
