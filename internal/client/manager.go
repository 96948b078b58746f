// Package client 是連線到辯論伺服器的客戶端。
//
// Manager 負責建立與重建 WebSocket 連線（含重試與並行去重），
// Conn 提供加入房間、送出聊天與辯論發言等需要確認的操作。
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"debate_live/internal/apperrors"
)

// State 連線狀態
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	URL              string // 例如 ws://localhost:8080/api/ws
	Token            string
	Name             string // 匿名連線時顯示的名稱
	HandshakeTimeout time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	AckTimeout       time.Duration
	EventBuffer      int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	return o
}

// Manager 管理到伺服器的單一連線
// 同時多個 Connect 只會產生一次握手
type Manager struct {
	opts  Options
	log   *slog.Logger
	group singleflight.Group
	state atomic.Int32

	mu   sync.Mutex
	conn *Conn
}

func NewManager(opts Options, log *slog.Logger) *Manager {
	return &Manager{opts: opts.withDefaults(), log: log}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Connect 回傳目前可用的連線，必要時建立新連線
// 若上一條連線意外中斷，新連線會重新加入原本的房間
func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	if c := m.current(); c != nil {
		return c, nil
	}

	// 撥號不跟隨任何一個呼叫端的 ctx，只受重試預算限制；
	// 每個呼叫端各自依自己的 ctx 放棄等待
	results := m.group.DoChan("connect", func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.dialBudget())
		defer cancel()
		return m.dial(dctx)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	case <-ctx.Done():
		return nil, &apperrors.ConnectionError{Err: ctx.Err()}
	}
}

// dialBudget 是一次完整撥號（含重試與重新加入房間）可用的時間上限
func (m *Manager) dialBudget() time.Duration {
	n := time.Duration(m.opts.MaxAttempts)
	return n*(m.opts.HandshakeTimeout+m.opts.RetryDelay) + m.opts.AckTimeout
}

// Disconnect 關閉連線，重複呼叫沒有作用
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.state.Store(int32(StateDisconnected))
	if c == nil {
		return nil
	}
	return c.Close()
}

func (m *Manager) current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && !m.conn.isClosed() {
		return m.conn
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) (*Conn, error) {
	m.mu.Lock()
	if m.conn != nil && !m.conn.isClosed() {
		c := m.conn
		m.mu.Unlock()
		return c, nil
	}
	var rejoin string
	if m.conn != nil {
		rejoin = m.conn.Room()
	}
	m.mu.Unlock()

	m.state.Store(int32(StateConnecting))

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ws, err := m.handshake(ctx)
		if err == nil {
			conn := newConn(ws, m.opts, m.log)
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			m.state.Store(int32(StateConnected))
			go m.watch(conn)

			m.log.Info("Connected", "url", m.opts.URL, "attempt", attempt)
			if rejoin != "" {
				if err := conn.Join(ctx, rejoin); err != nil {
					m.log.Warn("Rejoin after reconnect failed", "room", rejoin, "error", err)
				}
			}
			return conn, nil
		}

		lastErr = err
		m.log.Warn("Connect attempt failed", "attempt", attempt, "max", m.opts.MaxAttempts, "error", err)
		if errors.Is(err, apperrors.ErrUnauthorized) {
			m.state.Store(int32(StateDisconnected))
			return nil, &apperrors.ConnectionError{Attempts: attempt, Err: err}
		}
		if attempt == m.opts.MaxAttempts {
			break
		}

		select {
		case <-time.After(m.opts.RetryDelay):
		case <-ctx.Done():
			m.state.Store(int32(StateDisconnected))
			return nil, &apperrors.ConnectionError{Attempts: attempt, Err: ctx.Err()}
		}
	}

	m.state.Store(int32(StateDisconnected))
	return nil, &apperrors.ConnectionError{Attempts: m.opts.MaxAttempts, Err: lastErr}
}

func (m *Manager) handshake(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %v", err)
	}
	q := u.Query()
	if m.opts.Token != "" {
		q.Set("token", m.opts.Token)
	}
	if m.opts.Name != "" {
		q.Set("name", m.opts.Name)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: m.opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}
	return ws, nil
}

// watch 在連線結束時更新狀態
func (m *Manager) watch(c *Conn) {
	<-c.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == c {
		m.state.Store(int32(StateDisconnected))
		m.log.Warn("Connection lost", "room", c.Room(), "error", c.Err())
	}
}
