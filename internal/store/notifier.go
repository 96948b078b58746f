package store

import (
	"context"
	"log/slog"
	"sync"
)

// LocalNotifier 在同一個行程內廣播變更
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string]map[chan Change]struct{}
	log  *slog.Logger
}

func NewLocalNotifier(log *slog.Logger) *LocalNotifier {
	return &LocalNotifier{
		subs: make(map[string]map[chan Change]struct{}),
		log:  log,
	}
}

func (n *LocalNotifier) Publish(_ context.Context, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[change.RoomID] {
		select {
		case ch <- change:
		default:
			// 訂閱者太慢，丟棄這次更新
			n.log.Warn("Subscriber buffer full, change dropped", "room", change.RoomID)
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	ch := make(chan Change, subscriberBuffer)

	n.mu.Lock()
	if n.subs[roomID] == nil {
		n.subs[roomID] = make(map[chan Change]struct{})
	}
	n.subs[roomID][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[roomID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(n.subs, roomID)
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (n *LocalNotifier) Close() error { return nil }
