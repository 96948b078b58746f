// Package debate 驅動兩個辯論角色輪流發言。
//
// 每一回合依序：正方輸入中 → 生成 → 發布並保存 → 間隔 →
// 反方以正方剛才的發言為對象做同樣的事 → 回合數加一 → 間隔。
// 同一個 Orchestrator 不會同時進行兩段發言。
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"debate_live/internal/apperrors"
	"debate_live/internal/protocol"
)

// Generator 產生一方的論點，prior 為對手上一段發言（開場時為空）
type Generator interface {
	GenerateArgument(ctx context.Context, topic string, side protocol.Side, prior string) (string, error)
}

// Publisher 把發言與輸入中狀態送到房間
type Publisher interface {
	SendTurn(ctx context.Context, entry protocol.Entry) (protocol.Entry, error)
	SendTyping(side protocol.Side, isTyping bool) error
}

// Recorder 保存發言
type Recorder interface {
	Record(ctx context.Context, entry protocol.Entry) error
}

type Config struct {
	RoomID            string
	Topic             string
	TurnDelay         time.Duration
	GenerationTimeout time.Duration
	MaxWords          int
}

func (c Config) withDefaults() Config {
	if c.TurnDelay <= 0 {
		c.TurnDelay = 2 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 30 * time.Second
	}
	if c.MaxWords <= 0 {
		c.MaxWords = 30
	}
	return c
}

type Status int

const (
	StatusIdle Status = iota
	StatusRunning
)

func (s Status) String() string {
	if s == StatusRunning {
		return "running"
	}
	return "idle"
}

type Orchestrator struct {
	cfg Config
	gen Generator
	pub Publisher
	rec Recorder
	log *slog.Logger

	mu      sync.Mutex
	status  Status
	round   int
	typing  map[protocol.Side]bool
	lastPro string
	lastCon string
	entries []protocol.Entry
	stop    chan struct{}
	done    chan struct{}
}

func NewOrchestrator(cfg Config, gen Generator, pub Publisher, rec Recorder, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		gen:    gen,
		pub:    pub,
		rec:    rec,
		log:    log.With("room", cfg.RoomID),
		typing: make(map[protocol.Side]bool),
	}
}

// Start 從第一回合開始進行 rounds 回合，立即返回
func (o *Orchestrator) Start(ctx context.Context, rounds int) error {
	if rounds < 1 {
		return fmt.Errorf("rounds must be positive, got %d", rounds)
	}
	stop, done, err := o.begin()
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.round = 1
	o.mu.Unlock()

	o.log.Info("Debate started", "rounds", rounds)
	go func() {
		defer o.finish(done)
		o.run(ctx, stop, rounds)
	}()
	return nil
}

// Open 讓雙方同時產生開場論點，不計入回合
func (o *Orchestrator) Open(ctx context.Context) error {
	stop, done, err := o.begin()
	if err != nil {
		return err
	}
	defer o.finish(done)

	texts := make(map[protocol.Side]string, 2)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []protocol.Side{protocol.SidePro, protocol.SideCon} {
		g.Go(func() error {
			o.setTyping(side, true)
			text := o.generate(gctx, side, "")
			mu.Lock()
			texts[side] = text
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if stopped(ctx, stop) {
		return nil
	}
	for _, side := range []protocol.Side{protocol.SidePro, protocol.SideCon} {
		o.emit(ctx, side, texts[side])
		o.setTyping(side, false)
	}
	return nil
}

// Stop 停止進行中的辯論：清除輸入中狀態，中斷間隔，不再發起新的生成
// 已經在生成中的結果會被丟棄；回合數不變
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return apperrors.ErrNotRunning
	}
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
	cleared := o.clearTypingLocked()
	o.mu.Unlock()

	o.publishCleared(cleared)
	o.log.Info("Debate stopped", "round", o.Round())
	return nil
}

// Reset 回到第零回合並忘記雙方上一段發言
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusRunning {
		return apperrors.ErrAlreadyRunning
	}
	o.round = 0
	o.lastPro, o.lastCon = "", ""
	o.entries = nil
	return nil
}

// Wait 等待目前的辯論結束
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) Round() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.round
}

func (o *Orchestrator) Typing(side protocol.Side) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.typing[side]
}

// Entries 回傳目前為止的發言
func (o *Orchestrator) Entries() []protocol.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Entry(nil), o.entries...)
}

func (o *Orchestrator) begin() (chan struct{}, chan struct{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusRunning {
		return nil, nil, apperrors.ErrAlreadyRunning
	}
	o.status = StatusRunning
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	return o.stop, o.done, nil
}

func (o *Orchestrator) finish(done chan struct{}) {
	o.mu.Lock()
	o.status = StatusIdle
	cleared := o.clearTypingLocked()
	round := o.round
	o.mu.Unlock()

	o.publishCleared(cleared)
	close(done)
	o.log.Info("Debate idle", "round", round)
}

func (o *Orchestrator) run(ctx context.Context, stop <-chan struct{}, rounds int) {
	for {
		if o.Round() > rounds {
			return
		}
		if !o.turn(ctx, stop, protocol.SidePro) || !o.sleep(ctx, stop) {
			return
		}
		if !o.turn(ctx, stop, protocol.SideCon) {
			return
		}
		// 停止與回合遞增在同一把鎖下判斷，停止後回合數維持不變
		o.mu.Lock()
		if stopped(ctx, stop) {
			o.mu.Unlock()
			return
		}
		o.round++
		o.mu.Unlock()
		if !o.sleep(ctx, stop) {
			return
		}
	}
}

// turn 進行一方的一段發言，被停止時回傳 false
func (o *Orchestrator) turn(ctx context.Context, stop <-chan struct{}, side protocol.Side) bool {
	if stopped(ctx, stop) {
		return false
	}
	o.setTyping(side, true)

	o.mu.Lock()
	prior := o.lastPro
	if side == protocol.SidePro {
		prior = o.lastCon
	}
	o.mu.Unlock()

	text := o.generate(ctx, side, prior)
	if stopped(ctx, stop) {
		o.log.Debug("Dropping argument generated after stop", "side", side)
		return false
	}

	o.emit(ctx, side, text)
	o.setTyping(side, false)
	return true
}

// generate 呼叫生成服務；失敗或空白時回傳 Placeholder
func (o *Orchestrator) generate(ctx context.Context, side protocol.Side, prior string) string {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	text, err := o.gen.GenerateArgument(gctx, o.cfg.Topic, side, prior)
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperrors.ErrEmptyGeneration
	}
	if err != nil {
		genErr := &apperrors.GenerationError{Side: string(side), Err: err}
		o.log.Warn("Generation failed, using placeholder", "side", side, "error", genErr)
		return Placeholder
	}
	return Truncate(strings.TrimSpace(text), o.cfg.MaxWords)
}

// emit 把發言加入紀錄、發布並保存；發布與保存失敗只記錄警告
func (o *Orchestrator) emit(ctx context.Context, side protocol.Side, text string) {
	entry := protocol.NewEntry(o.cfg.RoomID, protocol.PersonaOrigin(side), text)

	if o.pub != nil {
		stamped, err := o.pub.SendTurn(ctx, entry)
		if err != nil {
			o.log.Warn("Publish turn failed", "side", side, "error", err)
		} else {
			entry = stamped
		}
	}

	o.mu.Lock()
	o.entries = append(o.entries, entry)
	if side == protocol.SidePro {
		o.lastPro = text
	} else {
		o.lastCon = text
	}
	o.mu.Unlock()

	if o.rec != nil {
		if err := o.rec.Record(ctx, entry); err != nil {
			o.log.Warn("Persist turn failed", "side", side, "error", err)
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context, stop <-chan struct{}) bool {
	timer := time.NewTimer(o.cfg.TurnDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) setTyping(side protocol.Side, on bool) {
	o.mu.Lock()
	o.typing[side] = on
	o.mu.Unlock()

	if o.pub == nil {
		return
	}
	if err := o.pub.SendTyping(side, on); err != nil && !errors.Is(err, apperrors.ErrNotConnected) {
		o.log.Warn("Publish typing failed", "side", side, "error", err)
	}
}

func (o *Orchestrator) clearTypingLocked() []protocol.Side {
	var cleared []protocol.Side
	for side, on := range o.typing {
		if on {
			cleared = append(cleared, side)
		}
		o.typing[side] = false
	}
	return cleared
}

func (o *Orchestrator) publishCleared(sides []protocol.Side) {
	if o.pub == nil {
		return
	}
	for _, side := range sides {
		_ = o.pub.SendTyping(side, false)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
