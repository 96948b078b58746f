package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"debate_live/internal/bridge"
	"debate_live/internal/client"
	"debate_live/internal/debate"
	"debate_live/internal/generator"
	"debate_live/internal/protocol"
)

var driveCmd = &cobra.Command{
	Use:   "drive ROOM",
	Short: "Run the two debate personas in a room (Ctrl-C stops the debate)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDrive,
}

func init() {
	flags := driveCmd.Flags()
	flags.Int("rounds", 3, "number of pro/con rounds")
	flags.Bool("opening", false, "generate opening statements before the first round")
	flags.Duration("turn-delay", 0, "pause between turns (default from config)")
	flags.Int("repeat", 1, "number of debates to run back to back, resetting in between")
	bindFlags(flags, map[string]string{
		"rounds":     "debate.rounds",
		"turn-delay": "debate.turn_delay",
	})
}

// managedPublisher 每次發送前向 Manager 取得目前的連線，斷線後會自動重連並回到房間
type managedPublisher struct {
	m *client.Manager
}

func (p managedPublisher) SendTurn(ctx context.Context, entry protocol.Entry) (protocol.Entry, error) {
	conn, err := p.m.Connect(ctx)
	if err != nil {
		return entry, err
	}
	return conn.SendTurn(ctx, entry)
}

func (p managedPublisher) SendTyping(side protocol.Side, isTyping bool) error {
	conn, err := p.m.Connect(context.Background())
	if err != nil {
		return err
	}
	return conn.SendTyping(side, isTyping)
}

// newGenerator 有 API key 時使用 Gemini，否則使用離線的固定論點
func newGenerator() debate.Generator {
	gen, err := generator.NewGemini(generator.Config{
		APIKey:  cfg.Generator.APIKey,
		Model:   cfg.Generator.Model,
		BaseURL: cfg.Generator.BaseURL,
	})
	if errors.Is(err, generator.ErrNoAPIKey) {
		logger.Warn("No generator API key configured, using offline arguments")
		return generator.Offline{}
	}
	return gen
}

func runDrive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roomID := args[0]

	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	// 先載入房間，確認房間存在並取得主題
	br, err := bridge.Open(ctx, sess.remote, roomID, logger)
	if err != nil {
		return err
	}
	defer br.Close()

	conn, err := sess.manager.Connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.Join(ctx, roomID); err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout())
	out.room(br.Document())

	orch := debate.NewOrchestrator(debate.Config{
		RoomID:            roomID,
		Topic:             br.Topic(),
		TurnDelay:         cfg.Debate.TurnDelay,
		GenerationTimeout: cfg.Debate.GenerationTimeout,
		MaxWords:          cfg.Debate.MaxWords,
	}, newGenerator(), managedPublisher{m: sess.manager}, br, logger)

	opening, _ := cmd.Flags().GetBool("opening")
	repeat, _ := cmd.Flags().GetInt("repeat")
	events := conn.Events()
	for n := 1; n <= repeat; n++ {
		if n > 1 {
			// 上一場的回合與發言不帶入下一場
			if err := orch.Reset(); err != nil {
				return err
			}
			out.system("debate %d of %d", n, repeat)
		}

		var stopped bool
		events, stopped, err = runDebate(ctx, sess.manager, br, orch, out, events, opening)
		if err != nil {
			return err
		}
		drainUpdates(br, out)
		out.result(br.Votes())
		if stopped {
			return nil
		}
	}
	return nil
}

// runDebate 進行一場辯論直到結束或被中斷，回傳目前的事件來源以及是否被中斷
func runDebate(ctx context.Context, m *client.Manager, br *bridge.Session, orch *debate.Orchestrator, out *printer, events <-chan protocol.Event, opening bool) (<-chan protocol.Event, bool, error) {
	if opening {
		out.system("opening statements")
		if err := orch.Open(ctx); err != nil {
			return events, false, err
		}
		drainUpdates(br, out)
		if ctx.Err() != nil {
			return events, true, nil
		}
	}

	// 中斷訊號透過 Stop 處理，讓正在進行的發布與保存可以完成
	if err := orch.Start(context.WithoutCancel(ctx), cfg.Debate.Rounds); err != nil {
		return events, false, err
	}
	finished := make(chan struct{})
	go func() {
		orch.Wait()
		close(finished)
	}()

	for {
		select {
		case change := <-br.Updates():
			out.change(change)
		case evt, ok := <-events:
			if !ok {
				events = reconnectEvents(ctx, m)
				continue
			}
			applyEvent(evt, br, out)
		case <-ctx.Done():
			if err := orch.Stop(); err == nil {
				out.system("debate stopped in round %d", orch.Round())
			}
			<-finished
			return events, true, nil
		case <-finished:
			return events, false, nil
		}
	}
}

// reconnectEvents 在連線中斷後重新連線；失敗時回傳 nil，不再接收事件
func reconnectEvents(ctx context.Context, m *client.Manager) <-chan protocol.Event {
	conn, err := m.Connect(ctx)
	if err != nil {
		logger.Warn("Reconnect failed", "error", err)
		return nil
	}
	return conn.Events()
}

// applyEvent 把傳輸層事件合併進房間狀態，新的紀錄會經由 Updates 輸出
func applyEvent(evt protocol.Event, br *bridge.Session, out *printer) {
	switch p := evt.Payload.(type) {
	case protocol.EntryMessage:
		br.Apply(p.Message)
	case protocol.TypingStatus:
		out.typing(p.Side, p.IsTyping)
	case protocol.RoomUsers:
		out.remember(p.Users...)
	case protocol.Presence:
		out.remember(p.User)
		verb := "joined"
		if evt.Type == protocol.TypeUserLeft {
			verb = "left"
		}
		out.system("%s %s", p.User.DisplayName(), verb)
	}
}

func drainUpdates(br *bridge.Session, out *printer) {
	for {
		select {
		case change := <-br.Updates():
			out.change(change)
		default:
			return
		}
	}
}
