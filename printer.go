package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gookit/color"

	"debate_live/internal/bridge"
	"debate_live/internal/protocol"
	"debate_live/internal/store"
)

var (
	proStyle    = color.New(color.FgGreen, color.OpBold)
	conStyle    = color.New(color.FgRed, color.OpBold)
	humanStyle  = color.New(color.FgCyan)
	systemStyle = color.New(color.FgGray)
	voteStyle   = color.New(color.FgYellow)
)

// printer 把房間的事件輸出到終端，並記住成員的顯示名稱
type printer struct {
	out io.Writer

	mu    sync.Mutex
	names map[string]string
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, names: make(map[string]string)}
}

func (p *printer) remember(users ...protocol.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range users {
		p.names[u.UserID] = u.DisplayName()
	}
}

func (p *printer) speaker(origin protocol.Origin) (string, color.Style) {
	if side, ok := origin.Persona(); ok {
		if side == protocol.SidePro {
			return "PRO", proStyle
		}
		return "CON", conStyle
	}
	if id, ok := origin.Human(); ok {
		p.mu.Lock()
		name, known := p.names[id]
		p.mu.Unlock()
		if !known {
			name = id
		}
		return name, humanStyle
	}
	return "system", systemStyle
}

func (p *printer) entry(e protocol.Entry) {
	name, style := p.speaker(e.Origin)
	fmt.Fprintf(p.out, "%s %s %s\n",
		systemStyle.Sprintf("[%s]", e.Timestamp.Local().Format("15:04:05")),
		style.Sprintf("%-8s", name),
		e.Content)
}

func (p *printer) system(format string, args ...any) {
	fmt.Fprintln(p.out, systemStyle.Sprintf("-- "+format, args...))
}

func (p *printer) votes(v store.Votes) {
	fmt.Fprintln(p.out, voteStyle.Sprintf("votes  pro %d : %d con", v.Pro, v.Con))
}

func (p *printer) typing(side protocol.Side, on bool) {
	if !on {
		return
	}
	_, style := p.speaker(protocol.PersonaOrigin(side))
	fmt.Fprintln(p.out, style.Sprintf("%s is typing...", strings.ToUpper(string(side))))
}

func (p *printer) change(c store.Change) {
	if c.Votes != nil {
		p.votes(*c.Votes)
	}
	if c.Entry != nil {
		p.entry(*c.Entry)
	}
}

func (p *printer) room(doc store.Document) {
	fmt.Fprintln(p.out, color.New(color.OpBold).Sprintf("Topic: %s", doc.Topic))
	p.votes(doc.Votes)
	for _, e := range doc.Entries {
		p.entry(e)
	}
}

func (p *printer) result(v store.Votes) {
	p.votes(v)
	switch winner := bridge.Winner(v); winner {
	case "tie":
		fmt.Fprintln(p.out, voteStyle.Sprint("Result: tie"))
	default:
		_, style := p.speaker(protocol.PersonaOrigin(protocol.Side(winner)))
		fmt.Fprintln(p.out, style.Sprintf("Winner: %s", strings.ToUpper(winner)))
	}
}
