package protocol

import (
	"strings"

	"github.com/google/uuid"
)

// Side 辯論的正反方
type Side string

const (
	SidePro Side = "pro"
	SideCon Side = "con"
)

func (s Side) Valid() bool { return s == SidePro || s == SideCon }

// Opponent 回傳對手的一方
func (s Side) Opponent() Side {
	if s == SidePro {
		return SideCon
	}
	return SidePro
}

// Identity 代表一個連線的使用者身份
type Identity struct {
	UserID    string `json:"userId" validate:"required,max=128"`
	Name      string `json:"name" validate:"max=128"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// AnonymousIdentity 為未登入的連線產生一個臨時身份
func AnonymousIdentity(name string) Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Anonymous"
	}
	return Identity{
		UserID:    "anon-" + uuid.NewString()[:8],
		Name:      name,
		Anonymous: true,
	}
}

func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.UserID
}

// Origin 回傳此身份發言時的來源標記
func (i Identity) Origin() Origin { return HumanOrigin(i.UserID) }

// Origin 標記一條 Entry 的來源:
// human:<userID>、persona:pro、persona:con 或 system
type Origin string

const (
	OriginSystem Origin = "system"

	humanPrefix   = "human:"
	personaPrefix = "persona:"
)

func HumanOrigin(userID string) Origin { return Origin(humanPrefix + userID) }

func PersonaOrigin(side Side) Origin { return Origin(personaPrefix + string(side)) }

// Persona 若來源是辯論角色則回傳其立場
func (o Origin) Persona() (Side, bool) {
	if !strings.HasPrefix(string(o), personaPrefix) {
		return "", false
	}
	side := Side(strings.TrimPrefix(string(o), personaPrefix))
	return side, side.Valid()
}

// Human 若來源是真人則回傳其 userID
func (o Origin) Human() (string, bool) {
	if !strings.HasPrefix(string(o), humanPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(string(o), humanPrefix)
	return id, id != ""
}

func (o Origin) Valid() bool {
	if o == OriginSystem {
		return true
	}
	if _, ok := o.Persona(); ok {
		return true
	}
	_, ok := o.Human()
	return ok
}
