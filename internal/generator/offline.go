package generator

import (
	"context"
	"fmt"

	"debate_live/internal/protocol"
)

// Offline 在沒有設定 API key 時使用，產生固定格式的論點
type Offline struct{}

func (Offline) GenerateArgument(_ context.Context, topic string, side protocol.Side, prior string) (string, error) {
	switch {
	case prior == "" && side == protocol.SidePro:
		return fmt.Sprintf("Opening for %q: the benefits clearly outweigh the costs.", topic), nil
	case prior == "":
		return fmt.Sprintf("Opening against %q: the costs are larger than they appear.", topic), nil
	case side == protocol.SidePro:
		return fmt.Sprintf("That objection misses the point; %q still holds in practice.", topic), nil
	default:
		return fmt.Sprintf("That claim ignores the downsides of %q.", topic), nil
	}
}
