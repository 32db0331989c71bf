package consumer

import (
	"github.com/pion/logging"

	"github.com/backkem/feedconsumer/pkg/message"
)

// Handler receives application messages once the session is ready.
// OnMessage runs on the session goroutine and must not block.
type Handler interface {
	OnMessage(m *message.Msg)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m *message.Msg)

// OnMessage implements Handler.
func (f HandlerFunc) OnMessage(m *message.Msg) {
	f(m)
}

// logHandler is the default Handler.
type logHandler struct {
	log logging.LeveledLogger
}

func (h logHandler) OnMessage(m *message.Msg) {
	if h.log == nil {
		return
	}
	if m.HasState {
		h.log.Infof("%s %s", m, m.State)
		return
	}
	h.log.Infof("%s", m)
}
