package bot

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
	"github.com/Proton-105/soberdays-bot/internal/state"
)

// Dispatcher picks the free-text handler from the sender's conversation state. Handlers are
// registered during setup, before updates flow, so the table is read without locking.
type Dispatcher struct {
	fsm   state.StateMachine
	table map[state.State]handlers.Handler
	log   *slog.Logger
}

func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{fsm: fsm, table: make(map[state.State]handlers.Handler), log: log}
}

func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.table[s] = h
}

// Resolve returns nil when the update has no sender or the state has no handler. A missing or
// unreadable state counts as state.StateAwaitingStart.
func (d *Dispatcher) Resolve(c telebot.Context) handlers.Handler {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	current := state.StateAwaitingStart
	if d.fsm != nil {
		current = d.fsm.Current(handlers.RequestContext(c), sender.ID)
	}

	h, ok := d.table[current]
	if !ok {
		d.log.Debug("no state handler", slog.String("state", string(current)), slog.Int64("user_id", sender.ID))
	}
	return h
}
