package bot

import (
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/soberdays-bot/internal/bot/handlers"
)

// Router picks one handler per update and runs it through the middleware chain.
//
// Callbacks match by exact data, then by longest registered prefix, then the default callback.
// Messages try, in order: commands, exact texts (reply keyboard labels), the state dispatcher,
// the default handler. Registration happens before the bot starts, so lookups take no lock.
type Router struct {
	commands        map[string]handlers.Handler
	texts           map[string]handlers.Handler
	callbacks       map[string]handlers.CallbackHandler
	dispatcher      *Dispatcher
	defaultHandler  handlers.Handler
	defaultCallback handlers.CallbackHandler
	chain           []handlers.Middleware
	log             *slog.Logger
}

func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		commands:   make(map[string]handlers.Handler),
		texts:      make(map[string]handlers.Handler),
		callbacks:  make(map[string]handlers.CallbackHandler),
		dispatcher: dispatcher,
		log:        log,
	}
}

func (r *Router) RegisterCommand(cmd string, h handlers.Handler) { r.commands[cmd] = h }

func (r *Router) RegisterText(text string, h handlers.Handler) {
	r.texts[strings.TrimSpace(text)] = h
}

func (r *Router) RegisterCallback(prefix string, h handlers.CallbackHandler) { r.callbacks[prefix] = h }

// Use appends mw; the first middleware registered is the outermost.
func (r *Router) Use(mw handlers.Middleware) { r.chain = append(r.chain, mw) }

func (r *Router) SetDefault(h handlers.Handler) { r.defaultHandler = h }

func (r *Router) SetDefaultCallback(h handlers.CallbackHandler) { r.defaultCallback = h }

// Route handles one update. Updates nothing matches are dropped silently.
func (r *Router) Route(c telebot.Context) error {
	h := r.resolve(c)
	if h == nil {
		return nil
	}
	for i := len(r.chain) - 1; i >= 0; i-- {
		h = r.chain[i](h)
	}
	return h(c)
}

func (r *Router) resolve(c telebot.Context) handlers.Handler {
	if cb := c.Callback(); cb != nil {
		data := strings.TrimSpace(cb.Data)
		if h := r.callbackFor(data); h != nil {
			return handlers.Handler(h)
		}
		r.log.Info("no callback handler found", slog.String("data", data))
		return nil
	}

	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		if h := r.commands[normalizeCommand(text)]; h != nil {
			return h
		}
	}
	if h := r.texts[text]; h != nil {
		return h
	}
	if r.dispatcher != nil {
		if h := r.dispatcher.Resolve(c); h != nil {
			return h
		}
	}
	return r.defaultHandler
}

func (r *Router) callbackFor(data string) handlers.CallbackHandler {
	if h, ok := r.callbacks[data]; ok {
		return h
	}

	var best handlers.CallbackHandler
	bestLen := 0
	for prefix, h := range r.callbacks {
		if len(prefix) > bestLen && strings.HasPrefix(data, prefix) {
			best, bestLen = h, len(prefix)
		}
	}
	if best != nil {
		return best
	}
	return r.defaultCallback
}

// normalizeCommand reduces "/start@SoberBot payload" to "/start".
func normalizeCommand(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
