package testutil

import (
	"sync"

	telebot "gopkg.in/telebot.v3"
)

// Sent records one outgoing Send or Edit call.
type Sent struct {
	What interface{}
	Opts []interface{}
}

// FakeContext is a telebot.Context backed by plain fields. Methods not overridden panic through
// the nil embedded interface, which flags handlers that reach for more than they should.
type FakeContext struct {
	telebot.Context

	UpdateID int
	User     *telebot.User
	Msg      *telebot.Message
	Cb       *telebot.Callback

	SendErr error
	EditErr error

	mu        sync.Mutex
	sent      []Sent
	edited    []Sent
	responses []*telebot.CallbackResponse
	responded int
	store     map[string]interface{}
}

// NewTextContext builds a context for a private text message.
func NewTextContext(userID int64, text string) *FakeContext {
	user := &telebot.User{ID: userID}
	return &FakeContext{
		User: user,
		Msg: &telebot.Message{
			ID:     1,
			Sender: user,
			Chat:   &telebot.Chat{ID: userID, Type: telebot.ChatPrivate},
			Text:   text,
		},
	}
}

// NewCallbackContext builds a context for an inline button press on a bot message.
func NewCallbackContext(userID int64, data string) *FakeContext {
	user := &telebot.User{ID: userID}
	msg := &telebot.Message{ID: 7, Chat: &telebot.Chat{ID: userID, Type: telebot.ChatPrivate}}
	return &FakeContext{
		User: user,
		Cb:   &telebot.Callback{ID: "cb-1", Sender: user, Message: msg, Data: data},
	}
}

func (c *FakeContext) Update() telebot.Update {
	return telebot.Update{ID: c.UpdateID, Message: c.Msg, Callback: c.Cb}
}

func (c *FakeContext) Sender() *telebot.User { return c.User }

func (c *FakeContext) Callback() *telebot.Callback { return c.Cb }

func (c *FakeContext) Message() *telebot.Message {
	if c.Cb != nil {
		return c.Cb.Message
	}
	return c.Msg
}

func (c *FakeContext) Chat() *telebot.Chat {
	if m := c.Message(); m != nil {
		return m.Chat
	}
	return nil
}

func (c *FakeContext) Text() string {
	if m := c.Message(); m != nil {
		return m.Text
	}
	return ""
}

func (c *FakeContext) Send(what interface{}, opts ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Sent{What: what, Opts: opts})
	return nil
}

func (c *FakeContext) Edit(what interface{}, opts ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EditErr != nil {
		return c.EditErr
	}
	c.edited = append(c.edited, Sent{What: what, Opts: opts})
	return nil
}

func (c *FakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responded++
	c.responses = append(c.responses, resp...)
	return nil
}

func (c *FakeContext) Get(key string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[key]
}

func (c *FakeContext) Set(key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string]interface{})
	}
	c.store[key] = val
}

// SentTexts returns the string payloads passed to Send, in order.
func (c *FakeContext) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return texts(c.sent)
}

// EditedTexts returns the string payloads passed to Edit, in order.
func (c *FakeContext) EditedTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return texts(c.edited)
}

// SentMessages returns every Send call including options.
func (c *FakeContext) SentMessages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Responded reports how many times the callback was answered.
func (c *FakeContext) Responded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// Responses returns the callback responses carrying a payload.
func (c *FakeContext) Responses() []*telebot.CallbackResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*telebot.CallbackResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

func texts(calls []Sent) []string {
	out := make([]string, 0, len(calls))
	for _, s := range calls {
		if text, ok := s.What.(string); ok {
			out = append(out, text)
		}
	}
	return out
}
