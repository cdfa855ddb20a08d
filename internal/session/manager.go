// Package session orchestrates the active conversation of one browser session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/meshchat/internal/cancel"
	"github.com/ashureev/meshchat/internal/conversation"
	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/transport"
)

// DefaultRateLimitGrace is the pause before reporting a rate-limited turn.
const DefaultRateLimitGrace = 3 * time.Second

// ErrConversationNotFound is returned when selecting an unknown conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// Transport sends chat queries to the remote backend.
type Transport interface {
	SendQuery(ctx context.Context, provider, model string, req transport.Request) (*transport.Reply, error)
}

// Persistence stores conversation snapshots. Implementations log and
// swallow their own failures.
type Persistence interface {
	Save(ctx context.Context, conversationID string, msgs []*domain.Message)
	Load(ctx context.Context, conversationID string) ([]*domain.Message, bool)
}

// Options configures a Manager.
type Options struct {
	Provider string
	Model    string
	// MockMode treats answers as pre-sanitized and skips HTML escaping.
	MockMode bool

	BotName    string
	BotAvatar  string
	UserName   string
	UserAvatar string

	RateLimitGrace time.Duration
	// SlowNotice inserts a notice after the user message of a turn still
	// pending after this long. Zero disables it.
	SlowNotice time.Duration

	// AlwaysNavigate reports the user's auto-navigation preference.
	AlwaysNavigate func(ctx context.Context) bool
	Navigator      Navigator
	Observer       Observer
	Logger         *slog.Logger

	Now   func() time.Time
	Sleep func(time.Duration)
	NewID func() string
}

// Query is one user request.
type Query struct {
	Text string
	// Context is passed through to the backend untouched.
	Context json.RawMessage
	// PromptLabel, when set, is shown instead of Text.
	PromptLabel string
}

// State is a snapshot of the manager.
type State struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []*domain.Message `json:"messages"`
	Loading        bool              `json:"loading"`
	Alert          *domain.Alert     `json:"alert,omitempty"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
}

// Manager owns the active conversation of one browser session.
type Manager struct {
	opts   Options
	index  *conversation.Index
	store  Persistence
	client Transport
	logger *slog.Logger

	mu             sync.Mutex
	conversationID string
	alert          *domain.Alert
	pending        int
	mounted        *cancel.Token
	provider       string
	model          string

	saveMu sync.Mutex
}

// New creates a mounted manager.
func New(index *conversation.Index, store Persistence, client Transport, opts Options) *Manager {
	if opts.RateLimitGrace <= 0 {
		opts.RateLimitGrace = DefaultRateLimitGrace
	}
	if opts.Navigator == nil {
		opts.Navigator = nopNavigator{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.NewID == nil {
		opts.NewID = NewConversationID
	}
	if opts.AlwaysNavigate == nil {
		opts.AlwaysNavigate = func(context.Context) bool { return false }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		opts:     opts,
		index:    index,
		store:    store,
		client:   client,
		logger:   logger,
		mounted:  cancel.NewToken(),
		provider: opts.Provider,
		model:    opts.Model,
	}
}

func (m *Manager) now() time.Time {
	return m.opts.Now()
}

// SendQuery appends the user message, allocating a conversation id when
// none is active, and resolves the turn in the background. The request is
// not aborted when ctx is canceled.
func (m *Manager) SendQuery(ctx context.Context, q Query) *Turn {
	m.mu.Lock()
	user := m.userMessage(q)
	if m.conversationID == "" {
		m.conversationID = m.opts.NewID()
		m.logger.Debug("allocated conversation id", "conversation_id", m.conversationID)
	}
	convID := m.conversationID
	msgs := m.index.Append(convID, user, nil)
	m.pending++
	provider, model := m.provider, m.model
	token := m.mounted
	turn := newTurn(convID, user)
	m.emitMessages(convID, msgs)
	m.emit(Event{Type: EventLoading, Loading: true})
	m.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	m.persist(bg, convID)

	go m.resolve(bg, turn, token, provider, model, q)
	return turn
}

func (m *Manager) resolve(ctx context.Context, turn *Turn, token *cancel.Token, provider, model string, q Query) {
	var slow *time.Timer
	if m.opts.SlowNotice > 0 {
		slow = time.AfterFunc(m.opts.SlowNotice, func() { m.insertSlowNotice(ctx, turn, token) })
	}

	reply, err := m.client.SendQuery(ctx, provider, model, transport.Request{
		ConversationID: turn.ConversationID,
		Query:          q.Text,
		Context:        q.Context,
	})
	if slow != nil {
		slow.Stop()
	}

	if err != nil && errors.Is(err, transport.ErrRateLimited) {
		m.opts.Sleep(m.opts.RateLimitGrace)
	}

	alwaysNavigate := false
	if err == nil && reply.Answer != nil {
		alwaysNavigate = m.opts.AlwaysNavigate(ctx)
	}

	m.mu.Lock()
	if token.IsCanceled() {
		turn.resolved = true
		m.mu.Unlock()
		m.logger.Debug("dropping turn completion after unmount", "conversation_id", turn.ConversationID)
		turn.finish(OutcomeDropped, err)
		return
	}

	outcome, navigateTo := m.apply(turn, reply, err, alwaysNavigate)
	turn.resolved = true
	if m.pending > 0 {
		m.pending--
	}
	m.emit(Event{Type: EventLoading, Loading: m.pending > 0})
	m.mu.Unlock()

	if outcome != OutcomeAlert {
		m.persist(ctx, turn.ConversationID)
	}
	m.emit(Event{Type: EventTurnComplete, ConversationID: turn.ConversationID})
	if navigateTo != "" {
		m.opts.Navigator.Navigate(navigateTo)
	}
	turn.finish(outcome, err)
}

// apply records the result of a turn. Called with m.mu held.
func (m *Manager) apply(turn *Turn, reply *transport.Reply, err error, alwaysNavigate bool) (Outcome, string) {
	log := m.logger.With("conversation_id", turn.ConversationID)

	switch {
	case err == nil && reply.StatusCode == 200 && reply.Answer != nil:
		msg, navigateTo := m.answerMessage(reply.Answer, alwaysNavigate)
		m.appendBot(turn.ConversationID, msg)
		if navigateTo != "" {
			m.emit(Event{Type: EventNavigate, ConversationID: turn.ConversationID, Path: navigateTo})
			return OutcomeNavigated, navigateTo
		}
		return OutcomeAnswered, ""

	case err == nil:
		text := reply.ErrorText
		if text == "" {
			text = StatusCodeText(reply.StatusCode)
		}
		log.Warn("chat backend returned no answer", "status", reply.StatusCode)
		m.setAlert(errorAlert(text))
		return OutcomeAlert, ""

	case errors.Is(err, transport.ErrTimeout):
		log.Warn("chat request timed out", "error", err)
		m.appendBot(turn.ConversationID, m.textMessage(TimeoutText))
		return OutcomeTimeout, ""

	case errors.Is(err, transport.ErrRateLimited):
		log.Warn("chat request rate limited", "error", err)
		m.appendBot(turn.ConversationID, m.textMessage(TooManyRequestsText))
		return OutcomeRateLimited, ""

	default:
		log.Error("chat request failed", "error", err)
		m.setAlert(errorAlert(alertMessage(err)))
		return OutcomeAlert, ""
	}
}

func (m *Manager) appendBot(conversationID string, msg *domain.Message) {
	msgs := m.index.Append(conversationID, msg, nil)
	m.emitMessages(conversationID, msgs)
}

func (m *Manager) insertSlowNotice(ctx context.Context, turn *Turn, token *cancel.Token) {
	m.mu.Lock()
	if turn.resolved || token.IsCanceled() {
		m.mu.Unlock()
		return
	}
	msgs := m.index.Append(turn.ConversationID, m.textMessage(SlowNoticeText), turn.UserMessage)
	m.emitMessages(turn.ConversationID, msgs)
	m.mu.Unlock()

	m.persist(ctx, turn.ConversationID)
}

// persist saves the latest snapshot of a conversation. Saves are serialized
// so an older snapshot never overwrites a newer one.
func (m *Manager) persist(ctx context.Context, conversationID string) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	msgs, _ := m.index.Get(conversationID)
	if len(msgs) == 0 {
		return
	}
	m.store.Save(ctx, conversationID, msgs)
}

// SelectConversation makes conversationID the active conversation. The
// previously active conversation is saved first when it has messages.
func (m *Manager) SelectConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	m.mu.Lock()
	previous := m.conversationID
	m.mu.Unlock()

	if previous == conversationID {
		msgs, _ := m.index.Get(conversationID)
		return msgs, nil
	}

	msgs, ok := m.index.Get(conversationID)
	if !ok {
		loaded, found := m.store.Load(ctx, conversationID)
		if !found {
			return nil, ErrConversationNotFound
		}
		m.index.Replace(conversationID, loaded)
		msgs = loaded
	}

	if previous != "" {
		m.persist(ctx, previous)
	}

	m.mu.Lock()
	m.conversationID = conversationID
	m.emitMessages(conversationID, msgs)
	m.mu.Unlock()
	return msgs, nil
}

// NewChat saves the active conversation when it has messages and resets the
// manager to an empty conversation without an id.
func (m *Manager) NewChat(ctx context.Context) {
	m.mu.Lock()
	previous := m.conversationID
	m.mu.Unlock()

	if previous != "" {
		m.persist(ctx, previous)
	}

	m.mu.Lock()
	m.conversationID = ""
	m.emit(Event{Type: EventReset})
	m.mu.Unlock()
}

// SelectModel switches provider and model. Switching resets the active
// conversation.
func (m *Manager) SelectModel(ctx context.Context, provider, model string) {
	m.mu.Lock()
	same := provider == m.provider && model == m.model
	m.mu.Unlock()
	if same {
		return
	}

	m.NewChat(ctx)

	m.mu.Lock()
	m.provider = provider
	m.model = model
	m.mu.Unlock()
	m.logger.Info("chat model selected", "provider", provider, "model", model)
}

// Mount re-arms the manager after Unmount. Turns sent before the unmount
// stay dropped.
func (m *Manager) Mount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mounted.IsCanceled() {
		return
	}
	m.mounted = cancel.NewToken()
	m.pending = 0
	m.emit(Event{Type: EventLoading, Loading: false})
}

// Unmount drops the completions of every in-flight turn.
func (m *Manager) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted.Cancel()
}

// Mounted reports whether completions are applied.
func (m *Manager) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.mounted.IsCanceled()
}

// ConversationID returns the active conversation id, empty before the first send.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Messages returns the messages of the active conversation.
func (m *Manager) Messages() []*domain.Message {
	m.mu.Lock()
	id := m.conversationID
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	msgs, _ := m.index.Get(id)
	return msgs
}

// IsLoading reports whether any turn is in flight.
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Alert returns the current alert, if any.
func (m *Manager) Alert() *domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alert == nil {
		return nil
	}
	a := *m.alert
	return &a
}

// ClearAlert dismisses the current alert.
func (m *Manager) ClearAlert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAlert(nil)
}

// Model returns the selected provider and model.
func (m *Manager) Model() (provider, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider, m.model
}

// State returns a snapshot of the manager.
func (m *Manager) State() State {
	m.mu.Lock()
	st := State{
		ConversationID: m.conversationID,
		Loading:        m.pending > 0,
		Provider:       m.provider,
		Model:          m.model,
	}
	if m.alert != nil {
		a := *m.alert
		st.Alert = &a
	}
	m.mu.Unlock()

	if st.ConversationID != "" {
		st.Messages, _ = m.index.Get(st.ConversationID)
	}
	if st.Messages == nil {
		st.Messages = []*domain.Message{}
	}
	return st
}

func (m *Manager) setAlert(a *domain.Alert) {
	m.alert = a
	m.emit(Event{Type: EventAlert, Alert: a})
}

func (m *Manager) emitMessages(conversationID string, msgs []*domain.Message) {
	if conversationID != m.conversationID {
		return
	}
	m.emit(Event{Type: EventMessages, ConversationID: conversationID, Messages: msgs})
}

func (m *Manager) emit(e Event) {
	m.opts.Observer.Notify(e)
}
