package session

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/meshchat/internal/conversation"
	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/transport"
)

type sentRequest struct {
	Provider string
	Model    string
	Request  transport.Request
}

type result struct {
	reply *transport.Reply
	err   error
}

// fakeTransport answers from a queue; when gate is set each call blocks
// until a value is sent on it.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	results []result
	gate    chan result
}

func (f *fakeTransport) SendQuery(_ context.Context, provider, model string, req transport.Request) (*transport.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{Provider: provider, Model: model, Request: req})
	gate := f.gate
	var r result
	if gate == nil && len(f.results) > 0 {
		r = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		r = <-gate
	}
	return r.reply, r.err
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

func answerReply(text string, actions ...domain.Action) result {
	return result{reply: &transport.Reply{
		StatusCode: 200,
		Answer:     &transport.Answer{Answer: text, Actions: actions},
	}}
}

type savedConversation struct {
	ID       string
	Messages []*domain.Message
}

type fakeStore struct {
	mu    sync.Mutex
	saves []savedConversation
	data  map[string][]*domain.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]*domain.Message)}
}

func (f *fakeStore) Save(_ context.Context, id string, msgs []*domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, savedConversation{ID: id, Messages: msgs})
	f.data[id] = msgs
}

func (f *fakeStore) Load(_ context.Context, id string) ([]*domain.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.data[id]
	return msgs, ok
}

func (f *fakeStore) saveCalls() []savedConversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedConversation(nil), f.saves...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	paths  []string
	sleeps []time.Duration
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
}

func (r *recorder) navigations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func (r *recorder) slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	mgr   *Manager
	index *conversation.Index
	store *fakeStore
	tr    *fakeTransport
	rec   *recorder
}

func newHarness(mutate func(*Options)) *harness {
	h := &harness{
		index: conversation.NewIndex(),
		store: newFakeStore(),
		tr:    &fakeTransport{},
		rec:   &recorder{},
	}
	opts := Options{
		Provider:  "openai",
		Model:     "gpt-4o",
		BotName:   "Kiali AI",
		BotAvatar: "/bot.svg",
		UserName:  "admin",
		Navigator: h.rec,
		Observer:  h.rec,
		Sleep:     h.rec.sleep,
		Now:       func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.mgr = New(h.index, h.store, h.tr, opts)
	return h
}
