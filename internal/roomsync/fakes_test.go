package roomsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skobkin/nctalk/internal/events"
	"github.com/skobkin/nctalk/internal/talk"
)

type fakeResult struct {
	page talk.MessagesPage
	err  error
}

func ok(lastGiven int64, msgs ...talk.Message) fakeResult {
	return fakeResult{page: talk.MessagesPage{Messages: msgs, Cursor: talk.Cursor{LastGiven: lastGiven}}}
}

func failed(err error) fakeResult {
	return fakeResult{err: err}
}

// fakeService answers message requests from per-room scripts. An exhausted
// script behaves like a long-poll that timed out.
type fakeService struct {
	mu           sync.Mutex
	results      map[string][]fakeResult
	requests     []talk.MessagesRequest
	requestedAt  []time.Time
	inFlight     int
	maxInFlight  int
	gate         chan struct{}
	sent         []string
	user         talk.User
	userErr      error
	convs        []talk.Conversation
	participants []talk.Participant
}

func newFakeService() *fakeService {
	return &fakeService{
		results: make(map[string][]fakeResult),
		user:    talk.User{ID: "me", DisplayName: "Me"},
	}
}

func (f *fakeService) script(token string, results ...fakeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[token] = append(f.results[token], results...)
}

func (f *fakeService) CurrentUser(context.Context) (talk.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.user, f.userErr
}

func (f *fakeService) GetConversations(context.Context) ([]talk.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]talk.Conversation(nil), f.convs...), nil
}

func (f *fakeService) GetConversationMessages(ctx context.Context, req talk.MessagesRequest) (talk.MessagesPage, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.requests = append(f.requests, req)
	f.requestedAt = append(f.requestedAt, time.Now())
	gate := f.gate
	res := fakeResult{err: talk.ErrNotModified}
	if queued := f.results[req.Token]; len(queued) > 0 {
		res = queued[0]
		f.results[req.Token] = queued[1:]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return talk.MessagesPage{}, ctx.Err()
		}
	}

	return res.page, res.err
}

func (f *fakeService) GetConversationParticipants(_ context.Context, token string) ([]talk.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]talk.Participant(nil), f.participants...), nil
}

func (f *fakeService) SendMessage(_ context.Context, token, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, token+":"+text)

	return nil
}

func (f *fakeService) requestsFor(token string) []talk.MessagesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]talk.MessagesRequest, 0, len(f.requests))
	for _, r := range f.requests {
		if r.Token == token {
			out = append(out, r)
		}
	}

	return out
}

func (f *fakeService) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.sent...)
}

func (f *fakeService) requestTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]time.Time(nil), f.requestedAt...)
}

type published struct {
	topic string
	msg   any
}

type recordingPublisher struct {
	mu  sync.Mutex
	all []published
}

func (p *recordingPublisher) Publish(topic string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.all = append(p.all, published{topic: topic, msg: msg})
}

func (p *recordingPublisher) healthChanges(token string) []events.Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Health
	for _, e := range p.all {
		if hc, ok := e.msg.(events.HealthChanged); ok && hc.Token == token {
			out = append(out, hc.Health)
		}
	}

	return out
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.all))
	for _, e := range p.all {
		out = append(out, e.topic)
	}

	return out
}

func msg(id, ts int64) talk.Message {
	return talk.Message{
		ID:               id,
		Token:            "room1",
		ActorID:          "alice",
		ActorType:        "users",
		ActorDisplayName: "Alice",
		Text:             fmt.Sprintf("m%d", id),
		Timestamp:        ts,
	}
}

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func testOptions() Options {
	return Options{
		UpdateInterval:  time.Hour,
		LongPollTimeout: time.Second,
		FastPollTimeout: 100 * time.Millisecond,
		Location:        time.UTC,
		Rand:            fixedRand(0.5),
	}
}

func collectLines(t *testing.T, sub *Subscription, n int) []events.RoomLine {
	t.Helper()

	out := make([]events.RoomLine, 0, n)
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case line := <-sub.Lines():
			out = append(out, line)
		case <-deadline:
			require.FailNowf(t, "missing lines", "got %d of %d lines: %+v", len(out), n, out)
		}
	}

	return out
}

func messageIDs(lines []events.RoomLine) []int64 {
	var ids []int64
	for _, l := range lines {
		if l.Kind == events.LineMessage {
			ids = append(ids, l.Message.ID)
		}
	}

	return ids
}

func startDelivery(t *testing.T, s *Synchronizer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.DeliverLoop(ctx) }()
}
