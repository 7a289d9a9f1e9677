package services

import (
	"context"
	"sync"

	"campus-order-bot/internal/db/dbtest"
	"campus-order-bot/internal/session"
)

type fakeGateway struct {
	mu          sync.Mutex
	initReqs    []InitializeRequest
	initURL     string
	initErr     error
	verify      *Verification
	verifyErr   error
	verifyCalls int
}

func (g *fakeGateway) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initReqs = append(g.initReqs, req)
	return g.initURL, g.initErr
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	return g.verify, g.verifyErr
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Notify(chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{chatID, text})
	return nil
}

type published struct {
	topic string
	key   string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic, key})
	return nil
}

type fakeRecorder struct {
	committed, failed, initiated, paid int
	gatewayErrors                      []string
}

func (r *fakeRecorder) OrderCommitted()        { r.committed++ }
func (r *fakeRecorder) CommitFailed()          { r.failed++ }
func (r *fakeRecorder) CheckoutInitiated()     { r.initiated++ }
func (r *fakeRecorder) OrderPaid(int64)        { r.paid++ }
func (r *fakeRecorder) GatewayError(op string) { r.gatewayErrors = append(r.gatewayErrors, op) }

var testHalls = []string{"Paul", "Joseph", "Mary"}

type dialogueFixture struct {
	store   *dbtest.MemStore
	drafts  *session.MemoryStore
	events  *fakePublisher
	metrics *fakeRecorder
	d       *Dialogue
}

func newDialogueFixture() *dialogueFixture {
	f := &dialogueFixture{
		store:   dbtest.NewMemStore(),
		drafts:  session.NewMemoryStore(0),
		events:  &fakePublisher{},
		metrics: &fakeRecorder{},
	}
	f.d = NewDialogue(f.store, f.drafts, testHalls, f.events, f.metrics)
	return f
}
