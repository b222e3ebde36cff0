package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mentora-app/mentora-go/internal/quota"
	"github.com/mentora-app/mentora-go/internal/rag"
	"github.com/mentora-app/mentora-go/internal/store"
)

// fakeChatModel streams a fixed sequence of fragments. startErr fails the
// Stream call itself; midErr ends the stream after the fragments.
type fakeChatModel struct {
	fragments []string
	startErr  error
	midErr    error

	gotMessages []*schema.Message
}

func (m *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (m *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.gotMessages = in
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.midErr == nil {
		msgs := make([]*schema.Message, len(m.fragments))
		for i, f := range m.fragments {
			msgs[i] = schema.AssistantMessage(f, nil)
		}
		return schema.StreamReaderFromArray(msgs), nil
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.fragments) + 1)
	go func() {
		defer sw.Close()
		for _, f := range m.fragments {
			sw.Send(schema.AssistantMessage(f, nil), nil)
		}
		sw.Send(nil, m.midErr)
	}()
	return sr, nil
}

type fakeRetriever struct {
	passages []rag.Passage
	err      error

	lastQuery string
	lastTopK  int
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]rag.Passage, error) {
	r.lastQuery = query
	r.lastTopK = topK
	if r.err != nil {
		return nil, r.err
	}
	return r.passages, nil
}

type fakeLedger struct {
	decision quota.Decision
	checkErr error
	incErr   error

	checks     int
	increments int
}

func (l *fakeLedger) CheckAndReserve(ctx context.Context, userID string, tier quota.Tier) (quota.Decision, error) {
	l.checks++
	if l.checkErr != nil {
		return quota.Decision{}, l.checkErr
	}
	return l.decision, nil
}

func (l *fakeLedger) Increment(ctx context.Context, userID string) error {
	l.increments++
	return l.incErr
}

// fakeConvStore records appended messages; only AppendMessage matters to
// the pipeline.
type fakeConvStore struct {
	appended  []store.Message
	appendErr error
}

func (s *fakeConvStore) CreateConversation(ctx context.Context, userID, title string) (*store.Conversation, error) {
	return nil, errors.New("not used")
}
func (s *fakeConvStore) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	return nil, errors.New("not used")
}
func (s *fakeConvStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return nil, errors.New("not used")
}
func (s *fakeConvStore) RenameConversation(ctx context.Context, id, title string) error {
	return errors.New("not used")
}
func (s *fakeConvStore) DeleteConversation(ctx context.Context, id string) error {
	return errors.New("not used")
}
func (s *fakeConvStore) AppendMessage(ctx context.Context, m *store.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, *m)
	return nil
}
func (s *fakeConvStore) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	return nil, errors.New("not used")
}
func (s *fakeConvStore) Close() error { return nil }

func allowAll() *fakeLedger {
	return &fakeLedger{decision: quota.Decision{Allowed: true, Remaining: 5, Limit: 5}}
}

func validRequest() *Request {
	return &Request{
		ConversationID: "conv-1",
		UserID:         "user-1",
		Tier:           quota.TierFree,
		Messages: []Turn{
			{Role: "user", Content: "What is karma yoga?"},
		},
	}
}

func TestRespondHappyPath(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"Act without ", "attachment ", "to results."}}
	r := &fakeRetriever{passages: []rag.Passage{
		{ID: "p1", Chapter: 2, Verse: 47, Translation: "You have a right to work only.", Score: 0.92},
		{ID: "p2", Chapter: 3, Verse: 19, Translation: "Therefore, perform your duty.", Score: 0.85},
	}}
	ledger := allowAll()
	st := &fakeConvStore{}

	p, err := New(&Config{Model: m, Retriever: r, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if got, want := out.String(), "Act without attachment to results."; got != want {
		t.Errorf("streamed output = %q, want %q", got, want)
	}
	if res.State != StateComplete {
		t.Errorf("State = %q, want %q", res.State, StateComplete)
	}
	if res.Reply != out.String() {
		t.Errorf("Reply = %q, want the streamed text", res.Reply)
	}
	if !res.Streamed {
		t.Error("Streamed should be true")
	}
	if len(res.Passages) != 2 || res.Passages[0].ID != "p1" {
		t.Errorf("Passages = %+v", res.Passages)
	}

	if r.lastQuery != "What is karma yoga?" {
		t.Errorf("retriever query = %q", r.lastQuery)
	}
	if r.lastTopK != 6 {
		t.Errorf("retriever topK = %d, want default 6", r.lastTopK)
	}

	if ledger.checks != 1 || ledger.increments != 1 {
		t.Errorf("ledger checks = %d, increments = %d, want 1, 1", ledger.checks, ledger.increments)
	}

	if len(st.appended) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(st.appended))
	}
	user, assistant := st.appended[0], st.appended[1]
	if user.Role != store.RoleUser || user.Content != "What is karma yoga?" {
		t.Errorf("user turn = %+v", user)
	}
	if len(user.Passages) != 2 {
		t.Errorf("user turn Passages = %+v, want both refs", user.Passages)
	}
	if assistant.Role != store.RoleAssistant || assistant.Content != res.Reply {
		t.Errorf("assistant turn = %+v", assistant)
	}

	// The prompt fed to the model carries the retrieved passage text.
	if len(m.gotMessages) != 2 {
		t.Fatalf("model got %d messages, want system + user", len(m.gotMessages))
	}
	if !strings.Contains(m.gotMessages[1].Content, "Bhagavad-gītā 2.47:") {
		t.Errorf("user prompt missing passage context:\n%s", m.gotMessages[1].Content)
	}
}

func TestRespondQuotaExceeded(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"never sent"}}
	ledger := &fakeLedger{decision: quota.Decision{Allowed: false, Remaining: 0, Limit: 5}}
	st := &fakeConvStore{}

	p, err := New(&Config{Model: m, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Respond() error = %v, want ErrQuotaExceeded", err)
	}

	if out.Len() != 0 {
		t.Errorf("output = %q, want nothing written", out.String())
	}
	if res.State != StateFailed {
		t.Errorf("State = %q, want %q", res.State, StateFailed)
	}
	if res.Quota.Limit != 5 || res.Quota.Remaining != 0 {
		t.Errorf("Quota = %+v", res.Quota)
	}
	if ledger.increments != 0 {
		t.Errorf("increments = %d, want 0 on rejection", ledger.increments)
	}
	if len(st.appended) != 0 {
		t.Errorf("persisted %d messages, want 0 on rejection", len(st.appended))
	}
	if m.gotMessages != nil {
		t.Error("model should not be called on quota rejection")
	}
}

func TestRespondRetrievalDegraded(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"A general answer."}}
	r := &fakeRetriever{err: errors.New("qdrant unreachable")}
	ledger := allowAll()
	st := &fakeConvStore{}

	p, err := New(&Config{Model: m, Retriever: r, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if err != nil {
		t.Fatalf("Respond() error = %v, retrieval failure must not fail the request", err)
	}

	if res.State != StateComplete {
		t.Errorf("State = %q, want %q", res.State, StateComplete)
	}
	if len(res.Passages) != 0 {
		t.Errorf("Passages = %+v, want none", res.Passages)
	}
	if out.String() != "A general answer." {
		t.Errorf("output = %q", out.String())
	}
	// The model is told nothing was found rather than given a broken context.
	if !strings.Contains(m.gotMessages[1].Content, rag.EmptyContext) {
		t.Errorf("user prompt missing empty-context sentinel:\n%s", m.gotMessages[1].Content)
	}
	if ledger.increments != 1 {
		t.Errorf("increments = %d, want 1", ledger.increments)
	}
}

func TestRespondNilRetriever(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"ok"}}
	p, err := New(&Config{Model: m, Store: &fakeConvStore{}, Ledger: allowAll()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	if _, err := p.Respond(context.Background(), validRequest(), &out); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(m.gotMessages[1].Content, rag.EmptyContext) {
		t.Error("nil retriever should produce the empty-context sentinel")
	}
}

func TestRespondValidationRejected(t *testing.T) {
	t.Parallel()

	ledger := allowAll()
	p, err := New(&Config{Model: &fakeChatModel{}, Store: &fakeConvStore{}, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := validRequest()
	req.UserID = ""

	var out strings.Builder
	res, err := p.Respond(context.Background(), req, &out)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Respond() error = %v, want ErrValidation", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %q, want %q", res.State, StateFailed)
	}
	if ledger.checks != 0 {
		t.Errorf("ledger consulted %d times before validation, want 0", ledger.checks)
	}
}

func TestRespondGenerationFailsToStart(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{startErr: errors.New("model offline")}
	ledger := allowAll()
	st := &fakeConvStore{}

	p, err := New(&Config{Model: m, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("Respond() error = %v, want ErrGeneration", err)
	}
	if res.Streamed {
		t.Error("Streamed should be false when generation never started")
	}
	if len(st.appended) != 0 {
		t.Errorf("persisted %d messages, want 0 when nothing was generated", len(st.appended))
	}
	if ledger.increments != 0 {
		t.Errorf("increments = %d, want 0", ledger.increments)
	}
}

func TestRespondStreamInterrupted(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"partial "}, midErr: errors.New("upstream reset")}
	ledger := allowAll()
	st := &fakeConvStore{}

	p, err := New(&Config{Model: m, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("Respond() error = %v, want ErrGeneration", err)
	}

	// Delivered fragments stand; the stream just ends early.
	if out.String() != "partial " {
		t.Errorf("output = %q, want the delivered fragment", out.String())
	}
	if !res.Streamed {
		t.Error("Streamed should be true after the first fragment")
	}
	if res.Reply != "partial " {
		t.Errorf("Reply = %q", res.Reply)
	}

	// The user's turn is on record; no assistant turn, no quota charge.
	if len(st.appended) != 1 || st.appended[0].Role != store.RoleUser {
		t.Errorf("persisted = %+v, want only the user turn", st.appended)
	}
	if ledger.increments != 0 {
		t.Errorf("increments = %d, want 0 on interrupted stream", ledger.increments)
	}
}

func TestRespondPersistFailureDoesNotFailResponse(t *testing.T) {
	t.Parallel()

	m := &fakeChatModel{fragments: []string{"the reply"}}
	ledger := allowAll()
	st := &fakeConvStore{appendErr: errors.New("disk full")}

	p, err := New(&Config{Model: m, Store: st, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if err != nil {
		t.Fatalf("Respond() error = %v, persistence must be best-effort", err)
	}
	if res.State != StateComplete {
		t.Errorf("State = %q, want %q", res.State, StateComplete)
	}
	if out.String() != "the reply" {
		t.Errorf("output = %q", out.String())
	}
	if ledger.increments != 1 {
		t.Errorf("increments = %d, want 1: delivery happened", ledger.increments)
	}
}

func TestRespondQuotaCheckError(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{checkErr: errors.New("database locked")}
	p, err := New(&Config{Model: &fakeChatModel{}, Store: &fakeConvStore{}, Ledger: ledger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var out strings.Builder
	res, err := p.Respond(context.Background(), validRequest(), &out)
	if err == nil || errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Respond() error = %v, want a plain failure, not a quota rejection", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %q, want %q", res.State, StateFailed)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{Model: &fakeChatModel{}, Store: &fakeConvStore{}, Ledger: allowAll()}
	}

	if _, err := New(base()); err != nil {
		t.Errorf("New() with full config error = %v", err)
	}

	cfg := base()
	cfg.Model = nil
	if _, err := New(cfg); err == nil {
		t.Error("New() without Model should fail")
	}

	cfg = base()
	cfg.Store = nil
	if _, err := New(cfg); err == nil {
		t.Error("New() without Store should fail")
	}

	cfg = base()
	cfg.Ledger = nil
	if _, err := New(cfg); err == nil {
		t.Error("New() without Ledger should fail")
	}
}
