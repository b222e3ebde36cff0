// Package chat implements the response pipeline that turns one user
// message into a streamed, corpus-grounded assistant reply. One request
// moves through quota check, passage retrieval, context assembly, streamed
// generation, transcript persistence, and usage accounting; the package
// owns the ordering and failure contract between those steps.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mentora-app/mentora-go/internal/logging"
	"github.com/mentora-app/mentora-go/internal/quota"
	"github.com/mentora-app/mentora-go/internal/rag"
	"github.com/mentora-app/mentora-go/internal/store"
)

// Config holds the collaborators required to construct a Pipeline.
type Config struct {
	// Model is the streaming chat model from the provider factory.
	Model model.BaseChatModel

	// Retriever fetches relevant passages for the user's question.
	// May be nil; the pipeline then always generates with the empty-context
	// sentinel.
	Retriever rag.Retriever

	// Store persists conversation turns.
	Store store.ConversationStore

	// Ledger enforces and records the daily message quota.
	Ledger quota.Ledger

	// TopK is the number of passages retrieved per question. Defaults to 6.
	TopK int

	// MaxContextTokens bounds the assembled passage context. Defaults to
	// the budget package default if zero.
	MaxContextTokens int
}

// Pipeline sequences one chat submission through the full request
// lifecycle. It is safe for concurrent use; each call to Respond is
// independent and the only shared mutable state is the quota ledger row,
// protected by its atomic increment.
type Pipeline struct {
	model            model.BaseChatModel
	retriever        rag.Retriever
	store            store.ConversationStore
	ledger           quota.Ledger
	topK             int
	maxContextTokens int
}

// New constructs a Pipeline from the provided Config.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("chat: Model must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("chat: Store must not be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("chat: Ledger must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 6
	}
	return &Pipeline{
		model:            cfg.Model,
		retriever:        cfg.Retriever,
		store:            cfg.Store,
		ledger:           cfg.Ledger,
		topK:             topK,
		maxContextTokens: cfg.MaxContextTokens,
	}, nil
}

// Respond runs one submission through the pipeline, writing each generated
// fragment to w as it arrives. The returned Result reports the terminal
// state; on error it still carries whatever the pipeline knew (quota
// decision, whether fragments already reached the caller).
//
// Failure contract: validation and quota rejections happen before any side
// effect. A generation failure before the first fragment leaves no partial
// data. After streaming starts, a failure ends the stream early — delivered
// fragments are never retracted. Persistence of the assistant turn is
// best-effort and never fails the delivered response. The quota increment
// happens exactly once, only on confirmed completion.
func (p *Pipeline) Respond(ctx context.Context, req *Request, w io.Writer) (*Result, error) {
	log := logging.FromContext(ctx).With(
		slog.String("user_id", req.UserID),
		slog.String("conversation_id", req.ConversationID),
	)
	res := &Result{State: StateReceived}

	if err := req.Validate(); err != nil {
		res.State = StateFailed
		log.Warn("chat: rejected request", slog.String("stage", string(StateReceived)), slog.Any("error", err))
		return res, err
	}

	decision, err := p.ledger.CheckAndReserve(ctx, req.UserID, req.Tier)
	if err != nil {
		res.State = StateFailed
		log.Error("chat: quota check failed", slog.String("stage", string(StateQuotaChecked)), slog.Any("error", err))
		return res, fmt.Errorf("chat: quota check: %w", err)
	}
	res.Quota = decision
	if !decision.Allowed {
		res.State = StateFailed
		log.Info("chat: quota exceeded",
			slog.String("tier", string(req.Tier)),
			slog.Int("limit", decision.Limit),
		)
		return res, ErrQuotaExceeded
	}

	question := req.Question()
	passages := p.retrieve(ctx, question, log)
	for _, passage := range passages {
		res.Passages = append(res.Passages, rag.PassageRef{ID: passage.ID, Score: passage.Score})
	}
	contextBlock := rag.BuildContext(passages, p.maxContextTokens)

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildUserPrompt(question, contextBlock)),
	}

	sr, err := p.model.Stream(ctx, messages)
	if err != nil {
		res.State = StateFailed
		log.Error("chat: generation failed to start", slog.String("stage", string(StateGenerating)), slog.Any("error", err))
		return res, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer sr.Close()

	// The user's turn is recorded as soon as generation is underway. This
	// can leave a user message with no assistant reply if the stream later
	// fails — the transcript then shows what was asked, which is the
	// behaviour we want. Persistence failure here never blocks the stream.
	p.persist(ctx, log, &store.Message{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Role:           store.RoleUser,
		Content:        question,
		Passages:       res.Passages,
	})

	var reply strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.State = StateFailed
			res.Reply = reply.String()
			log.Error("chat: stream interrupted",
				slog.String("stage", string(StateGenerating)),
				slog.Bool("streamed", res.Streamed),
				slog.Any("error", err),
			)
			return res, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if _, err := io.WriteString(w, msg.Content); err != nil {
			// The caller went away. Stop relaying; the upstream call is
			// abandoned via defer Close. No quota is charged.
			res.State = StateFailed
			res.Reply = reply.String()
			log.Info("chat: caller disconnected mid-stream", slog.Any("error", err))
			return res, fmt.Errorf("%w: write to caller: %w", ErrGeneration, err)
		}
		res.Streamed = true
		reply.WriteString(msg.Content)
	}

	res.State = StatePersisting
	res.Reply = reply.String()
	if res.Reply != "" {
		p.persist(ctx, log, &store.Message{
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Role:           store.RoleAssistant,
			Content:        res.Reply,
		})
	}

	// Confirmed completion: charge the quota exactly once, regardless of
	// how long the reply was. The ledger's upsert-increment is atomic, so
	// concurrent completions for the same user all count.
	if err := p.ledger.Increment(ctx, req.UserID); err != nil {
		// The reply has been delivered; surfacing an error now would be a
		// lie. Log loudly and move on.
		log.Error("chat: usage increment failed", slog.Any("error", err))
	}

	res.State = StateComplete
	return res, nil
}

// retrieve fetches passages for the question, degrading to an empty set on
// any retrieval failure. An unreachable embedder or index must not take
// chat down with it: the model is told, via the empty-context sentinel,
// that nothing was found.
func (p *Pipeline) retrieve(ctx context.Context, question string, log *slog.Logger) []rag.Passage {
	if p.retriever == nil {
		return nil
	}
	passages, err := p.retriever.Retrieve(ctx, question, p.topK)
	if err != nil {
		log.Warn("chat: retrieval unavailable, continuing without context",
			slog.String("stage", string(StateRetrieved)),
			slog.Any("error", err),
		)
		return nil
	}
	return passages
}

// persist appends one message, logging instead of failing: transcript
// writes are never allowed to break an in-flight or delivered response.
func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, m *store.Message) {
	if err := p.store.AppendMessage(ctx, m); err != nil {
		log.Error("chat: failed to persist message",
			slog.String("role", string(m.Role)),
			slog.Any("error", err),
		)
	}
}
