package chat

import (
	"fmt"

	"github.com/mentora-app/mentora-go/internal/quota"
	"github.com/mentora-app/mentora-go/internal/rag"
	"github.com/mentora-app/mentora-go/internal/store"
)

// Turn is one prior or current message in the submitted thread.
type Turn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// Request is the validated boundary type for one chat submission. Inbound
// payloads are decoded into it and must pass Validate before the pipeline
// touches any component.
type Request struct {
	// ConversationID is the thread to append this exchange to.
	ConversationID string `json:"conversationId"`
	// UserID is the authenticated owner, established by the session
	// collaborator upstream of this service.
	UserID string `json:"userId"`
	// Tier is the user's subscription tier.
	Tier quota.Tier `json:"tier"`
	// Messages is the ordered thread; the latest turn must be the user's.
	Messages []Turn `json:"messages"`
}

// Validate checks the request shape. It returns an error wrapping
// [ErrValidation] on the first problem found; the detail text is safe to
// return to the caller.
func (r *Request) Validate() error {
	if r.ConversationID == "" {
		return fmt.Errorf("%w: conversationId is required", ErrValidation)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrValidation)
	}
	for i, m := range r.Messages {
		if m.Role != string(store.RoleUser) && m.Role != string(store.RoleAssistant) {
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrValidation, i, m.Role)
		}
	}
	latest := r.Messages[len(r.Messages)-1]
	if latest.Role != string(store.RoleUser) {
		return fmt.Errorf("%w: latest message must be from the user", ErrValidation)
	}
	if latest.Content == "" {
		return fmt.Errorf("%w: latest message must not be empty", ErrValidation)
	}
	return nil
}

// Question returns the latest user turn's content. Only valid after
// Validate has succeeded.
func (r *Request) Question() string {
	return r.Messages[len(r.Messages)-1].Content
}

// State names a stage of the response pipeline. Used for diagnostics and
// metric labels; the pipeline advances strictly forward through these.
type State string

const (
	StateReceived     State = "received"
	StateQuotaChecked State = "quota_checked"
	StateRetrieved    State = "retrieved"
	StateGenerating   State = "generating"
	StatePersisting   State = "persisting"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// Result describes the terminal outcome of one submission.
type Result struct {
	// State is the stage the pipeline ended in: StateComplete on success,
	// StateFailed otherwise.
	State State
	// Quota is the ledger decision taken for this request.
	Quota quota.Decision
	// Reply is the full concatenated assistant response. Empty when the
	// pipeline failed before generation produced anything.
	Reply string
	// Passages lists the retrieved passages that grounded the reply.
	Passages []rag.PassageRef
	// Streamed reports whether any fragment reached the caller. When true,
	// a failure must end the stream early rather than send an error body.
	Streamed bool
}
