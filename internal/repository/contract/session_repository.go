package contract

import (
	"context"

	"ai-research-be/internal/entity"
)

type SessionRepository interface {
	// Load returns nil, nil when no state exists for topic and an error
	// wrapping ErrStateCorrupt when the stored document does not decode.
	Load(ctx context.Context, topic string) (*entity.SessionState, error)
	// Save replaces the stored state for state.Topic in one write.
	Save(ctx context.Context, state *entity.SessionState) error
	ListTopics(ctx context.Context) ([]string, error)
}
