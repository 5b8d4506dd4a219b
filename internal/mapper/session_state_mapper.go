package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"ai-research-be/internal/entity"
)

type SessionStateMapper struct{}

func NewSessionStateMapper() *SessionStateMapper {
	return &SessionStateMapper{}
}

// Encode renders the persisted session document.
func (m *SessionStateMapper) Encode(state *entity.SessionState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nil session state")
	}
	return json.Marshal(state)
}

// Decode parses and sanity-checks a stored document for topic.
func (m *SessionStateMapper) Decode(topic string, raw []byte) (*entity.SessionState, error) {
	var state entity.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	if strings.TrimSpace(state.Topic) != strings.TrimSpace(topic) {
		return nil, fmt.Errorf("session state topic %q does not match %q", state.Topic, topic)
	}
	if state.Iteration < 0 {
		return nil, fmt.Errorf("session state has negative iteration %d", state.Iteration)
	}
	for i, q := range state.Pending {
		if strings.TrimSpace(q.Text) == "" || q.Depth < 0 {
			return nil, fmt.Errorf("session state pending[%d] is invalid", i)
		}
	}
	state.EnsureMaps()
	return &state, nil
}
