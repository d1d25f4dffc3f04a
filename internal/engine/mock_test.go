package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/civicforge/deliberate/internal/llm"
	"github.com/civicforge/deliberate/internal/notify"
)

// MockGateway is a testify mock of llm.Gateway. For CompleteJSON, set the
// first return value to the JSON payload the model would produce; it is
// unmarshaled into the caller's out argument.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Complete(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CompleteJSON(ctx context.Context, req llm.Request, out any) error {
	args := m.Called(ctx, req, out)
	if err := args.Error(1); err != nil {
		return err
	}
	if payload := args.String(0); payload != "" {
		if err := json.Unmarshal([]byte(llm.CleanJSON(payload)), out); err != nil {
			return err
		}
	}
	return nil
}

// phaseIs matches a gateway request by its phase label.
func phaseIs(phase string) any {
	return mock.MatchedBy(func(req llm.Request) bool { return req.Phase == phase })
}

// recordingNotifier captures published events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Publish(event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) byTopic(topic string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
