package agentqueue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/cloudagent"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeCloud scripts the remote agent service.
type fakeCloud struct {
	mu         sync.Mutex
	configured bool
	launchErr  error
	statusErr  error
	agentID    string
	status     string
	data       json.RawMessage
	launches   []cloudagent.LaunchRequest
	checks     int
}

func (f *fakeCloud) Configured() bool { return f.configured }

func (f *fakeCloud) Launch(_ context.Context, req cloudagent.LaunchRequest) (*cloudagent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return &cloudagent.Agent{ID: f.agentID, Status: f.status, Data: f.data}, nil
}

func (f *fakeCloud) GetStatus(_ context.Context, agentID string) (*cloudagent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &cloudagent.Agent{ID: agentID, Status: f.status, Data: f.data}, nil
}

func (f *fakeCloud) set(status string, data string) {
	f.mu.Lock()
	f.status = status
	f.data = json.RawMessage(data)
	f.mu.Unlock()
}

type countingKicker struct {
	mu    sync.Mutex
	kicks int
}

func (k *countingKicker) Kick() {
	k.mu.Lock()
	k.kicks++
	k.mu.Unlock()
}

func (k *countingKicker) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kicks
}

func remoteErr() error {
	return schema.NewError(schema.ErrCodeRemote, "POST /v0/agents rejected").
		WithCause(&cloudagent.APIError{StatusCode: 503, Message: "unavailable"})
}
