package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/gateway"
	"github.com/nidhogg/nuka-mind/internal/guidance"
	"github.com/nidhogg/nuka-mind/internal/store"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

const ref = "3f2b8c1e-9d4a-4b7e-8f6a-1c2d3e4f5a6b"

type fakeResolver struct {
	got []guidance.Reply
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, rep guidance.Reply) (*guidance.Resolution, error) {
	f.got = append(f.got, rep)
	if f.err != nil {
		return nil, f.err
	}
	return &guidance.Resolution{Decision: rep.Decision}, nil
}

type replies struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (r *replies) SendMessage(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = map[string][]string{}
	}
	r.msgs[channelID] = append(r.msgs[channelID], text)
	return nil
}

type wakes struct{ n int }

func (w *wakes) Notify(context.Context, string) error { w.n++; return nil }

func TestParseReply(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want guidance.Reply
	}{
		{in: "approve " + ref, ok: true, want: guidance.Reply{Decision: "approve", MessageID: ref}},
		{in: "  Needs-Reflection " + ref + "  think about the cost ", ok: true,
			want: guidance.Reply{Decision: "needs-reflection", MessageID: ref, Comment: "think about the cost"}},
		{in: "HUMAN-REQUIRED " + ref + "\nI'll call them", ok: true,
			want: guidance.Reply{Decision: "human-required", MessageID: ref, Comment: "I'll call them"}},
		{in: "approve the plan"},
		{in: "please approve " + ref},
		{in: "approve 1234"},
	}
	for _, tt := range tests {
		got, ok := ParseReply(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestHandleIngestsTask(t *testing.T) {
	st := store.NewMemoryStore()
	w := &wakes{}
	in := New(st, &fakeResolver{}, &replies{}, w, zap.NewNop())

	in.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "123", UserID: "u9", UserName: "dana", Content: "what time is it?"})

	th, err := st.ClaimNextThought(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "what time is it?", th.Content)
	assert.Zero(t, th.Depth)

	task, err := st.GetTask(context.Background(), th.SourceTaskID)
	require.NoError(t, err)
	assert.Equal(t, thought.TaskPending, task.Status)
	assert.Equal(t, "discord:123", task.ChannelID())
	assert.Equal(t, "u9", task.Context[thought.ContextAuthorID])
	assert.Equal(t, "dana", task.Context["author_name"])
	assert.Equal(t, 1, w.n)
}

func TestHandleRoutesGuidanceReply(t *testing.T) {
	st := store.NewMemoryStore()
	res := &fakeResolver{}
	out := &replies{}
	in := New(st, res, out, nil, zap.NewNop())

	in.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "CWA", UserID: "U1", Content: "decline " + ref + " too risky"})

	require.Len(t, res.got, 1)
	assert.Equal(t, guidance.Reply{MessageID: ref, WAID: "slack:U1", Decision: "decline", Comment: "too risky"}, res.got[0])
	assert.Len(t, out.msgs["slack:CWA"], 1)

	_, err := st.ClaimNextThought(context.Background())
	assert.ErrorIs(t, err, thought.ErrNoClaimableThought, "a reply must not become a task")
}

func TestHandleReportsUnknownReference(t *testing.T) {
	out := &replies{}
	in := New(store.NewMemoryStore(), &fakeResolver{err: errors.Join(thought.ErrNotFound)}, out, nil, zap.NewNop())

	in.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "C", UserID: "U", Content: "approve " + ref})
	require.Len(t, out.msgs["slack:C"], 1)
	assert.Contains(t, out.msgs["slack:C"][0], "No deferral")
}

func TestIngestValidates(t *testing.T) {
	in := New(store.NewMemoryStore(), nil, nil, nil, zap.NewNop())
	_, _, err := in.Ingest(context.Background(), Request{Description: "   "})
	assert.Error(t, err)

	task, seed, err := in.Ingest(context.Background(), Request{Description: "summarize", Priority: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, seed.Priority)
	assert.Equal(t, task.ID, seed.SourceTaskID)
}
