package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitChannel(t *testing.T) {
	p, c, err := SplitChannel("slack:C1:thread")
	require.NoError(t, err)
	assert.Equal(t, "slack", p)
	assert.Equal(t, "C1:thread", c)

	for _, bad := range []string{"", "slack", ":C1", "slack:"} {
		_, _, err := SplitChannel(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "discord:42", JoinChannel("discord", "42"))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"abc"}, chunk("abc", 5))
	assert.Equal(t, []string{"ab", "cd", "e"}, chunk("abcde", 2))
}

func TestGatewaySendMessageRoutesToAdapter(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(zap.NewNop())
	gw.Register(rest)
	rest.mailbox("abc", true)

	require.NoError(t, gw.SendMessage(context.Background(), "rest:abc", "hello"))
	msgs := drain(rest.mailbox("abc", false))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].SentAt.IsZero())

	assert.Error(t, gw.SendMessage(context.Background(), "irc:abc", "x"))
	assert.Error(t, gw.SendMessage(context.Background(), "nocolon", "x"))
	assert.Error(t, gw.SendMessage(context.Background(), "rest:unknown", "x"))

	assert.Equal(t, []string{"rest"}, gw.Adapters())
	require.Len(t, gw.Statuses(), 1)
	assert.True(t, gw.Statuses()[0].Connected)
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(zap.NewNop())
	gw.Register(rest)

	var (
		mu  sync.Mutex
		got []*InboundMessage
	)
	gw.SetHandler(func(m *InboundMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		gw.SendMessage(context.Background(), m.Address(), "echo: "+m.Content)
	})

	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json",
		strings.NewReader(`{"channel_id":"room1","user_id":"u1","content":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, "rest:room1", accepted["address"])

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	mu.Unlock()

	poll, err := http.Get(srv.URL + "/channels/room1/messages?wait=1s")
	require.NoError(t, err)
	defer poll.Body.Close()
	var msgs []OutboundMessage
	require.NoError(t, json.NewDecoder(poll.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "echo: ping", msgs[0].Content)
}

func TestRESTAdapterRejectsBadRequests(t *testing.T) {
	rest := NewRESTAdapter(zap.NewNop())
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"content":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/channels/nope/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
