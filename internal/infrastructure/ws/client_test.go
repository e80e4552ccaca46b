package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRetry struct {
	attempts int
	delay    time.Duration
}

func (r fixedRetry) Backoff(attempt int) (time.Duration, bool) {
	return r.delay, attempt < r.attempts
}

// serve upgrades one connection and hands the server side Client to fn.
func serve(t *testing.T, opts Options, fn func(*Client)) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(NewClient(conn, "socket-1", opts, logging.NewNop()))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	return peer
}

func readEnvelope(t *testing.T, peer *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, peer.ReadJSON(&env))
	return env
}

func TestClientEchoRoundTrip(t *testing.T) {
	peer := serve(t, Options{SendBuffer: 8}, func(c *Client) {
		go c.WritePump()
		go c.ReadPump(context.Background(), func(_ context.Context, env Envelope) {
			_ = c.Emit("echo:"+env.Event, env.Data)
		})
	})

	require.NoError(t, peer.WriteJSON(Envelope{Event: JoinRoom, Data: json.RawMessage(`{"roomId":"r1"}`)}))

	env := readEnvelope(t, peer)
	assert.Equal(t, "echo:joinRoom", env.Event)

	var req RoomRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "r1", req.RoomID)
}

func TestClientRejectsMalformedEnvelope(t *testing.T) {
	peer := serve(t, Options{SendBuffer: 8}, func(c *Client) {
		go c.WritePump()
		go c.ReadPump(context.Background(), func(context.Context, Envelope) {})
	})

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("{not json")))

	env := readEnvelope(t, peer)
	assert.Equal(t, ErrorEvent, env.Event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, InvalidEvent, payload.Type)

	require.NoError(t, peer.WriteJSON(map[string]any{"data": 1}))
	env = readEnvelope(t, peer)
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "event name is required", payload.Message)
}

func TestClientDisconnectsAfterStall(t *testing.T) {
	clients := make(chan *Client, 1)
	serve(t, Options{SendBuffer: 1, Retry: fixedRetry{attempts: 2, delay: 5 * time.Millisecond}}, func(c *Client) {
		clients <- c
	})

	var c *Client
	select {
	case c = <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("no server side client")
	}

	require.NoError(t, c.Emit(Message, json.RawMessage(`{}`)))
	assert.ErrorIs(t, c.Emit(Message, json.RawMessage(`{}`)), ErrSendBufferFull)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stalled client was not disconnected")
	}
	assert.ErrorIs(t, c.Emit(Message, json.RawMessage(`{}`)), ErrClientClosed)
}

func TestClientSurvivesShortStall(t *testing.T) {
	clients := make(chan *Client, 1)
	serve(t, Options{SendBuffer: 1, Retry: fixedRetry{attempts: 50, delay: 5 * time.Millisecond}}, func(c *Client) {
		clients <- c
	})
	c := <-clients

	require.NoError(t, c.Emit(Message, json.RawMessage(`{}`)))
	assert.ErrorIs(t, c.Emit(Message, json.RawMessage(`{}`)), ErrSendBufferFull)

	<-c.send

	select {
	case <-c.Done():
		t.Fatal("client disconnected although the buffer drained")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, c.Close())
}

func TestDecodeRoomID(t *testing.T) {
	id, err := DecodeRoomID(json.RawMessage(`"r1"`))
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	id, err = DecodeRoomID(json.RawMessage(`{"roomId":"r2"}`))
	require.NoError(t, err)
	assert.Equal(t, "r2", id)

	_, err = DecodeRoomID(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestDecodeMarkRead(t *testing.T) {
	req, err := DecodeMarkRead(json.RawMessage(`"m1"`))
	require.NoError(t, err)
	assert.Equal(t, MarkReadRequest{MessageID: "m1"}, req)

	req, err = DecodeMarkRead(json.RawMessage(`{"messageId":"m2","roomId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, MarkReadRequest{MessageID: "m2", RoomID: "r1"}, req)

	_, err = DecodeMarkRead(json.RawMessage(`7`))
	assert.Error(t, err)
}
