package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/throwlytics/backend/internal/models"
)

func testClient(owner uuid.UUID) *Client {
	return &Client{ID: uuid.New().String(), OwnerID: owner, send: make(chan WSMessage, 4)}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return WSMessage{}
	}
}

func TestHub_LocalDeliveryIsPerOwner(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b1 := testClient(alice), testClient(alice), testClient(bob)
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b1)
	assert.Equal(t, 2, hub.ConnectionCount(alice))

	throw := &models.Throw{ID: uuid.New(), OwnerID: alice, VideoURL: "videos/a/x.mp4"}
	require.NoError(t, hub.NotifyThrowCreated(context.Background(), throw))

	for _, c := range []*Client{a1, a2} {
		msg := receive(t, c)
		assert.Equal(t, EventThrowCreated, msg.Event)
		var got models.Throw
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, throw.ID, got.ID)
	}
	assert.Empty(t, b1.send)

	hub.Unregister(a1)
	hub.Unregister(a2)
	assert.Equal(t, 0, hub.ConnectionCount(alice))
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	owner := uuid.New()
	c := &Client{ID: "slow", OwnerID: owner, send: make(chan WSMessage)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		hub.BroadcastToOwner(owner, "x", map[string]int{"n": 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestHub_RedisFanOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newPubSub := func() *RedisPubSub {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisPubSub(client, nil)
	}
	ps1, ps2 := newPubSub(), newPubSub()
	hub1 := NewHub(nil, ps1, ps1)
	hub2 := NewHub(nil, ps2, ps2)
	t.Cleanup(hub1.Close)
	t.Cleanup(hub2.Close)

	owner := uuid.New()
	local, remote := testClient(owner), testClient(owner)
	hub1.Register(local)
	hub2.Register(remote)

	throw := &models.Throw{ID: uuid.New(), OwnerID: owner}
	require.NoError(t, hub1.NotifyThrowCreated(context.Background(), throw))

	for _, c := range []*Client{local, remote} {
		msg := receive(t, c)
		assert.Equal(t, EventThrowCreated, msg.Event)
	}
	select {
	case extra := <-local.send:
		t.Fatalf("duplicate delivery: %s", extra.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServeWs_DeliversThrowCreated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(zap.NewNop(), nil, nil)
	owner := uuid.New()
	validate := func(token string) (uuid.UUID, error) {
		if token != "good" {
			return uuid.Nil, errors.New("bad token")
		}
		return owner, nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, zap.NewNop(), validate))
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount(owner) == 1 }, 2*time.Second, 10*time.Millisecond)

	throw := &models.Throw{ID: uuid.New(), OwnerID: owner}
	require.NoError(t, hub.NotifyThrowCreated(context.Background(), throw))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventThrowCreated, msg.Event)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ConnectionCount(owner) == 0 }, 2*time.Second, 10*time.Millisecond)
}
