package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/voxel-tower/internal/eventbus"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/annel0/voxel-tower/internal/vec"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSaver struct {
	calls atomic.Int32
}

func (c *countingSaver) Schedule() { c.calls.Add(1) }

type testEnv struct {
	server  *TowerServer
	handler *TowerHandler
	saver   *countingSaver
	http    *httptest.Server
	url     string
}

func newTestEnv(t *testing.T, tw *tower.Tower, opts HandlerOptions) *testEnv {
	t.Helper()

	srv := NewTowerServer(ServerConfig{})
	saver := &countingSaver{}
	h := NewTowerHandler(tw, srv, saver, opts)
	srv.SetHandler(h)

	hs := httptest.NewServer(http.HandlerFunc(srv.HandleConnection))
	t.Cleanup(func() {
		srv.Stop()
		hs.Close()
	})

	return &testEnv{
		server:  srv,
		handler: h,
		saver:   saver,
		http:    hs,
		url:     "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
}

func defaultTestTower() *tower.Tower {
	return tower.New(tower.Config{DefaultHeight: 10, Dimension: 5, MaximumLevels: 10})
}

// dial подключается и возвращает соединение вместе со снимком onstart
func (e *testEnv) dial(t *testing.T) (*websocket.Conn, *tower.Snapshot) {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn, time.Second)
	require.Equal(t, MsgTypeOnStart, msg.Type)

	var snap tower.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	return conn, &snap
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) *Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return &msg
}

// expectSilence проверяет, что за timeout не пришло ни одного сообщения.
// После таймаута чтения соединение gorilla/websocket непригодно.
func expectSilence(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "неожиданное сообщение: %s", data)
}

// drain читает сообщения, пока за timeout не наступит тишина
func drain(t *testing.T, conn *websocket.Conn, timeout time.Duration) []*Message {
	t.Helper()

	var msgs []*Message
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return msgs
		}
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		msgs = append(msgs, &msg)
	}
}

func sendBlock(t *testing.T, conn *websocket.Conn, x, y, z int) {
	t.Helper()
	msg, err := NewMessage(MsgTypeNewBlock, vec.Vec3{X: x, Y: y, Z: z})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestConnect_ReceivesSnapshot(t *testing.T) {
	tw := defaultTestTower()
	env := newTestEnv(t, tw, HandlerOptions{})

	_, snap := env.dial(t)

	assert.Equal(t, tw.Export(), snap)
	require.Eventually(t, func() bool { return env.server.GetConnectedClients() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnect_RefusedWithoutTower(t *testing.T) {
	env := newTestEnv(t, nil, HandlerOptions{})

	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "ожидался close-фрейм, получено %v", err)
	assert.Equal(t, 0, env.server.GetConnectedClients())
}

func TestPlacement_BroadcastToOthersOnly(t *testing.T) {
	bus := eventbus.NewMemoryBus(8)
	defer bus.Close()
	var events atomic.Int32
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{eventbus.EventBlockPlaced}},
		func(_ context.Context, ev *eventbus.Envelope) { events.Add(1) })
	require.NoError(t, err)

	tw := defaultTestTower()
	env := newTestEnv(t, tw, HandlerOptions{Bus: bus, ServerID: "test"})

	author, _ := env.dial(t)
	other, _ := env.dial(t)

	// литеральная нагрузка пересылается как есть
	raw := `{"type":"newblock","timestamp":1,"data":{"x":0,"y":11,"z":0}}`
	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(raw)))

	msg := readMessage(t, other, time.Second)
	assert.Equal(t, MsgTypeNewBlock, msg.Type)
	assert.JSONEq(t, `{"x":0,"y":11,"z":0}`, string(msg.Data))

	expectSilence(t, author, 200*time.Millisecond)

	assert.True(t, tw.Filled(0, 11, 0))
	assert.Equal(t, 11, tw.MaxHeight())
	assert.EqualValues(t, 1, env.saver.calls.Load())
	assert.EqualValues(t, 1, env.handler.Stats().Accepted)
	require.Eventually(t, func() bool { return events.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPlacement_RejectedIsSilent(t *testing.T) {
	tw := defaultTestTower()
	env := newTestEnv(t, tw, HandlerOptions{})
	before := tw.Export()

	author, _ := env.dial(t)
	other, _ := env.dial(t)

	sendBlock(t, author, 3, 5, 0)  // вне плоскости
	sendBlock(t, author, 0, 13, 0) // висящий блок

	require.Eventually(t, func() bool { return env.handler.Stats().Rejected == 2 }, time.Second, 5*time.Millisecond)
	expectSilence(t, other, 150*time.Millisecond)
	expectSilence(t, author, 50*time.Millisecond)

	assert.Equal(t, before, tw.Export())
	assert.EqualValues(t, 0, env.saver.calls.Load())
}

func TestPlacement_RejectionNotice(t *testing.T) {
	env := newTestEnv(t, defaultTestTower(), HandlerOptions{NotifyRejections: true})

	author, _ := env.dial(t)
	other, _ := env.dial(t)

	sendBlock(t, author, 0, 5, -3)

	msg := readMessage(t, author, time.Second)
	assert.Equal(t, MsgTypeBlockRejected, msg.Type)
	assert.JSONEq(t, `{"x":0,"y":5,"z":-3}`, string(msg.Data))
	expectSilence(t, other, 150*time.Millisecond)
}

func TestPlacement_MalformedKeepsConnection(t *testing.T) {
	tw := defaultTestTower()
	env := newTestEnv(t, tw, HandlerOptions{})

	author, _ := env.dial(t)
	other, _ := env.dial(t)

	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(`{"type":"newblock","data":{"x":1,"y":11}}`)))
	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(`{"type":"newblock","data":{"x":1.5,"y":11,"z":0}}`)))
	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","data":{}}`)))
	sendBlock(t, author, 1, 11, 1)

	msg := readMessage(t, other, time.Second)
	assert.JSONEq(t, `{"x":1,"y":11,"z":1}`, string(msg.Data))
	assert.EqualValues(t, 2, env.handler.Stats().Malformed)
	assert.Equal(t, 2, env.server.GetConnectedClients())
}

func TestLateJoinerSeesEarlierPlacements(t *testing.T) {
	tw := tower.New(tower.Config{DefaultHeight: 0, Dimension: 5, MaximumLevels: 10})
	env := newTestEnv(t, tw, HandlerOptions{})

	early, _ := env.dial(t)
	placed := []vec.Vec3{{X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 1}, {X: -2, Y: 2, Z: 2}, {X: 2, Y: 3, Z: -2}, {X: 0, Y: 4, Z: 0}}
	for _, p := range placed {
		sendBlock(t, early, p.X, p.Y, p.Z)
	}
	require.Eventually(t, func() bool { return env.handler.Stats().Accepted == 5 }, time.Second, 5*time.Millisecond)

	_, snap := env.dial(t)
	for _, p := range placed {
		assert.True(t, snap.Levels.Filled(p.X, p.Y, p.Z), "блок %s должен быть в снимке", p)
	}
	assert.Equal(t, 4, snap.MaxHeight)
}

func TestJoinDuringPlacements_NoDuplicates(t *testing.T) {
	const blocks = 200
	tw := tower.New(tower.Config{DefaultHeight: 0, Dimension: 3, MaximumLevels: 1000})
	env := newTestEnv(t, tw, HandlerOptions{})

	author, _ := env.dial(t)
	go func() {
		for y := 1; y <= blocks; y++ {
			msg, err := NewMessage(MsgTypeNewBlock, vec.Vec3{X: 0, Y: y, Z: 0})
			if err != nil || author.WriteJSON(msg) != nil {
				return
			}
		}
	}()

	type joiner struct {
		conn *websocket.Conn
		snap *tower.Snapshot
	}
	var joiners []joiner
	for i := 0; i < 6; i++ {
		conn, snap := env.dial(t)
		joiners = append(joiners, joiner{conn: conn, snap: snap})
	}
	require.Eventually(t, func() bool { return env.handler.Stats().Accepted == blocks }, 5*time.Second, 5*time.Millisecond)

	for i, j := range joiners {
		msgs := drain(t, j.conn, 200*time.Millisecond)
		for _, msg := range msgs {
			require.Equal(t, MsgTypeNewBlock, msg.Type)
			pos, err := DecodeBlock(msg.Data)
			require.NoError(t, err)
			assert.False(t, j.snap.Levels.Filled(pos.X, pos.Y, pos.Z), "клиент %d: блок %s уже был в снимке", i, pos)
			assert.Greater(t, pos.Y, j.snap.MaxHeight, "клиент %d", i)
		}
		assert.Equal(t, blocks, j.snap.MaxHeight+len(msgs), "клиент %d: снимок и рассылки без пропусков", i)
	}
}

// blockingHandler задерживает обработку сообщения до release
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingHandler) OnClientConnect(_ *Client, join func() error) error { return join() }
func (b *blockingHandler) OnClientDisconnect(*Client) {}
func (b *blockingHandler) HandleMessage(*Client, *Message) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestStop_WaitsForInFlightMessages(t *testing.T) {
	srv := NewTowerServer(ServerConfig{})
	h := &blockingHandler{entered: make(chan struct{}, 1), release: make(chan struct{})}
	srv.SetHandler(h)
	hs := httptest.NewServer(http.HandlerFunc(srv.HandleConnection))
	defer hs.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.GetConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	sendBlock(t, conn, 0, 1, 0)
	select {
	case <-h.entered:
	case <-time.After(time.Second):
		t.Fatal("сообщение не дошло до обработчика")
	}

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop вернулся до завершения обработчика")
	case <-time.After(100 * time.Millisecond):
	}

	close(h.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop не вернулся после завершения обработчика")
	}
	assert.Equal(t, 0, srv.GetConnectedClients())
}

func TestClientsConverge(t *testing.T) {
	tw := tower.New(tower.Config{DefaultHeight: 2, Dimension: 3, MaximumLevels: 4})
	env := newTestEnv(t, tw, HandlerOptions{})

	type peer struct {
		conn  *websocket.Conn
		local *tower.Tower
	}
	peers := make([]*peer, 3)
	for i := range peers {
		conn, snap := env.dial(t)
		local, err := tower.FromSnapshot(snap, tw.MaximumLevels())
		require.NoError(t, err)
		peers[i] = &peer{conn: conn, local: local}
	}
	require.Eventually(t, func() bool { return env.server.GetConnectedClients() == 3 }, time.Second, 5*time.Millisecond)

	// Клиенты ставят блоки по очереди; рост идёт строго на уровень выше вершины.
	// Автор применяет свой блок сам, остальные получают его рассылкой.
	for round := 0; round < 4; round++ {
		for i, author := range peers {
			pos := vec.Vec3{X: i - 1, Y: author.local.MaxHeight() + 1, Z: round%3 - 1}
			sendBlock(t, author.conn, pos.X, pos.Y, pos.Z)
			require.True(t, author.local.Place(pos))

			for j, p := range peers {
				if j == i {
					continue
				}
				msg := readMessage(t, p.conn, time.Second)
				require.Equal(t, MsgTypeNewBlock, msg.Type)
				got, err := DecodeBlock(msg.Data)
				require.NoError(t, err)
				require.Equal(t, pos, got)
				require.True(t, p.local.Place(got))
			}
		}
	}

	want := tw.Export()
	assert.Equal(t, 2+12, want.MaxHeight)
	for i, p := range peers {
		assert.Equal(t, want, p.local.Export(), "клиент %d сошёлся с сервером", i)
	}
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t, defaultTestTower(), HandlerOptions{})

	conn, _ := env.dial(t)
	require.Eventually(t, func() bool { return env.server.GetConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	ids := env.server.ClientIDs()
	require.Len(t, ids, 1)
	assert.True(t, env.server.Disconnect(ids[0]))
	assert.False(t, env.server.Disconnect(ids[0]))
	assert.Equal(t, 0, env.server.GetConnectedClients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.ErrorIs(t, env.server.SendToClient(ids[0], &Message{Type: "x"}), ErrClientNotFound)
}

func TestMetricsCountPlacements(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := NewTowerServer(ServerConfig{})
	metrics := NewMetrics(reg, srv.GetConnectedClients)
	h := NewTowerHandler(defaultTestTower(), srv, nil, HandlerOptions{Metrics: metrics})
	client := &Client{id: "c1", send: make(chan []byte, 4)}

	ok, err := NewMessage(MsgTypeNewBlock, vec.Vec3{X: 0, Y: 11, Z: 0})
	require.NoError(t, err)
	bad, err := NewMessage(MsgTypeNewBlock, vec.Vec3{X: 9, Y: 5, Z: 0})
	require.NoError(t, err)

	require.NoError(t, h.HandleMessage(client, ok))
	require.NoError(t, h.HandleMessage(client, bad))
	assert.Error(t, h.HandleMessage(client, NewRawMessage(MsgTypeNewBlock, json.RawMessage(`[]`))))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.placements.WithLabelValues(ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.placements.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.placements.WithLabelValues(ResultMalformed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.messages.WithLabelValues(MsgTypeNewBlock)))
}

func TestDecodeBlock(t *testing.T) {
	pos, err := DecodeBlock(json.RawMessage(`{"x":-2,"y":0,"z":2}`))
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: -2, Y: 0, Z: 2}, pos)

	for _, payload := range []string{`{}`, `{"x":1,"y":2}`, `{"x":"1","y":2,"z":3}`, `null`, `[1,2,3]`} {
		_, err := DecodeBlock(json.RawMessage(payload))
		assert.ErrorIs(t, err, ErrMalformedPayload, payload)
	}
}
