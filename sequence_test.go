package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/onetoten/games/sequence"
	"github.com/gorilla/websocket"
)

func testConfig() *Config {
	return &Config{
		bind:         "127.0.0.1",
		corsOrigins:  []string{"*"},
		gameDuration: 120 * time.Second,
		minDelay:     1 * time.Second,
		maxDelay:     15 * time.Second,
		port:         8080,
	}
}

func newTestServer(t *testing.T, cfg *Config) (*httptest.Server, *Game) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 16)

	handler, game := newRouter(ctx, cfg, errs)
	srv := httptest.NewServer(handler)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return srv, game
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/play/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg ClientMessage) {
	c.t.Helper()

	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// expect reads until a message of the given type arrives, skipping others.
func (c *testClient) expect(typ string) map[string]any {
	c.t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)

		var msg map[string]any
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func (c *testClient) expectError(code string) {
	c.t.Helper()

	msg := c.expect("error")
	if msg["code"] != code {
		c.t.Fatalf("expected error %s, got %v", code, msg)
	}
	if msg["message"] == "" {
		c.t.Fatalf("expected a human readable message, got %v", msg)
	}
}

func (c *testClient) create() string {
	c.t.Helper()

	c.send(ClientMessage{Type: "createRoom"})
	created := c.expect("roomCreated")
	code, _ := created["roomCode"].(string)
	if len(code) != 6 {
		c.t.Fatalf("unexpected room code %q", code)
	}
	c.expect("joinedRoom")
	return code
}

func (c *testClient) join(code string) map[string]any {
	c.t.Helper()

	c.send(ClientMessage{Type: "joinRoom", RoomCode: code})
	return c.expect("joinedRoom")
}

func startedPair(t *testing.T, srv *httptest.Server) (a, b *testClient, code string) {
	t.Helper()

	a = dial(t, srv)
	b = dial(t, srv)

	code = a.create()
	b.join(code)
	a.expect("playerJoined")

	a.send(ClientMessage{Type: "startGame"})
	a.expect("gameStarted")
	b.expect("gameStarted")

	return a, b, code
}

func TestCreateJoinStart(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	a := dial(t, srv)
	a.send(ClientMessage{Type: "createRoom"})

	created := a.expect("roomCreated")
	code := created["roomCode"].(string)

	joined := a.expect("joinedRoom")
	if joined["color"] != "red" || joined["roomCode"] != code {
		t.Fatalf("unexpected joinedRoom for creator: %v", joined)
	}

	b := dial(t, srv)
	joined = b.join(strings.ToLower(code))
	if joined["color"] != "blue" {
		t.Fatalf("expected blue, got %v", joined["color"])
	}
	if players, _ := joined["players"].([]any); len(players) != 2 {
		t.Fatalf("expected 2 players, got %v", joined["players"])
	}

	announced := a.expect("playerJoined")
	if players, _ := announced["players"].([]any); len(players) != 2 {
		t.Fatalf("expected 2 players in announcement, got %v", announced)
	}
	if announced["color"] != "blue" {
		t.Fatalf("expected the joiner's color in announcement, got %v", announced)
	}

	b.send(ClientMessage{Type: "startGame"})
	for _, c := range []*testClient{a, b} {
		started := c.expect("gameStarted")
		if started["secondsRemaining"] != float64(120) {
			t.Fatalf("expected 120 seconds, got %v", started)
		}
	}
}

func TestProtocolErrors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	c := dial(t, srv)

	c.send(ClientMessage{Type: "joinRoom", RoomCode: "NOPE42"})
	c.expectError("ROOM_NOT_FOUND")

	c.send(ClientMessage{Type: "startGame"})
	c.expectError("ROOM_NOT_FOUND")

	c.send(ClientMessage{Type: "dance"})
	c.expectError("BAD_MESSAGE")

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.expectError("BAD_MESSAGE")

	c.create()

	c.send(ClientMessage{Type: "startGame"})
	c.expectError("TOO_FEW_PLAYERS")

	c.send(ClientMessage{Type: "selectNumber", Number: 1})
	c.expectError("NOT_ACTIVE")
}

func TestRoomFull(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	host := dial(t, srv)
	code := host.create()

	colors := []string{"blue", "green", "yellow"}
	for _, want := range colors {
		joined := dial(t, srv).join(code)
		if joined["color"] != want {
			t.Fatalf("expected %s, got %v", want, joined["color"])
		}
	}

	late := dial(t, srv)
	late.send(ClientMessage{Type: "joinRoom", RoomCode: code})
	late.expectError("ROOM_FULL")
}

func TestJoinRejectedMidGame(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	_, _, code := startedPair(t, srv)

	late := dial(t, srv)
	late.send(ClientMessage{Type: "joinRoom", RoomCode: code})
	late.expectError("ALREADY_STARTED")
}

func TestSelectionNotifiesRoom(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b, _ := startedPair(t, srv)

	a.send(ClientMessage{Type: "selectNumber", Number: 1})

	processing := a.expect("numberProcessing")
	delay, _ := processing["delay"].(float64)
	if processing["number"] != float64(1) || delay < 1 || delay > 15 {
		t.Fatalf("unexpected numberProcessing %v", processing)
	}

	selecting := b.expect("playerSelectingNumber")
	if selecting["number"] != float64(1) || selecting["color"] != "red" {
		t.Fatalf("unexpected playerSelectingNumber %v", selecting)
	}

	b.send(ClientMessage{Type: "selectNumber", Number: 1})
	b.expectError("MOVE_PENDING")
}

func TestWrongNumberEndsGameForEveryone(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	a, b, _ := startedPair(t, srv)

	b.send(ClientMessage{Type: "selectNumber", Number: 3})

	for _, c := range []*testClient{a, b} {
		lost := c.expect("gameLost")
		if lost["reason"] != "wrong number selected" || lost["expected"] != float64(1) || lost["selected"] != float64(3) {
			t.Fatalf("unexpected gameLost %v", lost)
		}
	}

	a.send(ClientMessage{Type: "selectNumber", Number: 1})
	a.expectError("NOT_ACTIVE")
}

func TestDisconnectEndsGame(t *testing.T) {
	srv, game := newTestServer(t, testConfig())
	a, b, _ := startedPair(t, srv)

	_ = b.conn.Close()

	left := a.expect("playerLeft")
	if players, _ := left["players"].([]any); len(players) != 1 {
		t.Fatalf("expected one remaining player, got %v", left)
	}
	lost := a.expect("gameLost")
	if lost["reason"] != "not enough players" {
		t.Fatalf("unexpected reason %v", lost["reason"])
	}
	if _, ok := lost["expected"]; ok {
		t.Fatalf("disconnect loss should not carry expected/selected: %v", lost)
	}

	a.send(ClientMessage{Type: "leaveRoom"})

	deadline := time.Now().Add(2 * time.Second)
	for game.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected empty room to be destroyed, %d remain", game.registry.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRoomsAndQR(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	code := dial(t, srv).create()

	resp, err := http.Get(srv.URL + "/rooms")
	if err != nil {
		t.Fatalf("get rooms: %v", err)
	}
	defer resp.Body.Close()

	var body roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(body.Rooms) != 1 || body.Rooms[0].Code != code || body.Connections != 1 {
		t.Fatalf("unexpected rooms response %+v", body)
	}

	tests := []struct {
		name   string
		path   string
		status int
		ctype  string
	}{
		{name: "live room", path: "/qr/" + code, status: http.StatusOK, ctype: "image/png"},
		{name: "unknown room", path: "/qr/NOPE42", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.ctype != "" && resp.Header.Get("Content-Type") != tt.ctype {
				t.Fatalf("expected %s, got %s", tt.ctype, resp.Header.Get("Content-Type"))
			}
		})
	}
}

func TestWireMessageLossDetail(t *testing.T) {
	tests := []struct {
		name   string
		ev     sequence.Event
		detail bool
	}{
		{name: "wrong number", ev: sequence.Event{Type: sequence.EventGameLost, Reason: sequence.ReasonWrongNumber, Expected: 4, Selected: 7}, detail: true},
		{name: "time expired", ev: sequence.Event{Type: sequence.EventGameLost, Reason: sequence.ReasonTimeExpired}},
		{name: "not enough players", ev: sequence.Event{Type: sequence.EventGameLost, Reason: sequence.ReasonNotEnoughPlayers}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := wireMessage(tt.ev).(GameLostMessage)
			if !ok {
				t.Fatalf("expected GameLostMessage, got %T", wireMessage(tt.ev))
			}
			if msg.Reason != tt.ev.Reason {
				t.Fatalf("expected reason %q, got %q", tt.ev.Reason, msg.Reason)
			}
			if !tt.detail {
				if msg.Expected != nil || msg.Selected != nil {
					t.Fatalf("unexpected detail on %s", tt.name)
				}
				return
			}
			if msg.Expected == nil || *msg.Expected != 4 || msg.Selected == nil || *msg.Selected != 7 {
				t.Fatalf("unexpected detail %+v", msg)
			}
		})
	}
}

func TestWireMessageShapes(t *testing.T) {
	tests := []struct {
		ev   sequence.Event
		want string
	}{
		{ev: sequence.Event{Type: sequence.EventUpdateTimer, Seconds: 42}, want: `{"type":"updateTimer","secondsRemaining":42}`},
		{ev: sequence.Event{Type: sequence.EventNumberProcessing, Number: 3, Delay: 5}, want: `{"type":"numberProcessing","number":3,"delay":5}`},
		{ev: sequence.Event{Type: sequence.EventSequenceUpdated, Sequence: []int{1, 2}, Color: sequence.Blue}, want: `{"type":"sequenceUpdated","sequence":[1,2],"selectedBy":"blue"}`},
		{ev: sequence.Event{Type: sequence.EventGameWon}, want: `{"type":"gameWon"}`},
		{ev: sequence.Event{Type: sequence.EventPlayerJoined, PlayerID: "p2", Color: sequence.Green}, want: `{"type":"playerJoined","playerId":"p2","color":"green","players":null}`},
		{ev: sequence.Event{Type: sequence.EventMoveCancelled, Number: 6, Color: sequence.Yellow}, want: `{"type":"moveCancelled","number":6,"color":"yellow"}`},
	}

	for _, tt := range tests {
		got, err := json.Marshal(wireMessage(tt.ev))
		if err != nil {
			t.Fatalf("marshal %s: %v", tt.ev.Type, err)
		}
		if string(got) != tt.want {
			t.Fatalf("expected %s, got %s", tt.want, got)
		}
	}
}
