// One to Ten
//
// Two to four players share a room and press the numbers 1 through 10 in
// order, together, before the clock runs out. Nobody may press two numbers
// in a row, and every press is confirmed only after a random delay.
//
// Features:
// - One WebSocket endpoint: $path/ws; rooms are chosen with messages
// - Six-character room codes via crypto/rand, collision checked
// - The creator of a room joins it automatically
// - Colors handed out in join order; freed colors are reused
// - One pending number per room; others are told a number is being processed
// - Rooms removed when the last player leaves, or reaped when idle
// - QR code for sharing a room's join link, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/onetoten/games/sequence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 32
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "createRoom", "joinRoom", "startGame", "selectNumber", "leaveRoom"
	RoomCode string `json:"roomCode,omitempty"` // joinRoom
	Number   int    `json:"number,omitempty"`   // selectNumber
}

// RoomCreatedMessage is sent only to the creator.
type RoomCreatedMessage struct {
	Type     string `json:"type"` // "roomCreated"
	RoomCode string `json:"roomCode"`
}

// JoinedRoomMessage is sent only to the joining player.
type JoinedRoomMessage struct {
	Type     string                `json:"type"` // "joinedRoom"
	RoomCode string                `json:"roomCode"`
	PlayerID string                `json:"playerId"`
	Color    sequence.Color        `json:"color"`
	Players  []sequence.PlayerView `json:"players"`
}

// PlayersMessage announces a change in room membership.
type PlayersMessage struct {
	Type     string                `json:"type"` // "playerJoined", "playerLeft"
	PlayerID string                `json:"playerId"`
	Color    sequence.Color        `json:"color"`
	Players  []sequence.PlayerView `json:"players"`
}

// TimerMessage carries the countdown.
type TimerMessage struct {
	Type             string `json:"type"` // "gameStarted", "updateTimer"
	SecondsRemaining int    `json:"secondsRemaining"`
}

// NumberProcessingMessage tells the mover how long confirmation will take.
type NumberProcessingMessage struct {
	Type   string `json:"type"` // "numberProcessing"
	Number int    `json:"number"`
	Delay  int    `json:"delay"`
}

// PlayerSelectingMessage tells everyone else a number is being confirmed.
type PlayerSelectingMessage struct {
	Type   string         `json:"type"` // "playerSelectingNumber"
	Number int            `json:"number"`
	Color  sequence.Color `json:"color"`
}

// MoveCancelledMessage withdraws a pending number whose player left before it
// was confirmed.
type MoveCancelledMessage struct {
	Type   string         `json:"type"` // "moveCancelled"
	Number int            `json:"number"`
	Color  sequence.Color `json:"color"`
}

// SequenceMessage carries the confirmed sequence after each commit.
type SequenceMessage struct {
	Type       string         `json:"type"` // "sequenceUpdated"
	Sequence   []int          `json:"sequence"`
	SelectedBy sequence.Color `json:"selectedBy"`
}

// GameLostMessage explains a loss. Expected and Selected are set only for a
// wrong number.
type GameLostMessage struct {
	Type     string `json:"type"` // "gameLost"
	Reason   string `json:"reason"`
	Expected *int   `json:"expected,omitempty"`
	Selected *int   `json:"selected,omitempty"`
}

// SimpleMessage is for generic notifications ("gameWon", "roomClosed")
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage is sent only to the client whose request was rejected.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errBadMessage = &sequence.Error{Kind: sequence.KindProtocol, Code: "BAD_MESSAGE", Message: "Unrecognized message"}

func errorMessage(err error) ErrorMessage {
	var e *sequence.Error
	if errors.As(err, &e) {
		return ErrorMessage{Type: "error", Code: string(e.Code), Message: e.Message}
	}
	return ErrorMessage{Type: "error", Code: "INTERNAL", Message: "Something went wrong. Please try again."}
}

// wireMessage converts a room event into the message sent over the socket.
func wireMessage(ev sequence.Event) any {
	switch ev.Type {
	case sequence.EventJoinedRoom:
		return JoinedRoomMessage{Type: string(ev.Type), RoomCode: ev.RoomCode, PlayerID: ev.PlayerID, Color: ev.Color, Players: ev.Players}
	case sequence.EventPlayerJoined, sequence.EventPlayerLeft:
		return PlayersMessage{Type: string(ev.Type), PlayerID: ev.PlayerID, Color: ev.Color, Players: ev.Players}
	case sequence.EventGameStarted, sequence.EventUpdateTimer:
		return TimerMessage{Type: string(ev.Type), SecondsRemaining: ev.Seconds}
	case sequence.EventNumberProcessing:
		return NumberProcessingMessage{Type: string(ev.Type), Number: ev.Number, Delay: ev.Delay}
	case sequence.EventPlayerSelectingNumber:
		return PlayerSelectingMessage{Type: string(ev.Type), Number: ev.Number, Color: ev.Color}
	case sequence.EventMoveCancelled:
		return MoveCancelledMessage{Type: string(ev.Type), Number: ev.Number, Color: ev.Color}
	case sequence.EventSequenceUpdated:
		return SequenceMessage{Type: string(ev.Type), Sequence: ev.Sequence, SelectedBy: ev.Color}
	case sequence.EventGameLost:
		msg := GameLostMessage{Type: string(ev.Type), Reason: ev.Reason}
		if ev.Reason == sequence.ReasonWrongNumber {
			expected, selected := ev.Expected, ev.Selected
			msg.Expected, msg.Selected = &expected, &selected
		}
		return msg
	default:
		return SimpleMessage{Type: string(ev.Type)}
	}
}

type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan any
	closeOnce sync.Once

	// Owned by readPump.
	session *sequence.Session
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks which sockets belong to which room and fans room events out to
// them. A socket is subscribed to a room before its join is processed, but
// only becomes a member once its joinedRoom event arrives.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]string
	rooms   map[string]map[*Client]bool
}

func newHub() *Hub {
	return &Hub{
		clients: make(map[*Client]string),
		rooms:   make(map[string]map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = ""
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	code, ok := h.clients[c]
	if !ok {
		return
	}
	h.unsubscribeLocked(code, c)
	delete(h.clients, c)
	c.closeSend()
}

func (h *Hub) subscribe(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	h.unsubscribeLocked(h.clients[c], c)

	if h.rooms[code] == nil {
		h.rooms[code] = make(map[*Client]bool)
	}
	h.rooms[code][c] = false
	h.clients[c] = code
}

func (h *Hub) unsubscribe(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(code, c)
}

func (h *Hub) unsubscribeLocked(code string, c *Client) {
	if code == "" {
		return
	}
	if members, ok := h.rooms[code]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
	if h.clients[c] == code {
		h.clients[c] = ""
	}
}

// sendTo delivers a message to one socket outside of any room broadcast.
func (h *Hub) sendTo(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(c, msg)
}

func (h *Hub) deliverLocked(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.Warn().Str("player", c.id).Msg("send buffer full, closing connection")
		h.removeLocked(c)
		_ = c.conn.Close()
	}
}

// Publish implements sequence.Publisher.
func (h *Hub) Publish(code string, events []sequence.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[code]

	for _, ev := range events {
		msg := wireMessage(ev)

		for c, member := range members {
			switch ev.Audience {
			case sequence.AudiencePlayer:
				if c.id != ev.PlayerID {
					continue
				}
				if ev.Type == sequence.EventJoinedRoom {
					members[c] = true
				}
			case sequence.AudienceOthers:
				if !member || c.id == ev.PlayerID {
					continue
				}
			default:
				if !member {
					continue
				}
			}

			h.deliverLocked(c, msg)
		}
	}
}

// closeRoom notifies and detaches every socket still in a removed room.
func (h *Hub) closeRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[code] {
		h.deliverLocked(c, SimpleMessage{Type: "roomClosed", Message: "The room was closed due to inactivity."})
		h.unsubscribeLocked(code, c)
	}
}

// Stats summarizes open sockets.
func (h *Hub) Stats() (connections, rooms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), len(h.rooms)
}

// Game couples the room registry with the socket hub.
type Game struct {
	cfg      *Config
	hub      *Hub
	registry *sequence.Registry
	upgrader websocket.Upgrader
}

func newGame(cfg *Config) *Game {
	hub := newHub()

	registry := sequence.NewRegistry(sequence.RegistryConfig{
		Rules: sequence.Rules{
			Duration: cfg.gameDuration,
			MinDelay: cfg.minDelay,
			MaxDelay: cfg.maxDelay,
		},
		Publisher:   hub,
		Logger:      log.Logger,
		IdleTimeout: cfg.sessionTimeout,
		OnReap:      hub.closeRoom,
	})

	return &Game{
		cfg:      cfg,
		hub:      hub,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (g *Game) leave(c *Client) {
	if c.session == nil {
		return
	}

	s := c.session
	c.session = nil

	g.hub.unsubscribe(s.Code(), c)
	s.Leave(c.id)
}

func (g *Game) createRoom(c *Client) error {
	g.leave(c)

	s, err := g.registry.Create()
	if err != nil {
		return err
	}

	g.hub.subscribe(s.Code(), c)
	g.hub.sendTo(c, RoomCreatedMessage{Type: "roomCreated", RoomCode: s.Code()})

	if _, err := s.Join(c.id); err != nil {
		g.hub.unsubscribe(s.Code(), c)
		return err
	}
	c.session = s

	log.Info().Str("room", s.Code()).Str("player", c.id).Msg("GAMES: room created")

	return nil
}

func (g *Game) joinRoom(c *Client, code string) error {
	s, err := g.registry.Get(code)
	if err != nil {
		return err
	}

	if c.session != s {
		g.leave(c)
	}

	g.hub.subscribe(s.Code(), c)

	if _, err := s.Join(c.id); err != nil {
		g.hub.unsubscribe(s.Code(), c)
		return err
	}
	c.session = s

	return nil
}

func (g *Game) handle(c *Client, msg ClientMessage) error {
	switch msg.Type {
	case "createRoom":
		return g.createRoom(c)
	case "joinRoom":
		return g.joinRoom(c, msg.RoomCode)
	case "leaveRoom":
		g.leave(c)
		return nil
	case "startGame":
		if c.session == nil {
			return sequence.ErrRoomNotFound
		}
		return c.session.Start(c.id)
	case "selectNumber":
		if c.session == nil {
			return sequence.ErrRoomNotFound
		}
		return c.session.Select(c.id, msg.Number)
	default:
		return errBadMessage
	}
}

func (g *Game) readPump(c *Client) {
	defer func() {
		g.leave(c)
		g.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("player", c.id).Msg("unexpected websocket close")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.hub.sendTo(c, errorMessage(errBadMessage))
			continue
		}

		if err := g.handle(c, msg); err != nil {
			g.hub.sendTo(c, errorMessage(err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Game) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", realIP(r)).Msg("upgrade error")
			return
		}

		c := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, sendBuffer),
		}

		g.hub.register(c)

		log.Debug().Str("player", c.id).Str("remote", realIP(r)).Msg("SERVE: websocket connected")

		go c.writePump()
		g.readPump(c)
	}
}

// serveQR generates a PNG QR code for a room's join link using go-qrcode.
func (g *Game) serveQR(path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s, err := g.registry.Get(ps.ByName("code"))
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		link := url.URL{
			Scheme:   scheme,
			Host:     r.Host,
			Path:     g.cfg.prefix + path,
			RawQuery: url.Values{"room": {s.Code()}}.Encode(),
		}

		const qrSize = 320
		png, err := qrcode.Encode(link.String(), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(g.cfg, w)
		_, _ = w.Write(png)
	}
}

type roomsResponse struct {
	Connections int                 `json:"connections"`
	Rooms       []sequence.Snapshot `json:"rooms"`
}

func (g *Game) serveRooms(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		connections, _ := g.hub.Stats()

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(g.cfg, w)

		err := json.NewEncoder(w).Encode(roomsResponse{
			Connections: connections,
			Rooms:       g.registry.Snapshots(),
		})
		if err != nil {
			errs <- err
		}
	}
}

// registerSequenceGame sets up routes so that:
//   - $path/ws         → WebSocket carrying the game protocol
//   - /qr/:code        → PNG QR code for a room's join link
//   - /rooms           → JSON summary of live rooms
func registerSequenceGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *Game {
	g := newGame(cfg)

	go g.registry.Run(ctx)
	go func() {
		<-ctx.Done()
		g.registry.Close()
	}()

	path = "/" + strings.Trim(path, "/")

	mux.GET(cfg.prefix+path+"/ws", g.serveWS())
	mux.GET(cfg.prefix+"/qr/:code", g.serveQR(path))
	mux.GET(cfg.prefix+"/rooms", g.serveRooms(errs))

	return g
}
