/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type joinRequest struct {
	playerID string
	reply    chan joinResult
}

type joinResult struct {
	color Color
	err   error
}

type leaveRequest struct {
	playerID string
	reply    chan int
}

type startRequest struct {
	playerID string
	reply    chan error
}

type reapRequest struct {
	cutoff time.Time
	reply  chan bool
}

type selectRequest struct {
	playerID string
	number   int
	reply    chan error
}

type snapshotRequest struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time copy of a room for stats and tests.
type Snapshot struct {
	Code          string       `json:"code"`
	State         string       `json:"state"`
	Players       []PlayerView `json:"players"`
	Sequence      []int        `json:"sequence"`
	TimeRemaining int          `json:"time_remaining"`
	Pending       bool         `json:"pending"`
	LastActive    time.Time    `json:"last_active"`
}

// Session runs one Room on its own goroutine. Every mutation, including timer
// ticks and delayed commits, is applied by that goroutine in arrival order.
type Session struct {
	code  string
	room  *Room
	clock clockwork.Clock
	pub   Publisher
	log   zerolog.Logger

	joins     chan joinRequest
	leaves    chan leaveRequest
	starts    chan startRequest
	selects   chan selectRequest
	snapshots chan snapshotRequest
	reaps     chan reapRequest

	ticker clockwork.Ticker
	commit clockwork.Timer
	move   Move

	onEmpty func(code string)

	mu         sync.RWMutex
	lastActive time.Time

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSession(code string, room *Room, clock clockwork.Clock, pub Publisher, logger zerolog.Logger, onEmpty func(string)) *Session {
	return &Session{
		code:       code,
		room:       room,
		clock:      clock,
		pub:        pub,
		log:        logger.With().Str("room", code).Logger(),
		joins:      make(chan joinRequest),
		leaves:     make(chan leaveRequest),
		starts:     make(chan startRequest),
		selects:    make(chan selectRequest),
		snapshots:  make(chan snapshotRequest),
		reaps:      make(chan reapRequest),
		onEmpty:    onEmpty,
		lastActive: clock.Now(),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Session) Code() string { return s.code }

// LastActive is the time of the most recent player request.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.clock.Now()
	s.mu.Unlock()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.stopTimers()

	for {
		// A tick due alongside a commit wins, so a game that has just run out
		// of time cannot be completed by that commit.
		select {
		case <-s.tickC():
			s.handleTick()
			continue
		default:
		}

		select {
		case <-s.quit:
			return

		case <-s.tickC():
			s.handleTick()

		case <-s.commitC():
			s.handleCommit()

		case req := <-s.joins:
			s.touch()
			color, events, err := s.room.Join(req.playerID)
			s.publish(events)
			if err == nil {
				s.log.Info().Str("player", req.playerID).Str("color", string(color)).Msg("player joined")
			}
			req.reply <- joinResult{color, err}

		case req := <-s.leaves:
			s.touch()
			s.publish(s.room.Leave(req.playerID))
			if s.syncTimer() {
				s.logOutcome()
			}
			remaining := s.room.Len()
			if remaining == 0 {
				s.log.Info().Msg("room empty")
				if s.onEmpty != nil {
					s.onEmpty(s.code)
				}
				req.reply <- remaining
				return
			}
			req.reply <- remaining

		case req := <-s.starts:
			s.touch()
			events, err := s.room.Start()
			s.publish(events)
			s.syncTimer()
			if err == nil {
				s.log.Info().Str("player", req.playerID).Int("players", s.room.Len()).Msg("game started")
			}
			req.reply <- err

		case req := <-s.selects:
			s.touch()
			req.reply <- s.handleSelect(req.playerID, req.number)

		case req := <-s.snapshots:
			req.reply <- s.snapshot()

		case req := <-s.reaps:
			if s.room.Active() || !s.LastActive().Before(req.cutoff) {
				req.reply <- false
				continue
			}
			s.log.Info().Msg("room idle")
			req.reply <- true
			return
		}
	}
}

func (s *Session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.Chan()
}

func (s *Session) commitC() <-chan time.Time {
	if s.commit == nil {
		return nil
	}
	return s.commit.Chan()
}

func (s *Session) publish(events []Event) {
	if len(events) == 0 || s.pub == nil {
		return
	}
	s.pub.Publish(s.code, events)
}

func (s *Session) handleTick() {
	s.publish(s.room.Tick())
	if s.syncTimer() {
		s.logOutcome()
	}
}

func (s *Session) handleSelect(playerID string, number int) error {
	m, events, err := s.room.AttemptSelect(playerID, number)
	if err != nil {
		s.log.Debug().Str("player", playerID).Int("number", number).Str("code", string(errCode(err))).Msg("selection rejected")
		return err
	}

	s.publish(events)

	if m == nil {
		s.syncTimer()
		s.logOutcome()
		return nil
	}

	s.schedule(*m)

	s.log.Debug().
		Str("player", playerID).
		Int("number", number).
		Int("delay", m.Delay).
		Msg("selection accepted")

	return nil
}

// schedule arms the commit timer for m, replacing any stale one.
func (s *Session) schedule(m Move) {
	if s.commit != nil {
		stopAndDrainTimer(s.commit)
	}
	s.move = m
	s.commit = s.clock.NewTimer(time.Duration(m.Delay) * time.Second)
}

func (s *Session) handleCommit() {
	m := s.move
	s.commit = nil
	s.move = Move{}

	events := s.room.CommitMove(m)
	if len(events) == 0 {
		s.log.Debug().Int("number", m.Number).Uint64("game", m.Game).Msg("stale commit ignored")
		return
	}

	s.publish(events)
	if s.syncTimer() {
		s.logOutcome()
	}
}

// syncTimer starts or stops the countdown to match the room state. It reports
// whether a running countdown was stopped.
func (s *Session) syncTimer() bool {
	switch {
	case s.room.Active() && s.ticker == nil:
		s.ticker = s.clock.NewTicker(time.Second)
		return false
	case !s.room.Active() && s.ticker != nil:
		s.ticker.Stop()
		s.ticker = nil
		return true
	}
	return false
}

func (s *Session) logOutcome() {
	o, ok := s.room.Outcome()
	if !ok {
		return
	}
	if o.Won {
		s.log.Info().Msg("game won")
		return
	}
	s.log.Info().Str("reason", o.Reason).Int("expected", o.Expected).Int("selected", o.Selected).Msg("game lost")
}

func (s *Session) stopTimers() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.commit != nil {
		stopAndDrainTimer(s.commit)
		s.commit = nil
	}
}

func (s *Session) snapshot() Snapshot {
	_, pending := s.room.Pending()
	return Snapshot{
		Code:          s.code,
		State:         s.room.State().String(),
		Players:       s.room.Players(),
		Sequence:      s.room.Sequence(),
		TimeRemaining: s.room.TimeRemaining(),
		Pending:       pending,
		LastActive:    s.LastActive(),
	}
}

// stopAndDrainTimer stops a timer and empties its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func errCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// reapIfIdle stops the loop if the room is not mid-game and has seen no
// player request since cutoff. It reports whether the loop stopped.
func (s *Session) reapIfIdle(cutoff time.Time) bool {
	reply := make(chan bool, 1)
	select {
	case s.reaps <- reapRequest{cutoff, reply}:
	case <-s.done:
		return false
	}
	return <-reply
}

// Close stops the loop. It does not wait and is safe to call more than once.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Join adds playerID to the room and returns the assigned color.
func (s *Session) Join(playerID string) (Color, error) {
	reply := make(chan joinResult, 1)
	select {
	case s.joins <- joinRequest{playerID, reply}:
	case <-s.done:
		return "", ErrRoomNotFound
	}
	res := <-reply
	return res.color, res.err
}

// Leave removes playerID and returns how many players remain. A room that
// reaches zero shuts itself down.
func (s *Session) Leave(playerID string) int {
	reply := make(chan int, 1)
	select {
	case s.leaves <- leaveRequest{playerID, reply}:
	case <-s.done:
		return 0
	}
	return <-reply
}

// Start begins a game on behalf of playerID.
func (s *Session) Start(playerID string) error {
	reply := make(chan error, 1)
	select {
	case s.starts <- startRequest{playerID, reply}:
	case <-s.done:
		return ErrRoomNotFound
	}
	return <-reply
}

// Select submits a number on behalf of playerID. A nil error means the
// selection was either accepted or ended the game; events carry which.
func (s *Session) Select(playerID string, number int) error {
	reply := make(chan error, 1)
	select {
	case s.selects <- selectRequest{playerID, number, reply}:
	case <-s.done:
		return ErrRoomNotFound
	}
	return <-reply
}

// Snapshot copies the current room state.
func (s *Session) Snapshot() (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshots <- snapshotRequest{reply}:
	case <-s.done:
		return Snapshot{}, false
	}
	return <-reply, true
}
