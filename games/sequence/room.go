/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

import "slices"

// State is the lifecycle position of a Room.
type State int

const (
	StateLobby State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Player holds the data we store server-side
type Player struct {
	ID           string
	Color        Color
	LastSelected int // 0 until the player has a confirmed number this game
}

// Move is a tentatively accepted selection waiting out its confirmation delay.
type Move struct {
	Game     uint64
	Token    uint64
	PlayerID string
	Number   int
	Delay    int
}

// Room is the authoritative state of one game instance. It is not safe for
// concurrent use; a Session owns it and serializes every call.
type Room struct {
	code  string
	rules Rules
	delay DelayFunc

	players []*Player
	state   State

	sequence      []int
	movers        []string
	timeRemaining int
	pending       *Move

	game    uint64
	tokens  uint64
	outcome *Outcome
}

// NewRoom returns an empty room in the lobby.
func NewRoom(code string, rules Rules, delay DelayFunc) *Room {
	if delay == nil {
		delay = UniformDelay
	}

	r := &Room{
		code:  code,
		rules: rules,
		delay: delay,
	}
	r.reset()

	return r
}

func (r *Room) Code() string       { return r.code }
func (r *Room) State() State       { return r.state }
func (r *Room) Active() bool       { return r.state == StateActive }
func (r *Room) Len() int           { return len(r.players) }
func (r *Room) TimeRemaining() int { return r.timeRemaining }
func (r *Room) Sequence() []int    { return slices.Clone(r.sequence) }

// Pending returns the in-flight move, if any.
func (r *Room) Pending() (Move, bool) {
	if r.pending == nil {
		return Move{}, false
	}
	return *r.pending, true
}

// Outcome returns how the last game ended, if one has ended.
func (r *Room) Outcome() (Outcome, bool) {
	if r.outcome == nil {
		return Outcome{}, false
	}
	return *r.outcome, true
}

// Players lists occupants in join order.
func (r *Room) Players() []PlayerView {
	views := make([]PlayerView, 0, len(r.players))
	for _, p := range r.players {
		views = append(views, PlayerView{ID: p.ID, Color: p.Color})
	}
	return views
}

func (r *Room) player(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) lastMover() string {
	if len(r.movers) == 0 {
		return ""
	}
	return r.movers[len(r.movers)-1]
}

// freeColor is the lowest palette slot not held by a current occupant.
func (r *Room) freeColor() Color {
	for _, c := range Palette {
		taken := false
		for _, p := range r.players {
			if p.Color == c {
				taken = true
				break
			}
		}
		if !taken {
			return c
		}
	}
	return ""
}

// Join adds a player and assigns a color. Joining twice with the same id
// returns the color already held.
func (r *Room) Join(playerID string) (Color, []Event, error) {
	if p := r.player(playerID); p != nil {
		return p.Color, []Event{r.joinedEvent(p)}, nil
	}

	if len(r.players) >= MaxPlayers {
		return "", nil, ErrRoomFull
	}
	if r.state == StateActive {
		return "", nil, ErrAlreadyStarted
	}

	p := &Player{ID: playerID, Color: r.freeColor()}
	r.players = append(r.players, p)

	return p.Color, []Event{
		r.joinedEvent(p),
		{
			Type:     EventPlayerJoined,
			Audience: AudienceOthers,
			PlayerID: p.ID,
			Color:    p.Color,
			Players:  r.Players(),
		},
	}, nil
}

func (r *Room) joinedEvent(p *Player) Event {
	return Event{
		Type:     EventJoinedRoom,
		Audience: AudiencePlayer,
		PlayerID: p.ID,
		RoomCode: r.code,
		Color:    p.Color,
		Players:  r.Players(),
	}
}

// Leave removes a player. A pending move by that player is cancelled, and a
// running game that drops below MinPlayers is lost.
// Callers destroy the room once Len reports zero.
func (r *Room) Leave(playerID string) []Event {
	i := slices.IndexFunc(r.players, func(p *Player) bool { return p.ID == playerID })
	if i < 0 {
		return nil
	}
	left := r.players[i]
	r.players = slices.Delete(r.players, i, i+1)

	var events []Event

	if r.pending != nil && r.pending.PlayerID == playerID {
		events = append(events, Event{
			Type:     EventMoveCancelled,
			Audience: AudienceRoom,
			PlayerID: playerID,
			Color:    left.Color,
			Number:   r.pending.Number,
		})
		r.pending = nil
	}

	events = append(events, Event{
		Type:     EventPlayerLeft,
		Audience: AudienceRoom,
		PlayerID: playerID,
		Color:    left.Color,
		Players:  r.Players(),
	})

	if r.state == StateActive && len(r.players) < MinPlayers {
		events = append(events, r.finish(Outcome{Reason: ReasonNotEnoughPlayers})...)
	}

	return events
}

// Start begins a new game from the lobby.
func (r *Room) Start() ([]Event, error) {
	if r.state == StateActive {
		return nil, ErrAlreadyActive
	}
	if len(r.players) < MinPlayers {
		return nil, ErrTooFewPlayers
	}

	r.reset()
	r.game++
	r.outcome = nil
	r.state = StateActive

	return []Event{{
		Type:     EventGameStarted,
		Audience: AudienceRoom,
		Seconds:  r.timeRemaining,
	}}, nil
}

// AttemptSelect validates a selection. A nil Move with a nil error means the
// selection was fatal and the game is over; the returned events say why.
func (r *Room) AttemptSelect(playerID string, number int) (*Move, []Event, error) {
	if r.state != StateActive {
		return nil, nil, ErrNotActive
	}

	p := r.player(playerID)
	if p == nil {
		return nil, nil, ErrNotInRoom
	}

	if r.lastMover() == playerID {
		return nil, nil, ErrConsecutiveTurn
	}

	if slices.Contains(r.sequence, number) {
		return nil, nil, ErrDuplicateNumber
	}

	expected := len(r.sequence) + 1
	if number != expected {
		return nil, r.finish(Outcome{
			Reason:   ReasonWrongNumber,
			Expected: expected,
			Selected: number,
		}), nil
	}

	if r.pending != nil {
		return nil, nil, ErrMovePending
	}

	_, minDelay, maxDelay := r.rules.seconds()

	r.tokens++
	m := &Move{
		Game:     r.game,
		Token:    r.tokens,
		PlayerID: playerID,
		Number:   number,
		Delay:    r.delay(minDelay, maxDelay),
	}
	r.pending = m

	return m, []Event{
		{
			Type:     EventNumberProcessing,
			Audience: AudiencePlayer,
			PlayerID: playerID,
			Number:   number,
			Delay:    m.Delay,
		},
		{
			Type:     EventPlayerSelectingNumber,
			Audience: AudienceOthers,
			PlayerID: playerID,
			Color:    p.Color,
			Number:   number,
		},
	}, nil
}

// CommitMove confirms a move whose delay has elapsed. Moves from a game that
// has since ended, or that are no longer the pending move, are ignored.
func (r *Room) CommitMove(m Move) []Event {
	if r.state != StateActive || m.Game != r.game {
		return nil
	}
	if r.pending == nil || r.pending.Token != m.Token {
		return nil
	}
	r.pending = nil

	p := r.player(m.PlayerID)
	if p == nil {
		return nil
	}

	r.sequence = append(r.sequence, m.Number)
	r.movers = append(r.movers, p.ID)
	p.LastSelected = m.Number

	events := []Event{{
		Type:     EventSequenceUpdated,
		Audience: AudienceRoom,
		PlayerID: p.ID,
		Color:    p.Color,
		Sequence: slices.Clone(r.sequence),
	}}

	if len(r.sequence) == Target {
		events = append(events, r.finish(Outcome{Won: true})...)
	}

	return events
}

// Tick advances the countdown by one second.
func (r *Room) Tick() []Event {
	if r.state != StateActive {
		return nil
	}

	r.timeRemaining--

	events := []Event{{
		Type:     EventUpdateTimer,
		Audience: AudienceRoom,
		Seconds:  r.timeRemaining,
	}}

	if r.timeRemaining <= 0 {
		events = append(events, r.finish(Outcome{Reason: ReasonTimeExpired})...)
	}

	return events
}

// finish ends the current game and recycles the room into the lobby.
func (r *Room) finish(o Outcome) []Event {
	r.state = StateEnded
	r.outcome = &o

	ev := Event{Type: EventGameWon, Audience: AudienceRoom}
	if !o.Won {
		ev = Event{
			Type:     EventGameLost,
			Audience: AudienceRoom,
			Reason:   o.Reason,
			Expected: o.Expected,
			Selected: o.Selected,
		}
	}

	r.reset()

	return []Event{ev}
}

func (r *Room) reset() {
	duration, _, _ := r.rules.seconds()

	r.state = StateLobby
	r.sequence = nil
	r.movers = nil
	r.pending = nil
	r.timeRemaining = duration

	for _, p := range r.players {
		p.LastSelected = 0
	}
}
