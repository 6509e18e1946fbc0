/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

// EventType names an outbound message.
type EventType string

const (
	EventJoinedRoom            EventType = "joinedRoom"
	EventPlayerJoined          EventType = "playerJoined"
	EventPlayerLeft            EventType = "playerLeft"
	EventGameStarted           EventType = "gameStarted"
	EventUpdateTimer           EventType = "updateTimer"
	EventNumberProcessing      EventType = "numberProcessing"
	EventPlayerSelectingNumber EventType = "playerSelectingNumber"
	EventMoveCancelled         EventType = "moveCancelled"
	EventSequenceUpdated       EventType = "sequenceUpdated"
	EventGameWon               EventType = "gameWon"
	EventGameLost              EventType = "gameLost"
)

// Audience says who receives an event.
type Audience int

const (
	// AudienceRoom is every player in the room.
	AudienceRoom Audience = iota
	// AudiencePlayer is only Event.PlayerID.
	AudiencePlayer
	// AudienceOthers is everyone except Event.PlayerID.
	AudienceOthers
)

// Loss reasons.
const (
	ReasonTimeExpired      = "time expired"
	ReasonWrongNumber      = "wrong number selected"
	ReasonNotEnoughPlayers = "not enough players"
)

// PlayerView is the public part of a Player.
type PlayerView struct {
	ID    string `json:"id"`
	Color Color  `json:"color"`
}

// Event is produced by Room operations and fanned out by a Publisher.
// Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Audience Audience
	PlayerID string

	RoomCode string
	Color    Color
	Players  []PlayerView

	Number   int
	Delay    int
	Seconds  int
	Sequence []int

	Reason   string
	Expected int
	Selected int
}

// Outcome records how the most recent game ended.
type Outcome struct {
	Won      bool
	Reason   string
	Expected int
	Selected int
}

// Publisher delivers events for a room. Publish is called from the room's
// loop and must not block.
type Publisher interface {
	Publish(code string, events []Event)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(code string, events []Event)

func (f PublisherFunc) Publish(code string, events []Event) {
	f(code, events)
}
