/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

import (
	"math/rand/v2"
	"time"
)

const (
	// MinPlayers is the minimum number of players required to start a game
	MinPlayers = 2

	// MaxPlayers is the size of the color palette
	MaxPlayers = 4

	// Target is the last number of a winning sequence
	Target = 10

	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6

	// RoomCodeChars are the characters used for generating room codes
	RoomCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Color identifies a player within a room.
type Color string

const (
	Red    Color = "red"
	Blue   Color = "blue"
	Green  Color = "green"
	Yellow Color = "yellow"
)

// Palette is handed out in order, lowest free slot first.
var Palette = [MaxPlayers]Color{Red, Blue, Green, Yellow}

// DelayFunc returns a confirmation delay in whole seconds within [min, max].
type DelayFunc func(min, max int) int

// UniformDelay is the default DelayFunc.
func UniformDelay(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min+1) + min
}

// Rules holds the tunable parts of a game.
type Rules struct {
	Duration time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRules gives two minutes on the clock and 1-15 second confirmations.
func DefaultRules() Rules {
	return Rules{
		Duration: 120 * time.Second,
		MinDelay: 1 * time.Second,
		MaxDelay: 15 * time.Second,
	}
}

func (r Rules) seconds() (duration, minDelay, maxDelay int) {
	return int(r.Duration / time.Second), int(r.MinDelay / time.Second), int(r.MaxDelay / time.Second)
}
