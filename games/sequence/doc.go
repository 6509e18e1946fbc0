// Package sequence implements the One to Ten cooperative game.
//
// Two to four players share a room and must press the numbers 1 through 10
// in order, together, before two minutes run out.
//
// How to play
// - One player creates a room and shares the six-character code
// - Everyone else joins with the code and is given a color
// - Any player starts the game once at least two are present
// - Any player may press the next number, but never two in a row
// - A pressed number is confirmed after a random 1-15 second delay, and
//   nobody may press while a number is being confirmed
// - Pressing the wrong number, running out of time, or dropping below two
//   players loses the game; confirming 10 wins it
//
// Implementation details:
// - Room is the rule engine; it is a plain value with no goroutines or locks
// - Session runs one Room on its own goroutine and owns its countdown ticker
//   and commit timer, both taken from a clockwork.Clock
// - Registry maps room codes to sessions and reaps idle rooms
package sequence
