/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// maxCodeAttempts bounds collision retries when allocating a room code.
const maxCodeAttempts = 64

var errCodeSpaceExhausted = errors.New("unable to allocate a unique room code")

// RegistryConfig holds the collaborators shared by every room.
type RegistryConfig struct {
	Clock     clockwork.Clock
	Rules     Rules
	Delay     DelayFunc
	Publisher Publisher
	Logger    zerolog.Logger

	// IdleTimeout removes rooms with no player activity for this long.
	// Zero disables reaping.
	IdleTimeout time.Duration

	// OnReap is called with the code of each room removed for idleness.
	OnReap func(code string)
}

// Registry holds the set of live rooms, keyed by room code.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg RegistryConfig
}

// NewRegistry returns an empty registry. Zero-valued config fields fall back
// to a real clock, DefaultRules and UniformDelay.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rules == (Rules{}) {
		cfg.Rules = DefaultRules()
	}
	if cfg.Delay == nil {
		cfg.Delay = UniformDelay
	}

	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// NormalizeCode trims and upper-cases a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateRoomCode creates a random room code
func GenerateRoomCode() (string, error) {
	code := make([]byte, RoomCodeLength)
	limit := big.NewInt(int64(len(RoomCodeChars)))
	for i := range code {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = RoomCodeChars[n.Int64()]
	}
	return string(code), nil
}

// Create allocates a fresh code and starts an empty room under it.
func (reg *Registry) Create() (*Session, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for range maxCodeAttempts {
		code, err := GenerateRoomCode()
		if err != nil {
			return nil, err
		}
		if _, exists := reg.sessions[code]; exists {
			continue
		}

		room := NewRoom(code, reg.cfg.Rules, reg.cfg.Delay)
		s := newSession(code, room, reg.cfg.Clock, reg.cfg.Publisher, reg.cfg.Logger, reg.Remove)
		reg.sessions[code] = s
		go s.run()

		reg.cfg.Logger.Info().Str("room", code).Msg("room created")

		return s, nil
	}

	return nil, errCodeSpaceExhausted
}

// Get looks up a live room.
func (reg *Registry) Get(code string) (*Session, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	s, ok := reg.sessions[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Remove deletes a room and stops its loop. Removing an unknown code is a no-op.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	s, ok := reg.sessions[code]
	delete(reg.sessions, code)
	reg.mu.Unlock()

	if !ok {
		return
	}

	s.Close()
	reg.cfg.Logger.Info().Str("room", code).Msg("room deleted")
}

// Len is the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// Codes lists live room codes in sorted order.
func (reg *Registry) Codes() []string {
	reg.mu.RLock()
	codes := make([]string, 0, len(reg.sessions))
	for code := range reg.sessions {
		codes = append(codes, code)
	}
	reg.mu.RUnlock()

	slices.Sort(codes)
	return codes
}

// Snapshots copies the state of every live room.
func (reg *Registry) Snapshots() []Snapshot {
	snaps := make([]Snapshot, 0, reg.Len())
	for _, code := range reg.Codes() {
		s, err := reg.Get(code)
		if err != nil {
			continue
		}
		if snap, ok := s.Snapshot(); ok {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// Close removes every room.
func (reg *Registry) Close() {
	for _, code := range reg.Codes() {
		reg.Remove(code)
	}
}

// Reap removes rooms that are not mid-game and have been idle longer than the
// configured timeout. It returns the removed codes.
func (reg *Registry) Reap() []string {
	if reg.cfg.IdleTimeout <= 0 {
		return nil
	}

	cutoff := reg.cfg.Clock.Now().Add(-reg.cfg.IdleTimeout)

	reg.mu.RLock()
	candidates := make([]*Session, 0)
	for _, s := range reg.sessions {
		if s.LastActive().Before(cutoff) {
			candidates = append(candidates, s)
		}
	}
	reg.mu.RUnlock()

	var reaped []string
	for _, s := range candidates {
		if !s.reapIfIdle(cutoff) {
			continue
		}

		reg.Remove(s.Code())
		reaped = append(reaped, s.Code())

		if reg.cfg.OnReap != nil {
			reg.cfg.OnReap(s.Code())
		}
	}

	slices.Sort(reaped)
	return reaped
}

// Run reaps idle rooms until ctx is cancelled.
func (reg *Registry) Run(ctx context.Context) {
	if reg.cfg.IdleTimeout <= 0 {
		return
	}

	ticker := reg.cfg.Clock.NewTicker(reg.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if reaped := reg.Reap(); len(reaped) > 0 {
				reg.cfg.Logger.Info().Strs("rooms", reaped).Msg("reaped idle rooms")
			}
		}
	}
}
