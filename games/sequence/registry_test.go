package sequence

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestGenerateRoomCodeFormat(t *testing.T) {
	for range 200 {
		code, err := GenerateRoomCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !roomCodePattern.MatchString(code) {
			t.Fatalf("unexpected code %q", code)
		}
	}
}

func TestRegistryCreateUnique(t *testing.T) {
	f := newFixture(t, 1)

	seen := map[string]bool{}
	for range 50 {
		s, err := f.reg.Create()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[s.Code()] {
			t.Fatalf("duplicate code %s", s.Code())
		}
		seen[s.Code()] = true
	}

	if f.reg.Len() != 50 {
		t.Fatalf("expected 50 rooms, got %d", f.reg.Len())
	}
	if codes := f.reg.Codes(); !slices.IsSorted(codes) || len(codes) != 50 {
		t.Fatalf("expected 50 sorted codes, got %v", codes)
	}
}

func TestRegistryGetNormalizesCode(t *testing.T) {
	f := newFixture(t, 1)
	s := f.session(t, "a")

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{name: "exact", input: s.Code()},
		{name: "lower case", input: " " + strings.ToLower(s.Code()) + "\n"},
		{name: "unknown", input: "ZZZZZZZ", err: ErrRoomNotFound},
		{name: "empty", input: "", err: ErrRoomNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.reg.Get(tt.input)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != s {
				t.Fatalf("expected session %s, got %s", s.Code(), got.Code())
			}
		})
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	s := f.session(t, "a")

	f.reg.Remove(s.Code())
	f.reg.Remove(s.Code())
	f.reg.Remove("NOPE00")

	<-s.Done()

	if f.reg.Len() != 0 {
		t.Fatalf("expected no rooms, got %d", f.reg.Len())
	}
	if _, err := s.Join("b"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistryReapsIdleLobbies(t *testing.T) {
	f := newFixture(t, 1)

	var reported []string
	f.reg.cfg.OnReap = func(code string) { reported = append(reported, code) }

	idle := f.session(t, "a")
	playing := f.started(t, "b", "c")

	f.clock.Advance(5 * time.Minute)
	if reaped := f.reg.Reap(); len(reaped) != 0 {
		t.Fatalf("nothing should be idle yet, reaped %v", reaped)
	}

	f.clock.Advance(6 * time.Minute)
	reaped := f.reg.Reap()
	if !slices.Equal(reaped, []string{idle.Code()}) {
		t.Fatalf("expected only %s reaped, got %v", idle.Code(), reaped)
	}
	if !slices.Equal(reported, reaped) {
		t.Fatalf("expected OnReap for %v, got %v", reaped, reported)
	}

	if _, err := f.reg.Get(playing.Code()); err != nil {
		t.Fatalf("active room should survive reaping: %v", err)
	}
}
