package pattern

import (
	"math"
	"sync"
	"time"
)

// MaxPatterns is the store capacity. Saving past it fails rather than
// evicting.
const MaxPatterns = 10

// Pattern is one named light pattern: three expressions and an
// optional duration (0 means play until stopped).
type Pattern struct {
	Name     string  `json:"name"`
	Hue      string  `json:"hue"`
	Sat      string  `json:"sat"`
	Val      string  `json:"val"`
	Duration float64 `json:"duration_sec"`
}

// HSV is one rendered pixel. H is radians in [0, 2π), S and V are in
// [0, 1].
type HSV struct {
	H, S, V float64
}

// Store holds saved patterns and tracks the one playing.
//
// Saves and play/stop arrive on the dispatch worker while Frame is
// called from the periodic tick, so all state is mutex-guarded.
type Store struct {
	mu       sync.Mutex
	patterns []Pattern
	active   int // index into patterns, -1 when stopped
	start    time.Time

	eval *Evaluator
}

// NewStore creates an empty store rendering through the given
// evaluator. A nil evaluator gets a default one with no resolver.
func NewStore(eval *Evaluator) *Store {
	if eval == nil {
		eval = NewEvaluator(nil)
	}
	return &Store{active: -1, eval: eval}
}

// Save adds a pattern, overwriting any existing pattern with the same
// name. Returns false when the store is full.
func (s *Store) Save(p Pattern) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.patterns {
		if s.patterns[i].Name == p.Name {
			s.patterns[i] = p
			return true
		}
	}
	if len(s.patterns) >= MaxPatterns {
		return false
	}
	s.patterns = append(s.patterns, p)
	return true
}

// Play starts the named pattern from now. Returns false when the name
// is unknown.
func (s *Store) Play(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.patterns {
		if s.patterns[i].Name == name {
			s.active = i
			s.start = now
			return true
		}
	}
	return false
}

// Stop halts playback.
func (s *Store) Stop() {
	s.mu.Lock()
	s.active = -1
	s.mu.Unlock()
}

// Active returns the playing pattern's name, if any.
func (s *Store) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 {
		return "", false
	}
	return s.patterns[s.active].Name, true
}

// List returns a snapshot of the saved patterns in save order.
func (s *Store) List() []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Count returns the number of saved patterns.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

// Frame renders n pixels of the active pattern at time now. The
// second return is false when nothing is playing; a pattern whose
// duration has elapsed stops itself on the call that crosses it.
func (s *Store) Frame(n int, now time.Time) ([]HSV, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active < 0 {
		return nil, false
	}
	p := s.patterns[s.active]

	elapsed := now.Sub(s.start).Seconds()
	if p.Duration > 0 && elapsed >= p.Duration {
		s.active = -1
		return nil, false
	}

	frame := make([]HSV, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)

		h := s.eval.Eval(p.Hue, theta, elapsed, i)
		sat := s.eval.Eval(p.Sat, theta, elapsed, i)
		v := s.eval.Eval(p.Val, theta, elapsed, i)

		h = math.Mod(h, 2*math.Pi)
		if h < 0 {
			h += 2 * math.Pi
		}

		frame[i] = HSV{
			H: h,
			S: clamp01(sat),
			V: clamp01(math.Abs(v)),
		}
	}
	return frame, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
