package selector

import (
	"sync"
)

// State is the process-wide playback intent consulted by every cell
// controller before it starts playback.
type State struct {
	CurrentAssetID string
	Muted          bool
	Playing        bool
	ViewportIndex  int
}

// Selector is the single source of truth for which asset is intended to
// play. Changing the current asset does not itself pause other cells; each
// controller checks the state before acting, which is what enforces
// single-playback.
type Selector struct {
	mu      sync.RWMutex
	state   State
	subs    map[int]chan State
	nextSub int
}

// New constructs a selector with playback enabled and the given mute default.
func New(startMuted bool) *Selector {
	return &Selector{
		state: State{Muted: startMuted, Playing: true, ViewportIndex: -1},
		subs:  make(map[int]chan State),
	}
}

// SetCurrentAsset records the asset and viewport index that should be
// playing and broadcasts the change.
func (s *Selector) SetCurrentAsset(assetID string, index int) {
	s.mu.Lock()
	s.state.CurrentAssetID = assetID
	s.state.ViewportIndex = index
	state := s.state
	s.mu.Unlock()
	s.broadcast(state)
}

// SetMuted updates the mute flag and broadcasts the change.
func (s *Selector) SetMuted(muted bool) {
	s.mu.Lock()
	s.state.Muted = muted
	state := s.state
	s.mu.Unlock()
	s.broadcast(state)
}

// SetPlaying updates the global play/pause intent and broadcasts the change.
func (s *Selector) SetPlaying(playing bool) {
	s.mu.Lock()
	s.state.Playing = playing
	state := s.state
	s.mu.Unlock()
	s.broadcast(state)
}

// Snapshot returns the current state. Safe for many concurrent readers.
func (s *Selector) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers for state broadcasts. The returned cancel function
// removes the subscription and must be called to avoid leaking the channel.
// Slow subscribers miss intermediate states rather than blocking the
// publisher; the latest state is always observable via Snapshot.
func (s *Selector) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 16)
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Selector) broadcast(state State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
