package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/callrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallExists   = errors.New("call already exists")
	ErrCallNotFound = errors.New("call not found")
	// ErrCallGone marks an id that existed and was removed recently.
	ErrCallGone = errors.New("call gone")
)

// Session is a tracked call: its facts plus its phase machine.
type Session struct {
	domain.Call
	*PhaseMachine

	mu    sync.Mutex
	timer *time.Timer
	// pending holds until the target has been offered the call.
	pending   bool
	abandoned bool
}

// NewSession starts pending; the creator must call Settle once the target
// has been offered the call.
func NewSession(call domain.Call, onChange func(from, to domain.Phase)) *Session {
	return &Session{Call: call, PhaseMachine: NewPhaseMachine(onChange), pending: true}
}

// Settle ends the pending state. It reports whether a participant left while
// the session was pending, in which case the creator owns the teardown.
func (s *Session) Settle() (abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	return s.abandoned
}

// Abandon marks a pending session as left by a participant and reports true.
// It does nothing and reports false once the session is settled.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return false
	}
	s.abandoned = true
	return true
}

// ArmTimer runs fn once after d unless StopTimer is called first.
func (s *Session) ArmTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, fn)
}

func (s *Session) StopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// CallTable maps call ids to sessions. Removed ids are kept as tombstones for
// a while so late messages can be told apart from unknown ones.
type CallTable struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*Session
	gone  map[domain.CallID]time.Time

	tombstoneTTL time.Duration
	nextSweep    time.Time
	now          func() time.Time
}

func NewCallTable(tombstoneTTL time.Duration) *CallTable {
	return &CallTable{
		calls:        make(map[domain.CallID]*Session),
		gone:         make(map[domain.CallID]time.Time),
		tombstoneTTL: tombstoneTTL,
		now:          time.Now,
	}
}

// Create inserts s unless its id is live or recently removed.
func (t *CallTable) Create(s *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.sweepLocked(now)
	if _, ok := t.calls[s.ID]; ok {
		return ErrCallExists
	}
	if exp, ok := t.gone[s.ID]; ok {
		if now.Before(exp) {
			return ErrCallExists
		}
		delete(t.gone, s.ID)
	}
	t.calls[s.ID] = s
	log.Info().Str("module", "app.calls").Str("call_id", string(s.ID)).
		Stringer("caller", s.CallerID).Stringer("target", s.TargetID).Msg("call created")
	return nil
}

func (t *CallTable) Get(id domain.CallID) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.calls[id]; ok {
		return s, nil
	}
	if exp, ok := t.gone[id]; ok && t.now().Before(exp) {
		return nil, ErrCallGone
	}
	return nil, ErrCallNotFound
}

// Remove deletes s and leaves a tombstone. Only the first caller for a given
// session gets true.
func (t *CallTable) Remove(s *Session) bool {
	return t.remove(s, true)
}

// Discard deletes s without a tombstone; used when a call never got going.
func (t *CallTable) Discard(s *Session) bool {
	return t.remove(s, false)
}

func (t *CallTable) remove(s *Session, tombstone bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.calls[s.ID]
	if !ok || cur != s {
		return false
	}
	delete(t.calls, s.ID)
	if tombstone && t.tombstoneTTL > 0 {
		t.gone[s.ID] = t.now().Add(t.tombstoneTTL)
	}
	s.StopTimer()
	log.Info().Str("module", "app.calls").Str("call_id", string(s.ID)).Str("phase", string(s.Phase())).Msg("call removed")
	return true
}

// CallsOf lists live sessions uid takes part in.
func (t *CallTable) CallsOf(uid domain.UserID) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Session
	for _, s := range t.calls {
		if s.Involves(uid) {
			out = append(out, s)
		}
	}
	return out
}

func (t *CallTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}

// sweepLocked drops expired tombstones, at most once per tombstone TTL.
func (t *CallTable) sweepLocked(now time.Time) {
	if now.Before(t.nextSweep) {
		return
	}
	t.nextSweep = now.Add(t.tombstoneTTL)
	for id, exp := range t.gone {
		if !now.Before(exp) {
			delete(t.gone, id)
		}
	}
}
