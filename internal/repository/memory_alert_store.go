package repository

import (
	"context"
	"sync"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/domain/repository"
	"CryptoAlert/pkg/util"

	"github.com/shopspring/decimal"
)

// MemoryAlertStore keeps every UserAlertSet in process. Each user record has
// its own mutex so one user's read-modify-write never blocks another user.
type MemoryAlertStore struct {
	mu    sync.RWMutex
	users map[string]*userRecord
	order []string
	now   func() time.Time
}

type userRecord struct {
	mu  sync.Mutex
	set models.UserAlertSet
	// dead marks a record reaped after its last rule was removed.
	dead bool
}

// NewMemoryAlertStore creates an empty in-memory store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		users: make(map[string]*userRecord),
		now:   time.Now,
	}
}

var _ repository.AlertStore = (*MemoryAlertStore)(nil)

// record returns the user's record, creating it when create is set.
func (s *MemoryAlertStore) record(userID string, create bool) *userRecord {
	s.mu.RLock()
	rec, ok := s.users[userID]
	s.mu.RUnlock()
	if ok || !create {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.users[userID]; ok {
		return rec
	}
	rec = &userRecord{set: models.UserAlertSet{UserID: userID}}
	s.users[userID] = rec
	s.order = append(s.order, userID)
	return rec
}

func (s *MemoryAlertStore) Upsert(ctx context.Context, userID, symbol string, high, low *decimal.Decimal) (models.AlertRule, error) {
	if err := ctx.Err(); err != nil {
		return models.AlertRule{}, err
	}
	symbol = util.NormalizeSymbol(symbol)

	rec := s.lockLive(userID)
	defer rec.mu.Unlock()

	now := s.now()
	if i := rec.set.Find(symbol); i >= 0 {
		next, err := rec.set.Rules[i].Merge(high, low, now)
		if err != nil {
			return models.AlertRule{}, err
		}
		rec.set.Rules[i] = next
		return next.Clone(), nil
	}

	r, err := models.NewAlertRule(symbol, high, low, now)
	if err != nil {
		return models.AlertRule{}, err
	}
	rec.set.Rules = append(rec.set.Rules, r)
	return r.Clone(), nil
}

func (s *MemoryAlertStore) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec := s.record(userID, false)
	if rec == nil {
		return false, nil
	}
	symbol = util.NormalizeSymbol(symbol)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	i := rec.set.Find(symbol)
	if i < 0 {
		return false, nil
	}
	rec.set.Rules = append(rec.set.Rules[:i], rec.set.Rules[i+1:]...)
	if len(rec.set.Rules) == 0 {
		s.reap(userID, rec)
	}
	return true, nil
}

// lockLive returns the user's record locked, retrying when a concurrent
// Remove reaped it between lookup and lock.
func (s *MemoryAlertStore) lockLive(userID string) *userRecord {
	for {
		rec := s.record(userID, true)
		rec.mu.Lock()
		if !rec.dead {
			return rec
		}
		rec.mu.Unlock()
	}
}

// reap drops an emptied record. The caller holds rec.mu.
func (s *MemoryAlertStore) reap(userID string, rec *userRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users[userID] != rec {
		return
	}
	rec.dead = true
	delete(s.users, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryAlertStore) userCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *MemoryAlertStore) List(ctx context.Context, userID string) ([]models.AlertRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := s.record(userID, false)
	if rec == nil {
		return []models.AlertRule{}, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.set.Clone().Rules, nil
}

func (s *MemoryAlertStore) UpdateState(ctx context.Context, userID, symbol string, observed models.AlertRule, state models.State) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec := s.record(userID, false)
	if rec == nil {
		return false, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	i := rec.set.Find(util.NormalizeSymbol(symbol))
	if i < 0 {
		return false, nil
	}
	cur := &rec.set.Rules[i]
	if cur.Revision != observed.Revision || cur.State != observed.State {
		return false, nil
	}
	cur.State = state
	return true, nil
}

func (s *MemoryAlertStore) Snapshot(ctx context.Context) ([]models.UserAlertSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	recs := make([]*userRecord, 0, len(s.order))
	for _, id := range s.order {
		recs = append(recs, s.users[id])
	}
	s.mu.RUnlock()

	out := make([]models.UserAlertSet, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if len(rec.set.Rules) > 0 {
			out = append(out, rec.set.Clone())
		}
		rec.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryAlertStore) Close() error { return nil }
