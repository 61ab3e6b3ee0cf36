package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

// DeviceStore keeps attempts and trust records in maps guarded by one mutex,
// which makes Promote atomic.
type DeviceStore struct {
	mu       sync.Mutex
	attempts map[string]types.VerificationAttempt
	records  []types.DeviceTrustRecord
	nextID   int64
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{attempts: make(map[string]types.VerificationAttempt)}
}

func (s *DeviceStore) CreateAttempt(_ context.Context, a types.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.VerificationID]; ok {
		return store.ErrConflict
	}
	s.attempts[a.VerificationID] = a
	return nil
}

func (s *DeviceStore) GetAttempt(_ context.Context, id string) (types.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return types.VerificationAttempt{}, store.ErrNotFound
	}
	return a, nil
}

func (s *DeviceStore) LatestPendingByPhone(_ context.Context, phone string, since time.Time) (types.VerificationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.VerificationAttempt
	for _, a := range s.attempts {
		if a.PhoneNumber != phone || a.Status != types.StatusPending || a.CreatedAt.Before(since) {
			continue
		}
		if best == nil || a.CreatedAt.After(best.CreatedAt) {
			a := a
			best = &a
		}
	}
	if best == nil {
		return types.VerificationAttempt{}, store.ErrNotFound
	}
	return *best, nil
}

func (s *DeviceStore) FinishAttempt(_ context.Context, id string, status types.VerificationStatus, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != types.StatusPending {
		return store.ErrAttemptNotPending
	}
	a.Status = status
	a.Message = message
	a.CompletedAt = &at
	s.attempts[id] = a
	return nil
}

func (s *DeviceStore) Promote(_ context.Context, p store.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[p.VerificationID]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != types.StatusPending {
		return store.ErrAttemptNotPending
	}

	s.revokeLocked(p.Record.PersonID, p.Record.DeviceFingerprint, types.RevokeSuperseded, p.At)

	s.nextID++
	rec := p.Record
	rec.ID = s.nextID
	s.records = append(s.records, rec)

	at := p.At
	exp := rec.ExpiresAt
	a.Status = types.StatusActive
	a.CompletedAt = &at
	a.PendingToken = p.Token
	a.TokenExpiresAt = &exp
	s.attempts[p.VerificationID] = a
	return nil
}

func (s *DeviceStore) TakeToken(_ context.Context, id string) (string, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return "", nil, store.ErrNotFound
	}
	tok, exp := a.PendingToken, a.TokenExpiresAt
	if tok != "" {
		a.PendingToken = ""
		a.Delivered = true
		s.attempts[id] = a
	}
	return tok, exp, nil
}

func (s *DeviceStore) TimeoutStale(_ context.Context, createdBefore, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.attempts {
		if a.Status == types.StatusPending && a.CreatedAt.Before(createdBefore) {
			a.Status = types.StatusTimedOut
			a.Message = "verification timed out"
			a.CompletedAt = &at
			s.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (s *DeviceStore) PurgeFinished(_ context.Context, createdBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.attempts {
		if a.Status.Terminal() && a.CreatedAt.Before(createdBefore) {
			delete(s.attempts, id)
			n++
		}
	}
	return n, nil
}

func (s *DeviceStore) GetRecordByTokenID(_ context.Context, tokenID string) (types.DeviceTrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.TokenID == tokenID {
			return r, nil
		}
	}
	return types.DeviceTrustRecord{}, store.ErrNotFound
}

func (s *DeviceStore) ListRecords(_ context.Context, personID string) ([]types.DeviceTrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DeviceTrustRecord
	for _, r := range s.records {
		if r.PersonID == personID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *DeviceStore) RevokeRecords(_ context.Context, personID, fingerprint, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(personID, fingerprint, reason, at), nil
}

func (s *DeviceStore) RevokeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.records {
		r := &s.records[i]
		if !r.Revoked && !now.Before(r.ExpiresAt) {
			at := now
			r.Revoked = true
			r.RevokedAt = &at
			r.RevokeReason = types.RevokeExpired
			n++
		}
	}
	return n, nil
}

func (s *DeviceStore) revokeLocked(personID, fingerprint, reason string, at time.Time) int64 {
	var n int64
	for i := range s.records {
		r := &s.records[i]
		if r.PersonID == personID && r.DeviceFingerprint == fingerprint && !r.Revoked {
			t := at
			r.Revoked = true
			r.RevokedAt = &t
			r.RevokeReason = reason
			n++
		}
	}
	return n
}
