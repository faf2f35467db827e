package challenge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and when no database is
// configured. It clones on the way in and out so callers can't alias rows.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[string]*domain.Challenge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]*domain.Challenge)}
}

func (m *MemoryStore) InsertChallenge(ctx context.Context, ch *domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[ch.ID] = cloneChallenge(ch)
	return nil
}

func (m *MemoryStore) GetChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.challenges[id]
	if !ok {
		return nil, nil
	}
	return cloneChallenge(ch), nil
}

func (m *MemoryStore) ListActive(ctx context.Context, serverID string) ([]*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Challenge
	for _, ch := range m.challenges {
		if ch.Status != domain.StatusActive {
			continue
		}
		if serverID != "" && ch.ServerID != serverID {
			continue
		}
		out = append(out, cloneChallenge(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) ListRecentCompleted(ctx context.Context, serverID string, limit int) ([]*domain.Challenge, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Challenge
	for _, ch := range m.challenges {
		if ch.Status != domain.StatusCompleted || ch.ServerID != serverID {
			continue
		}
		out = append(out, cloneChallenge(ch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.After(out[j].EndsAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status domain.ChallengeStatus, cancelledBy string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[id]
	if !ok || ch.Status != domain.StatusActive {
		return false, nil
	}
	ch.Status = status
	ch.CancelledBy = cancelledBy
	return true, nil
}

func (m *MemoryStore) UpdateCheckIndex(ctx context.Context, id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.challenges[id]; ok {
		ch.CheckIndex = index
	}
	return nil
}

func (m *MemoryStore) MarkSolved(ctx context.Context, challengeID, userID string, solvedAt time.Time, ratingDelta *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.findParticipant(challengeID, userID)
	if p == nil || p.SolvedAt != nil {
		return nil
	}
	at := solvedAt
	p.SolvedAt = &at
	if ratingDelta != nil {
		d := *ratingDelta
		p.RatingDelta = &d
	}
	return nil
}

func (m *MemoryStore) SetPenalty(ctx context.Context, challengeID, userID string, ratingDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.findParticipant(challengeID, userID)
	if p == nil || p.SolvedAt != nil || p.RatingDelta != nil {
		return nil
	}
	d := ratingDelta
	p.RatingDelta = &d
	return nil
}

func (m *MemoryStore) findParticipant(challengeID, userID string) *domain.Participant {
	ch, ok := m.challenges[challengeID]
	if !ok {
		return nil
	}
	for _, p := range ch.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func cloneChallenge(ch *domain.Challenge) *domain.Challenge {
	cp := *ch
	cp.Participants = make([]*domain.Participant, 0, len(ch.Participants))
	for _, p := range ch.Participants {
		pc := *p
		if p.SolvedAt != nil {
			t := *p.SolvedAt
			pc.SolvedAt = &t
		}
		if p.RatingBefore != nil {
			v := *p.RatingBefore
			pc.RatingBefore = &v
		}
		if p.RatingDelta != nil {
			v := *p.RatingDelta
			pc.RatingDelta = &v
		}
		cp.Participants = append(cp.Participants, &pc)
	}
	return &cp
}
