package db

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/models"
)

var _ core.SessionStore = (*MemoryStore)(nil)

// MemoryStore keeps sessions in process memory. It is used when no DATABASE_URL is
// configured and by tests. Every method holds the lock for its whole update, so counter
// changes are atomic like their SQL counterparts.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	chunks   map[string]map[int]models.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		chunks:   make(map[string]map[int]models.Chunk),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("session already exists: " + s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSessionsByStatus(_ context.Context, status models.SessionStatus) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetTotalChunks(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.SessionNotFound(id)
	}
	if s.TotalChunks == 0 {
		s.TotalChunks = total
	}
	return nil
}

func (m *MemoryStore) IncrementProcessed(_ context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.SessionNotFound(id)
	}
	s.ProcessedChunks = min(s.TotalChunks, s.ProcessedChunks+delta)
	return nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, id string, status models.SessionStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return core.SessionNotFound(id)
	}
	s.Status = status
	s.ErrorMessage = message
	return nil
}

func (m *MemoryStore) InsertChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		if _, ok := m.sessions[ch.SessionID]; !ok {
			return core.SessionNotFound(ch.SessionID)
		}
		byIndex := m.chunks[ch.SessionID]
		if byIndex == nil {
			byIndex = make(map[int]models.Chunk)
			m.chunks[ch.SessionID] = byIndex
		}
		if _, exists := byIndex[ch.ChunkIndex]; exists {
			continue
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now().UTC()
		}
		byIndex[ch.ChunkIndex] = ch
	}
	return nil
}

func (m *MemoryStore) sortedChunks(sessionID string) []models.Chunk {
	byIndex := m.chunks[sessionID]
	out := make([]models.Chunk, 0, len(byIndex))
	for _, ch := range byIndex {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (m *MemoryStore) GetChunks(_ context.Context, sessionID string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedChunks(sessionID), nil
}

func (m *MemoryStore) CountChunks(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[sessionID]), nil
}

func (m *MemoryStore) SearchChunks(_ context.Context, sessionID string, terms []string, queryVec []float32) ([]models.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Chunk
	for _, ch := range m.sortedChunks(sessionID) {
		lower := strings.ToLower(ch.Content)
		for _, t := range terms {
			if strings.Contains(lower, strings.ToLower(t)) {
				if len(queryVec) > 0 && len(ch.Embedding) == len(queryVec) {
					ch.Similarity = cosine(ch.Embedding, queryVec)
				}
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false, nil
	}
	delete(m.sessions, id)
	delete(m.chunks, id)
	return true, nil
}

func (m *MemoryStore) ExpireSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !now.Before(s.ExpiresAt) && s.Status != models.StatusExpired {
			s.Status = models.StatusExpired
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpiredSessions(_ context.Context, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			out = append(out, *s)
			delete(m.sessions, id)
			delete(m.chunks, id)
		}
	}
	return out, nil
}
