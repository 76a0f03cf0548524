package certificates

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/barangay-registry/civil-registry/internal/audit"
	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
)

// memCertStore mimics the Postgres unique constraint and conditional update
type memCertStore struct {
	mu        sync.Mutex
	byID      map[string]*models.CertificateRequest
	numbers   map[string]string
	createErr error
	// missGuard forces this many UpdateStatusIfCurrent calls to report a guard miss
	missGuard int
	updates   int
}

func newMemCertStore() *memCertStore {
	return &memCertStore{
		byID:    map[string]*models.CertificateRequest{},
		numbers: map[string]string{},
	}
}

func (m *memCertStore) Create(_ context.Context, req *models.CertificateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, taken := m.numbers[req.ControlNumber]; taken {
		return repositories.ErrDuplicateControlNumber
	}
	now := time.Now()
	req.CreatedAt, req.UpdatedAt = now, now
	m.byID[req.ID] = req.Clone()
	m.numbers[req.ControlNumber] = req.ID
	return nil
}

func (m *memCertStore) GetByID(_ context.Context, id string) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok {
		return r.Clone(), nil
	}
	return nil, nil
}

func (m *memCertStore) GetByControlNumber(_ context.Context, n string) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.numbers[n]; ok {
		return m.byID[id].Clone(), nil
	}
	return nil, nil
}

func (m *memCertStore) UpdateStatusIfCurrent(_ context.Context, upd repositories.StatusUpdate) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.missGuard > 0 {
		m.missGuard--
		return nil, nil
	}
	r, ok := m.byID[upd.ID]
	if !ok || r.Status != upd.From {
		return nil, nil
	}
	r.Status = upd.To
	issuer := upd.IssuedBy
	r.IssuedBy = &issuer
	if upd.Remarks != nil {
		r.Remarks = upd.Remarks
	}
	if upd.ORNumber != nil {
		r.ORNumber = upd.ORNumber
	}
	if upd.Amount.Valid {
		r.Amount = upd.Amount
	}
	r.UpdatedAt = time.Now()
	return r.Clone(), nil
}

func (m *memCertStore) List(_ context.Context, f repositories.CertificateFilters, limit, offset int) ([]*models.CertificateRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.CertificateRequest
	for _, r := range m.byID {
		if f.PersonID != nil && r.PersonID != *f.PersonID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Type != nil && r.Type != *f.Type {
			continue
		}
		all = append(all, r.Clone())
	}
	sortNewestFirst(all)
	total := len(all)
	if offset >= total {
		return []*models.CertificateRequest{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memCertStore) ListByPerson(ctx context.Context, personID string) ([]*models.CertificateRequest, error) {
	items, _, err := m.List(ctx, repositories.CertificateFilters{PersonID: &personID}, 1000, 0)
	return items, err
}

func (m *memCertStore) CountByStatus(_ context.Context, personID string) (map[models.CertificateStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.CertificateStatus]int{}
	for _, r := range m.byID {
		if r.PersonID == personID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func sortNewestFirst(items []*models.CertificateRequest) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ControlNumber > items[j].ControlNumber
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

type memPersonStore struct {
	byID map[string]*models.Person
	err  error
}

func (m *memPersonStore) GetByID(_ context.Context, id string) (*models.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[id], nil
}

func (m *memPersonStore) GetByUserID(_ context.Context, userID string) (*models.Person, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.byID {
		if p.UserID != nil && *p.UserID == userID {
			return p, nil
		}
	}
	return nil, nil
}

type memUserStore struct {
	byID map[string]*models.User
}

func (m *memUserStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return m.byID[id], nil
}

type memHistoryStore struct {
	logs []*models.AuditLog
	err  error
}

func (m *memHistoryStore) ListEntityHistory(_ context.Context, entity, entityID string) ([]*models.AuditLog, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AuditLog
	for _, l := range m.logs {
		if l.Entity == entity && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

// captureRecorder keeps every event in memory
type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

// scriptedGenerator replays fixed control numbers before falling back to ULIDs
type scriptedGenerator struct {
	mu       sync.Mutex
	script   []string
	fallback Generator
	err      error
	calls    int
}

func (g *scriptedGenerator) Next(t models.CertificateType) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.script) > 0 {
		n := g.script[0]
		g.script = g.script[1:]
		return n, nil
	}
	if g.fallback == nil {
		return "", errors.New("script exhausted")
	}
	return g.fallback.Next(t)
}
