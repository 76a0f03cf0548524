package certificates

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/barangay-registry/civil-registry/internal/db/models"
	"github.com/barangay-registry/civil-registry/internal/db/repositories"
)

// memStores backs a real certificates.Service for handler tests
type memStores struct {
	mu      sync.Mutex
	certs   map[string]*models.CertificateRequest
	users   map[string]*models.User
	persons map[string]*models.Person
	history map[string][]*models.AuditLog
}

func newMemStores() *memStores {
	return &memStores{
		certs:   map[string]*models.CertificateRequest{},
		users:   map[string]*models.User{},
		persons: map[string]*models.Person{},
		history: map[string][]*models.AuditLog{},
	}
}

func (m *memStores) Create(_ context.Context, req *models.CertificateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.certs {
		if existing.ControlNumber == req.ControlNumber {
			return repositories.ErrDuplicateControlNumber
		}
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	m.certs[req.ID] = req.Clone()
	return nil
}

func (m *memStores) GetByID(_ context.Context, id string) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.certs[id]; ok {
		return c.Clone(), nil
	}
	return nil, nil
}

func (m *memStores) GetByControlNumber(_ context.Context, n string) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certs {
		if c.ControlNumber == n {
			return c.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStores) UpdateStatusIfCurrent(_ context.Context, upd repositories.StatusUpdate) (*models.CertificateRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[upd.ID]
	if !ok || c.Status != upd.From {
		return nil, nil
	}
	c.Status = upd.To
	issuer := upd.IssuedBy
	c.IssuedBy = &issuer
	if upd.Remarks != nil {
		c.Remarks = upd.Remarks
	}
	if upd.ORNumber != nil {
		c.ORNumber = upd.ORNumber
	}
	if upd.Amount.Valid {
		c.Amount = upd.Amount
	}
	c.UpdatedAt = time.Now().UTC()
	return c.Clone(), nil
}

func (m *memStores) List(_ context.Context, f repositories.CertificateFilters, limit, offset int) ([]*models.CertificateRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CertificateRequest
	for _, c := range m.certs {
		if f.PersonID != nil && c.PersonID != *f.PersonID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.Type != nil && c.Type != *f.Type {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return []*models.CertificateRequest{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *memStores) ListByPerson(ctx context.Context, personID string) ([]*models.CertificateRequest, error) {
	items, _, err := m.List(ctx, repositories.CertificateFilters{PersonID: &personID}, 1000, 0)
	return items, err
}

func (m *memStores) CountByStatus(_ context.Context, personID string) (map[models.CertificateStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.CertificateStatus]int{}
	for _, c := range m.certs {
		if c.PersonID == personID {
			counts[c.Status]++
		}
	}
	return counts, nil
}

func (m *memStores) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memStores) ListEntityHistory(_ context.Context, entity, entityID string) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[entity+"/"+entityID], nil
}

// persons satisfies certificates.PersonStore
type persons struct{ m *memStores }

func (p persons) GetByID(_ context.Context, id string) (*models.Person, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.m.persons[id], nil
}

func (p persons) GetByUserID(_ context.Context, userID string) (*models.Person, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, person := range p.m.persons {
		if person.UserID != nil && *person.UserID == userID {
			return person, nil
		}
	}
	return nil, nil
}
