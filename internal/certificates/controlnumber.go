package certificates

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/barangay-registry/civil-registry/internal/db/models"
)

// typeCodes holds the three-letter prefix used in control numbers per certificate type
var typeCodes = map[models.CertificateType]string{
	models.CertificateTypeClearance:      "CLR",
	models.CertificateTypeIndigency:      "IND",
	models.CertificateTypeResidency:      "RES",
	models.CertificateTypeBusinessPermit: "BUS",
	models.CertificateTypeCedula:         "CED",
}

// TypeCode returns the control number prefix for t, or "GEN" for an unknown type
func TypeCode(t models.CertificateType) string {
	if code, ok := typeCodes[t]; ok {
		return code
	}
	return "GEN"
}

// Generator produces candidate control numbers. Uniqueness is ultimately enforced by the store.
type Generator interface {
	Next(t models.CertificateType) (string, error)
}

// ULIDGenerator builds control numbers of the form <type code><ULID>, e.g. IND01J9Z3K4...
// It is safe for concurrent use; ULIDs generated within the same millisecond are monotonic.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator returns a generator backed by crypto/rand
func NewULIDGenerator() *ULIDGenerator {
	return newULIDGenerator(rand.Reader, time.Now)
}

func newULIDGenerator(r io.Reader, now func() time.Time) *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(r, 0),
		now:     now,
	}
}

// Next returns a fresh control number for t
func (g *ULIDGenerator) Next(t models.CertificateType) (string, error) {
	g.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	return TypeCode(t) + id.String(), nil
}
