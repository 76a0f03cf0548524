package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay-registry/civil-registry/internal/apperrors"
	"github.com/barangay-registry/civil-registry/internal/db/models"
)

const (
	adminID    = "00000000-0000-0000-0000-0000000000a1"
	staffID    = "00000000-0000-0000-0000-0000000000a2"
	residentID = "00000000-0000-0000-0000-0000000000a3"
	inactiveID = "00000000-0000-0000-0000-0000000000a4"
	otherUser  = "00000000-0000-0000-0000-0000000000a5"

	personP1    = "11111111-1111-1111-1111-111111111111"
	personOther = "22222222-2222-2222-2222-222222222222"
)

var controlNumberFormat = regexp.MustCompile(`^[A-Z0-9]{10,}$`)

type fixture struct {
	svc      *Service
	certs    *memCertStore
	persons  *memPersonStore
	history  *memHistoryStore
	recorder *captureRecorder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	resident := residentID
	persons := &memPersonStore{byID: map[string]*models.Person{
		personP1:    {ID: personP1, UserID: &resident, FirstName: "Juan", LastName: "Dela Cruz"},
		personOther: {ID: personOther, FirstName: "Maria", LastName: "Santos"},
	}}
	users := &memUserStore{byID: map[string]*models.User{
		adminID:    {ID: adminID, Role: models.RoleAdmin, IsActive: true},
		staffID:    {ID: staffID, Role: models.RoleStaff, IsActive: true},
		residentID: {ID: residentID, Role: models.RoleResident, IsActive: true},
		inactiveID: {ID: inactiveID, Role: models.RoleStaff, IsActive: false},
		otherUser:  {ID: otherUser, Role: models.RoleResident, IsActive: true},
	}}
	f := &fixture{
		certs:    newMemCertStore(),
		persons:  persons,
		history:  &memHistoryStore{},
		recorder: &captureRecorder{},
	}
	f.svc = NewService(Stores{
		Certificates: f.certs,
		Persons:      persons,
		Users:        users,
		History:      f.history,
	}, f.recorder, opts)
	return f
}

func (f *fixture) create(t *testing.T, ct models.CertificateType) *models.CertificateRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: ct, Purpose: "scholarship", PersonID: personP1,
	})
	require.NoError(t, err)
	return req
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperrors.KindOf(err), "error: %v", err)
}

func TestCreate_Success(t *testing.T) {
	f := newFixture(t, Options{})
	or := "OR-001"

	req, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type:     models.CertificateTypeIndigency,
		Purpose:  "  scholarship  ",
		PersonID: personP1,
		ORNumber: &or,
		Amount:   decimal.NewNullDecimal(decimal.RequireFromString("50.00")),
	})
	require.NoError(t, err)

	assert.Equal(t, models.CertificateStatusRequested, req.Status)
	assert.Equal(t, "scholarship", req.Purpose)
	assert.Regexp(t, controlNumberFormat, req.ControlNumber)
	assert.Equal(t, "IND", req.ControlNumber[:3])
	assert.Nil(t, req.IssuedBy)
	assert.NotEmpty(t, req.ID)

	stored, _ := f.certs.GetByID(context.Background(), req.ID)
	require.NotNil(t, stored)
	assert.Equal(t, req.ControlNumber, stored.ControlNumber)

	events := f.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditActionCreate, events[0].Action)
	assert.Equal(t, models.AuditEntityCertificate, events[0].Entity)
	assert.Equal(t, req.ID, events[0].EntityID)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, staffID, *events[0].ActorID)
	assert.Nil(t, events[0].Old)
}

func TestCreate_Validation(t *testing.T) {
	tooLong := strings.Repeat("a", MaxPurposeLength+1)
	longOR := strings.Repeat("1", MaxORNumberLength+1)

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"unknown type", CreateInput{Type: "PASSPORT", Purpose: "x", PersonID: personP1}},
		{"empty purpose", CreateInput{Type: models.CertificateTypeClearance, Purpose: "   ", PersonID: personP1}},
		{"purpose too long", CreateInput{Type: models.CertificateTypeClearance, Purpose: tooLong, PersonID: personP1}},
		{"person id not uuid", CreateInput{Type: models.CertificateTypeClearance, Purpose: "x", PersonID: "P1"}},
		{"negative amount", CreateInput{
			Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
			Amount: decimal.NewNullDecimal(decimal.NewFromInt(-1)),
		}},
		{"three decimal places", CreateInput{
			Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
			Amount: decimal.NewNullDecimal(decimal.RequireFromString("1.005")),
		}},
		{"or number too long", CreateInput{
			Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1, ORNumber: &longOR,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.svc.Create(context.Background(), staffID, tt.in)
			requireKind(t, err, apperrors.KindValidation)
			assert.Empty(t, f.certs.byID, "validation failures must not reach persistence")
			assert.Empty(t, f.recorder.all())
		})
	}
}

func TestCreate_ZeroAmountAllowed(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeCedula, Purpose: "x", PersonID: personP1,
		Amount: decimal.NewNullDecimal(decimal.Zero),
	})
	require.NoError(t, err)
}

func TestCreate_PersonNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: "33333333-3333-3333-3333-333333333333",
	})
	requireKind(t, err, apperrors.KindNotFound)
}

func TestCreate_PersonLookupFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.persons.err = errors.New("connection reset")
	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
	})
	requireKind(t, err, apperrors.KindInternal)
}

func TestCreate_ActorChecks(t *testing.T) {
	f := newFixture(t, Options{})
	in := CreateInput{Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1}

	_, err := f.svc.Create(context.Background(), "", in)
	requireKind(t, err, apperrors.KindAuthentication)

	_, err = f.svc.Create(context.Background(), inactiveID, in)
	requireKind(t, err, apperrors.KindAuthentication)

	_, err = f.svc.Create(context.Background(), "99999999-9999-9999-9999-999999999999", in)
	requireKind(t, err, apperrors.KindAuthentication)
}

func TestCreate_ResidentScopedToOwnPerson(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Create(context.Background(), residentID, CreateInput{
		Type: models.CertificateTypeResidency, Purpose: "x", PersonID: personP1,
	})
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), residentID, CreateInput{
		Type: models.CertificateTypeResidency, Purpose: "x", PersonID: personOther,
	})
	requireKind(t, err, apperrors.KindAuthorization)

	_, err = f.svc.Create(context.Background(), otherUser, CreateInput{
		Type: models.CertificateTypeResidency, Purpose: "x", PersonID: personP1,
	})
	requireKind(t, err, apperrors.KindAuthorization)
}

func TestCreate_RetriesOnCollision(t *testing.T) {
	gen := &scriptedGenerator{fallback: NewULIDGenerator()}
	f := newFixture(t, Options{Generator: gen})

	first := f.create(t, models.CertificateTypeClearance)
	gen.script = []string{first.ControlNumber, first.ControlNumber}
	gen.calls = 0

	second := f.create(t, models.CertificateTypeClearance)
	assert.NotEqual(t, first.ControlNumber, second.ControlNumber)
	assert.Equal(t, 3, gen.calls)
	assert.Len(t, f.recorder.all(), 2)
}

func TestCreate_CollisionBudgetExhausted(t *testing.T) {
	gen := &scriptedGenerator{script: []string{"CLRTAKEN0000000001"}}
	f := newFixture(t, Options{Generator: gen})
	f.create(t, models.CertificateTypeClearance)

	gen.script = []string{"CLRTAKEN0000000001", "CLRTAKEN0000000001", "CLRTAKEN0000000001",
		"CLRTAKEN0000000001", "CLRTAKEN0000000001", "CLRFRESH0000000001"}
	gen.calls = 0

	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
	})
	requireKind(t, err, apperrors.KindConflict)
	assert.Equal(t, DefaultControlNumberAttempts, gen.calls)
	assert.Len(t, f.recorder.all(), 1, "failed creation must not be audited")
}

func TestCreate_GeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("entropy exhausted")}
	f := newFixture(t, Options{Generator: gen})
	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
	})
	requireKind(t, err, apperrors.KindInternal)
}

func TestCreate_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, Options{})
	f.certs.createErr = errors.New("disk full")
	_, err := f.svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
	})
	requireKind(t, err, apperrors.KindInternal)
	assert.Empty(t, f.recorder.all())
}

func TestCreate_ConcurrentUniqueControlNumbers(t *testing.T) {
	f := newFixture(t, Options{})

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := f.svc.Create(context.Background(), staffID, CreateInput{
				Type: models.CertificateTypes[i%len(models.CertificateTypes)], Purpose: fmt.Sprintf("p%d", i), PersonID: personP1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[req.ControlNumber] = true
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, n)
	assert.Len(t, f.recorder.all(), n)
}

func TestTransition_ScenarioSequence(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	req := f.create(t, models.CertificateTypeIndigency)

	approved, err := f.svc.Transition(ctx, staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusApproved, approved.Status)
	require.NotNil(t, approved.IssuedBy)
	assert.Equal(t, staffID, *approved.IssuedBy)

	_, err = f.svc.Transition(ctx, staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusRequested})
	requireKind(t, err, apperrors.KindConflict)

	remarks := "claimed at the window"
	released, err := f.svc.Transition(ctx, adminID, TransitionInput{
		ID: req.ID, Status: models.CertificateStatusReleased, Remarks: &remarks,
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusReleased, released.Status)
	assert.Equal(t, adminID, *released.IssuedBy)
	assert.Equal(t, remarks, *released.Remarks)

	_, err = f.svc.Transition(ctx, adminID, TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved})
	requireKind(t, err, apperrors.KindConflict)

	view, err := f.svc.Track(ctx, req.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusReleased, view.Status)
	assert.Equal(t, models.CertificateTypeIndigency, view.Type)

	events := f.recorder.all()
	require.Len(t, events, 3, "one create and two successful transitions")
	for _, ev := range events {
		assert.Equal(t, req.ID, ev.EntityID)
	}
	assert.Equal(t, models.AuditActionUpdate, events[1].Action)

	old := events[1].Old.(*models.CertificateRequest)
	updated := events[1].New.(*models.CertificateRequest)
	assert.Equal(t, models.CertificateStatusRequested, old.Status)
	assert.Equal(t, models.CertificateStatusApproved, updated.Status)
}

func TestTransition_TerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []models.CertificateStatus{models.CertificateStatusReleased, models.CertificateStatusRejected} {
		for _, target := range models.CertificateStatuses {
			t.Run(fmt.Sprintf("%s->%s", terminal, target), func(t *testing.T) {
				f := newFixture(t, Options{})
				req := f.create(t, models.CertificateTypeClearance)
				f.certs.byID[req.ID].Status = terminal

				_, err := f.svc.Transition(context.Background(), staffID, TransitionInput{ID: req.ID, Status: target})
				requireKind(t, err, apperrors.KindConflict)
				assert.Equal(t, terminal, f.certs.byID[req.ID].Status)
				assert.Len(t, f.recorder.all(), 1)
			})
		}
	}
}

func TestTransition_RejectFromActiveStates(t *testing.T) {
	for _, from := range []models.CertificateStatus{models.CertificateStatusRequested, models.CertificateStatusApproved} {
		f := newFixture(t, Options{})
		req := f.create(t, models.CertificateTypeClearance)
		f.certs.byID[req.ID].Status = from

		got, err := f.svc.Transition(context.Background(), staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusRejected})
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, models.CertificateStatusRejected, got.Status)
	}
}

func TestTransition_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, staffID, TransitionInput{ID: "not-a-uuid", Status: models.CertificateStatusApproved})
	requireKind(t, err, apperrors.KindValidation)

	_, err = f.svc.Transition(ctx, staffID, TransitionInput{ID: req.ID, Status: "PENDING"})
	requireKind(t, err, apperrors.KindValidation)

	_, err = f.svc.Transition(ctx, staffID, TransitionInput{
		ID: req.ID, Status: models.CertificateStatusApproved,
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(-5)),
	})
	requireKind(t, err, apperrors.KindValidation)

	_, err = f.svc.Transition(ctx, staffID, TransitionInput{ID: personOther, Status: models.CertificateStatusApproved})
	requireKind(t, err, apperrors.KindNotFound)
}

func TestTransition_ActorChecks(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)
	in := TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved}
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, residentID, in)
	requireKind(t, err, apperrors.KindAuthorization)

	_, err = f.svc.Transition(ctx, inactiveID, in)
	requireKind(t, err, apperrors.KindAuthentication)

	_, err = f.svc.Transition(ctx, "", in)
	requireKind(t, err, apperrors.KindAuthentication)

	assert.Equal(t, models.CertificateStatusRequested, f.certs.byID[req.ID].Status)
}

func TestTransition_PaymentFieldsApplied(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeBusinessPermit)
	or := "OR-778"

	got, err := f.svc.Transition(context.Background(), staffID, TransitionInput{
		ID: req.ID, Status: models.CertificateStatusApproved,
		ORNumber: &or, Amount: decimal.NewNullDecimal(decimal.RequireFromString("150.50")),
	})
	require.NoError(t, err)
	assert.Equal(t, "OR-778", *got.ORNumber)
	assert.True(t, got.Amount.Decimal.Equal(decimal.RequireFromString("150.5")))
}

func TestTransition_GuardMissRetries(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)
	f.certs.missGuard = 2

	got, err := f.svc.Transition(context.Background(), staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusApproved, got.Status)
	assert.Equal(t, 3, f.certs.updates)
}

func TestTransition_GuardMissBudgetExhausted(t *testing.T) {
	f := newFixture(t, Options{MaxTransitionAttempts: 2})
	req := f.create(t, models.CertificateTypeClearance)
	f.certs.missGuard = 10

	_, err := f.svc.Transition(context.Background(), staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved})
	requireKind(t, err, apperrors.KindConflict)
	assert.Equal(t, 2, f.certs.updates)
	assert.Len(t, f.recorder.all(), 1)
}

func TestTransition_ConcurrentApprovalsSingleWinner(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transition(context.Background(), staffID, TransitionInput{ID: req.ID, Status: models.CertificateStatusApproved})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperrors.Is(err, apperrors.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.recorder.all(), 2)
}

func TestGet(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)
	ctx := context.Background()

	got, err := f.svc.Get(ctx, staffID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ControlNumber, got.ControlNumber)

	_, err = f.svc.Get(ctx, residentID, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, otherUser, req.ID)
	requireKind(t, err, apperrors.KindAuthorization)

	_, err = f.svc.Get(ctx, staffID, "bad")
	requireKind(t, err, apperrors.KindValidation)

	_, err = f.svc.Get(ctx, staffID, personOther)
	requireKind(t, err, apperrors.KindNotFound)
}

func TestServiceWithoutRecorder(t *testing.T) {
	svc := NewService(Stores{
		Certificates: newMemCertStore(),
		Persons:      &memPersonStore{byID: map[string]*models.Person{personP1: {ID: personP1, FirstName: "A", LastName: "B"}}},
		Users:        &memUserStore{byID: map[string]*models.User{staffID: {ID: staffID, Role: models.RoleStaff, IsActive: true}}},
	}, nil, Options{})

	_, err := svc.Create(context.Background(), staffID, CreateInput{
		Type: models.CertificateTypeClearance, Purpose: "x", PersonID: personP1,
	})
	require.NoError(t, err)
}

func TestCreateAuditSnapshotSerializes(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.create(t, models.CertificateTypeClearance)

	b, err := json.Marshal(f.recorder.all()[0].New)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"controlNumber":"`+req.ControlNumber+`"`)
}
