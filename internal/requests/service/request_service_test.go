package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	donordomain "github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/geo"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
)

// memRepo mirrors the conditional-update semantics of the Postgres repository.
type memRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Request
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]*domain.Request{}} }

func (m *memRepo) Create(_ context.Context, req *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = uuid.New().String()
	req.DonationStatus = domain.StatusPending
	req.CreatedAt = time.Now().Add(time.Duration(len(m.rows)) * time.Millisecond)
	cp := *req
	m.rows[req.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, errs.NotFound("request %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, f domain.Filter) ([]domain.Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, r := range m.rows {
		if f.RequesterEmail != "" && r.RequesterEmail != f.RequesterEmail {
			continue
		}
		if f.Status != "" && r.DonationStatus != f.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *memRepo) Latest(ctx context.Context, email string) ([]domain.Request, error) {
	out, _, _ := m.List(ctx, domain.Filter{RequesterEmail: email})
	if len(out) > 3 {
		out = out[:3]
	}
	return out, nil
}

func (m *memRepo) Pending(ctx context.Context) ([]domain.Request, error) {
	out, _, _ := m.List(ctx, domain.Filter{Status: domain.StatusPending})
	return out, nil
}

func (m *memRepo) UpdateDetails(_ context.Context, id string, d domain.Details) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, errs.NotFound("request %s not found", id)
	}
	if !r.DonationStatus.Editable() {
		return nil, errs.Conflict("cannot edit a request that is %s", r.DonationStatus)
	}
	r.SetDetails(d)
	cp := *r
	return &cp, nil
}

func (m *memRepo) Transition(_ context.Context, id string, from, to domain.Status, a *domain.Assignee) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, errs.NotFound("request %s not found", id)
	}
	if r.DonationStatus != from {
		return nil, errs.Conflict("cannot move to %s a request that is %s", to, r.DonationStatus)
	}
	r.DonationStatus = to
	if a != nil {
		r.DonorName, r.DonorEmail = a.Name, a.Email
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return errs.NotFound("request %s not found", id)
	}
	delete(m.rows, id)
	return nil
}

func (m *memRepo) CountByStatus(context.Context) (map[domain.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.Status]int{}
	for _, r := range m.rows {
		out[r.DonationStatus]++
	}
	return out, nil
}

type donorBook struct {
	mu     sync.Mutex
	donors map[string]*donordomain.Donor
}

func (b *donorBook) add(email, name string, role donordomain.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.donors[email] = &donordomain.Donor{Email: email, Name: name, Role: role, Status: donordomain.StatusActive}
}

func (b *donorBook) block(email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.donors[email].Status = donordomain.StatusBlocked
}

func (b *donorBook) GetByEmail(_ context.Context, email string) (*donordomain.Donor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.donors[email]
	if !ok {
		return nil, errs.NotFound("donor %s not found", email)
	}
	cp := *d
	return &cp, nil
}

func (b *donorBook) session(email string) access.Session {
	d, err := b.GetByEmail(context.Background(), email)
	if err != nil {
		return access.Session{Identity: auth.Identity{Email: email}, Role: donordomain.RoleDonor, Status: donordomain.StatusActive}
	}
	return access.Session{Identity: auth.Identity{Email: email, Name: d.Name}, Role: d.Role, Status: d.Status, Registered: true}
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordTransition(action, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[action+"/"+outcome]++
}

type fixture struct {
	svc     *RequestService
	repo    *memRepo
	book    *donorBook
	bus     *recordingBus
	metrics *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog, err := geo.Load()
	require.NoError(t, err)
	f := &fixture{
		repo:    newMemRepo(),
		book:    &donorBook{donors: map[string]*donordomain.Donor{}},
		bus:     &recordingBus{},
		metrics: &countingRecorder{counts: map[string]int{}},
	}
	f.book.add("a@example.com", "Asha", donordomain.RoleDonor)
	f.book.add("b@example.com", "Bilal", donordomain.RoleDonor)
	f.book.add("c@example.com", "Chan", donordomain.RoleDonor)
	f.book.add("v@example.com", "Vera", donordomain.RoleVolunteer)
	f.book.add("admin@example.com", "Ada", donordomain.RoleAdmin)
	f.svc = NewRequestService(f.repo, f.book, catalog, f.bus, f.metrics, zap.NewNop())
	return f
}

func details(bg string) domain.Details {
	return domain.Details{
		RecipientName:     "Karim",
		RecipientDistrict: "dhaka",
		RecipientUpazila:  "savar",
		FullAddress:       "House 3, Road 7",
		HospitalName:      "Dhaka Medical College Hospital",
		BloodGroup:        bg,
		DonationDate:      "2026-11-01",
		DonationTime:      "10:30",
		RequestMessage:    "Needed before surgery",
	}
}

func (f *fixture) create(t *testing.T, email string) *domain.Request {
	t.Helper()
	req, err := f.svc.Create(context.Background(), f.book.session(email), details("B+"))
	require.NoError(t, err)
	return req
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.create(t, "a@example.com")
	assert.Equal(t, domain.StatusPending, req.DonationStatus)
	assert.Equal(t, "Asha", req.RequesterName)
	assert.Equal(t, "a@example.com", req.RequesterEmail)
	assert.Equal(t, "Dhaka", req.RecipientDistrict)
	assert.Equal(t, "Savar", req.RecipientUpazila)
	assert.Empty(t, req.DonorEmail)
	require.Len(t, f.bus.events, 1)
	assert.Equal(t, events.TypeCreated, f.bus.events[0].Type)

	bad := details("B+")
	bad.DonationDate = "01/11/2026"
	_, err := f.svc.Create(ctx, f.book.session("a@example.com"), bad)
	assert.ErrorIs(t, err, errs.ErrValidation)

	bad = details("X")
	_, err = f.svc.Create(ctx, f.book.session("a@example.com"), bad)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.svc.Create(ctx, f.book.session("stranger@example.com"), details("B+"))
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestCreate_BlockedUsesFreshRecord(t *testing.T) {
	f := newFixture(t)
	stale := f.book.session("a@example.com")
	f.book.block("a@example.com")

	_, err := f.svc.Create(context.Background(), stale, details("B+"))
	assert.ErrorIs(t, err, errs.ErrForbidden)
}

func TestCreateAndAccept_BlockedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "a@example.com")

	blocked := f.book.session("b@example.com")
	blocked.Status = donordomain.StatusBlocked

	_, err := f.svc.Create(ctx, blocked, details("O-"))
	assert.ErrorIs(t, err, errs.ErrForbidden)
	_, err = f.svc.Accept(ctx, blocked, req.ID, "")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	stored, _ := f.repo.Get(ctx, req.ID)
	assert.Equal(t, domain.StatusPending, stored.DonationStatus)
}

func TestAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("stamps donor atomically with status", func(t *testing.T) {
		f := newFixture(t)
		req := f.create(t, "a@example.com")

		got, err := f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, got.DonationStatus)
		assert.Equal(t, "Bilal", got.DonorName)
		assert.Equal(t, "b@example.com", got.DonorEmail)
		assert.Equal(t, 1, f.metrics.counts["accept/ok"])
	})

	t.Run("requester cannot accept own request", func(t *testing.T) {
		f := newFixture(t)
		req := f.create(t, "a@example.com")

		_, err := f.svc.Accept(ctx, f.book.session("a@example.com"), req.ID, "")
		assert.ErrorIs(t, err, errs.ErrForbidden)
		stored, _ := f.repo.Get(ctx, req.ID)
		assert.Equal(t, domain.StatusPending, stored.DonationStatus)
		assert.Empty(t, stored.DonorEmail)
	})

	t.Run("claimed email must be the caller", func(t *testing.T) {
		f := newFixture(t)
		req := f.create(t, "a@example.com")

		_, err := f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "c@example.com")
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("second accept conflicts and leaves donor unchanged", func(t *testing.T) {
		f := newFixture(t)
		req := f.create(t, "a@example.com")
		_, err := f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "")
		require.NoError(t, err)

		_, err = f.svc.Accept(ctx, f.book.session("c@example.com"), req.ID, "")
		assert.ErrorIs(t, err, errs.ErrConflict)
		stored, _ := f.repo.Get(ctx, req.ID)
		assert.Equal(t, "b@example.com", stored.DonorEmail)
		assert.Equal(t, 1, f.metrics.counts["accept/conflict"])
	})

	t.Run("unregistered or blocked callers cannot accept", func(t *testing.T) {
		f := newFixture(t)
		req := f.create(t, "a@example.com")

		_, err := f.svc.Accept(ctx, f.book.session("ghost@example.com"), req.ID, "")
		assert.ErrorIs(t, err, errs.ErrForbidden)

		f.book.block("c@example.com")
		_, err = f.svc.Accept(ctx, f.book.session("c@example.com"), req.ID, "")
		assert.ErrorIs(t, err, errs.ErrForbidden)
	})
}

func TestAccept_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "a@example.com")

	const n = 10
	for i := 0; i < n; i++ {
		f.book.add(fmt.Sprintf("d%d@example.com", i), fmt.Sprintf("Donor %d", i), donordomain.RoleDonor)
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Accept(ctx, f.book.session(fmt.Sprintf("d%d@example.com", i)), req.ID, "")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)

	stored, _ := f.repo.Get(ctx, req.ID)
	assert.Equal(t, domain.StatusInProgress, stored.DonationStatus)
	assert.NotEmpty(t, stored.DonorEmail)
}

func TestTransition_Permissions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		actor  string
		target domain.Status
		want   error
	}{
		{"owner completes", "a@example.com", domain.StatusDone, nil},
		{"owner cancels", "a@example.com", domain.StatusCanceled, nil},
		{"volunteer completes", "v@example.com", domain.StatusDone, nil},
		{"admin cancels", "admin@example.com", domain.StatusCanceled, nil},
		{"assigned donor cannot complete", "b@example.com", domain.StatusDone, errs.ErrForbidden},
		{"other donor cannot cancel", "c@example.com", domain.StatusCanceled, errs.ErrForbidden},
		{"pending is not a target", "admin@example.com", domain.StatusPending, errs.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.create(t, "a@example.com")
			_, err := f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "")
			require.NoError(t, err)

			got, err := f.svc.Transition(ctx, f.book.session(tc.actor), req.ID, tc.target)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, got.DonationStatus)
			assert.Equal(t, "b@example.com", got.DonorEmail)
		})
	}
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.book.session("admin@example.com")

	req := f.create(t, "a@example.com")
	_, err := f.svc.Transition(ctx, admin, req.ID, domain.StatusDone)
	assert.ErrorIs(t, err, errs.ErrConflict, "pending cannot jump to done")

	_, err = f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, admin, req.ID, domain.StatusCanceled)
	require.NoError(t, err)

	for _, target := range []domain.Status{domain.StatusDone, domain.StatusCanceled, domain.StatusInProgress} {
		_, err = f.svc.Transition(ctx, admin, req.ID, target)
		assert.ErrorIs(t, err, errs.ErrConflict, "canceled -> %s", target)
	}
	_, err = f.svc.Update(ctx, admin, req.ID, domain.Patch{})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, "a@example.com")
	hospital := "Square Hospital"

	_, err := f.svc.Update(ctx, f.book.session("b@example.com"), req.ID, domain.Patch{HospitalName: &hospital})
	assert.ErrorIs(t, err, errs.ErrForbidden)

	got, err := f.svc.Update(ctx, f.book.session("v@example.com"), req.ID, domain.Patch{HospitalName: &hospital})
	require.NoError(t, err)
	assert.Equal(t, "Square Hospital", got.HospitalName)
	assert.Equal(t, "a@example.com", got.RequesterEmail)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.book.session("v@example.com"), req.ID), errs.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, f.book.session("a@example.com"), req.ID))
	_, err = f.svc.Get(ctx, f.book.session("a@example.com"), req.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	other := f.create(t, "b@example.com")
	require.NoError(t, f.svc.Delete(ctx, f.book.session("admin@example.com"), other.ID))
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.create(t, "a@example.com")
	}
	f.create(t, "b@example.com")

	latest, err := f.svc.Latest(ctx, f.book.session("a@example.com"), "")
	require.NoError(t, err)
	assert.Len(t, latest, 3)

	_, err = f.svc.Latest(ctx, f.book.session("b@example.com"), "a@example.com")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	mine, err := f.svc.ListByRequester(ctx, f.book.session("a@example.com"), "", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, mine.Total)

	_, err = f.svc.ListAll(ctx, f.book.session("a@example.com"), "", 1, 10)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	all, err := f.svc.ListAll(ctx, f.book.session("v@example.com"), domain.StatusPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)

	_, err = f.svc.ListAll(ctx, f.book.session("v@example.com"), domain.Status("lost"), 1, 10)
	assert.ErrorIs(t, err, errs.ErrValidation)

	pending, err := f.svc.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

// A creates, B accepts, a volunteer completes, C's late accept fails.
func TestScenario_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.create(t, "a@example.com")
	assert.Equal(t, domain.StatusPending, req.DonationStatus)

	accepted, err := f.svc.Accept(ctx, f.book.session("b@example.com"), req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, accepted.DonationStatus)
	assert.Equal(t, "b@example.com", accepted.DonorEmail)

	done, err := f.svc.Transition(ctx, f.book.session("v@example.com"), req.ID, domain.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, done.DonationStatus)
	assert.Equal(t, "Bilal", done.DonorName)
	assert.Equal(t, "b@example.com", done.DonorEmail)

	_, err = f.svc.Accept(ctx, f.book.session("c@example.com"), req.ID, "")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

// A blocked donor cannot create but still manages existing requests.
func TestScenario_BlockedDonor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book.add("d@example.com", "Dina", donordomain.RoleDonor)

	existing := f.create(t, "d@example.com")
	f.book.block("d@example.com")
	sess := f.book.session("d@example.com")

	_, err := f.svc.Create(ctx, sess, details("O-"))
	assert.ErrorIs(t, err, errs.ErrForbidden)

	mine, err := f.svc.ListByRequester(ctx, sess, "", "", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, mine.Total)
	assert.Equal(t, existing.ID, mine.Items[0].ID)

	msg := "still needed"
	_, err = f.svc.Update(ctx, sess, existing.ID, domain.Patch{RequestMessage: &msg})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, sess, existing.ID))
}
