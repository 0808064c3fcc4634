package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	donordomain "github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
	"github.com/bloodlink/bloodlink-backend/internal/requests/service"
)

type fakeService struct {
	created    domain.Details
	patched    domain.Patch
	acceptedBy string
	claimed    string
	target     domain.Status
	listStatus domain.Status
}

func (f *fakeService) Create(_ context.Context, sess access.Session, d domain.Details) (*domain.Request, error) {
	f.created = d
	return &domain.Request{ID: "r1", RequesterEmail: sess.Email(), DonationStatus: domain.StatusPending}, nil
}

func (f *fakeService) Get(_ context.Context, _ access.Session, id string) (*domain.Request, error) {
	if id != "r1" {
		return nil, errs.NotFound("request %s not found", id)
	}
	return &domain.Request{ID: "r1", DonationStatus: domain.StatusPending}, nil
}

func (f *fakeService) ListByRequester(_ context.Context, _ access.Session, _ string, status domain.Status, page, limit int) (*service.Page, error) {
	f.listStatus = status
	return &service.Page{Items: []domain.Request{}, Page: page, Limit: limit}, nil
}

func (f *fakeService) ListAll(_ context.Context, _ access.Session, _ domain.Status, page, limit int) (*service.Page, error) {
	return &service.Page{Items: []domain.Request{}, Page: page, Limit: limit}, nil
}

func (f *fakeService) Latest(context.Context, access.Session, string) ([]domain.Request, error) {
	return []domain.Request{}, nil
}

func (f *fakeService) Pending(context.Context) ([]domain.Request, error) {
	return []domain.Request{{ID: "r1", DonationStatus: domain.StatusPending}}, nil
}

func (f *fakeService) Update(_ context.Context, _ access.Session, id string, p domain.Patch) (*domain.Request, error) {
	f.patched = p
	return &domain.Request{ID: id}, nil
}

func (f *fakeService) Accept(_ context.Context, sess access.Session, id, claimed string) (*domain.Request, error) {
	f.acceptedBy, f.claimed = sess.Email(), claimed
	return &domain.Request{ID: id, DonationStatus: domain.StatusInProgress, DonorEmail: sess.Email()}, nil
}

func (f *fakeService) Transition(_ context.Context, _ access.Session, id string, target domain.Status) (*domain.Request, error) {
	f.target = target
	if target == domain.StatusDone {
		return nil, errs.Conflict("cannot complete a request that is pending")
	}
	return &domain.Request{ID: id, DonationStatus: target}, nil
}

func (f *fakeService) Delete(context.Context, access.Session, string) error { return nil }

func newTestRouter(t *testing.T, svc RequestService, role donordomain.Role) (*gin.Engine, *events.Bus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	bus := events.NewBus(client, zap.NewNop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc, bus)
	h.RegisterPublic(r)
	authed := r.Group("")
	authed.Use(func(c *gin.Context) {
		id := auth.Identity{UID: "u", Email: "b@example.com"}
		c.Set(access.CtxSession, access.Session{Identity: id, Role: role, Status: donordomain.StatusActive, Registered: true})
	})
	h.Register(authed)
	return r, bus
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreate(t *testing.T) {
	svc := &fakeService{}
	r, _ := newTestRouter(t, svc, donordomain.RoleDonor)

	rr := do(r, http.MethodPost, "/requests", `{"recipientName":"Karim","bloodGroup":"B+","hospitalName":"DMCH"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Karim", svc.created.RecipientName)
	assert.Equal(t, "B+", svc.created.BloodGroup)

	rr = do(r, http.MethodPost, "/requests", `{"donationStatus":"done"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPatch_AcceptOrEdit(t *testing.T) {
	svc := &fakeService{}
	r, _ := newTestRouter(t, svc, donordomain.RoleDonor)

	rr := do(r, http.MethodPatch, "/requests/r1", `{"donationStatus":"inprogress","donorEmail":"b@example.com","donorName":"Bilal"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "b@example.com", svc.acceptedBy)
	assert.Equal(t, "b@example.com", svc.claimed)

	rr = do(r, http.MethodPatch, "/requests/r1", `{"hospitalName":"Square"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.patched.HospitalName)
	assert.Equal(t, "Square", *svc.patched.HospitalName)

	rr = do(r, http.MethodPatch, "/requests/r1", `{"donationStatus":"done"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetStatus(t *testing.T) {
	svc := &fakeService{}
	r, _ := newTestRouter(t, svc, donordomain.RoleVolunteer)

	rr := do(r, http.MethodPatch, "/requests/r1/status", `{"donationStatus":"canceled"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusCanceled, svc.target)

	rr = do(r, http.MethodPatch, "/requests/r1/status", `{"status":"done"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kind":"conflict"`)

	rr = do(r, http.MethodPatch, "/requests/r1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouteGates(t *testing.T) {
	r, _ := newTestRouter(t, &fakeService{}, donordomain.RoleDonor)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/requests/all", "").Code)

	r, _ = newTestRouter(t, &fakeService{}, donordomain.RoleVolunteer)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/requests/all?donationStatus=pending", "").Code)
}

func TestPublicPendingAndListing(t *testing.T) {
	svc := &fakeService{}
	r, _ := newTestRouter(t, svc, donordomain.RoleDonor)

	rr := do(r, http.MethodGet, "/requests/pending?donationStatus=pending", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out []domain.Request
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Len(t, out, 1)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/requests/pending?donationStatus=done", "").Code)

	rr = do(r, http.MethodGet, "/requests?donationStatus=inprogress&page=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, domain.StatusInProgress, svc.listStatus)
	assert.Contains(t, rr.Body.String(), `"page":2`)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/requests/missing", "").Code)
}

func TestStream(t *testing.T) {
	KeepAliveInterval = 20 * time.Millisecond
	r, bus := newTestRouter(t, &fakeService{}, donordomain.RoleDonor)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/requests/r1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: initial")
	waitFor(": keep-alive")

	ctx := context.Background()
	bus.Publish(ctx, events.Event{Type: events.TypeTransition, RequestID: "r1", Status: domain.StatusInProgress})
	waitFor("event: transition")
	data := waitFor("data: ")
	assert.Contains(t, data, `"donationStatus":"inprogress"`)

	bus.Publish(ctx, events.Event{Type: events.TypeDeleted, RequestID: "r1"})
	waitFor("event: deleted")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not end after delete")
		}
	}
}

func TestStream_UnknownRequest(t *testing.T) {
	r, _ := newTestRouter(t, &fakeService{}, donordomain.RoleDonor)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/requests/nope/events", "").Code)
}
