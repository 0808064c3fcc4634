package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
)

var requestCols = []string{"id", "requester_name", "requester_email", "recipient_name", "recipient_district",
	"recipient_upazila", "full_address", "hospital_name", "blood_group", "donation_date", "donation_time",
	"request_message", "donor_name", "donor_email", "donation_status", "created_at", "updated_at"}

func newRepo(t *testing.T) (*RequestRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRequestRepository(mock), mock
}

func requestRow(id, status, donorEmail string) []any {
	now := time.Now()
	return []any{id, "Asha", "asha@example.com", "Karim", "Dhaka", "Savar", "Road 1", "DMCH", "B+",
		"2026-11-01", "10:00", "urgent", "", donorEmail, status, now, now}
}

func TestRequestRepository_Create(t *testing.T) {
	repo, mock := newRepo(t)

	req := &domain.Request{RequesterName: "Asha", RequesterEmail: "asha@example.com", BloodGroup: "B+",
		DonorEmail: "ignored@example.com"}
	mock.ExpectQuery(`INSERT INTO donation_requests`).
		WithArgs(pgxmock.AnyArg(), "Asha", "asha@example.com", "", "", "", "", "", "B+", "", "", "", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

	require.NoError(t, repo.Create(context.Background(), req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.StatusPending, req.DonationStatus)
	assert.Empty(t, req.DonorEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepository_Transition(t *testing.T) {
	ctx := context.Background()
	id := uuid.New().String()

	t.Run("accept stamps donor in the same statement", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`UPDATE donation_requests\s+SET donation_status = \$3, donor_name = \$4, donor_email = \$5`).
			WithArgs(id, "pending", "inprogress", "Bilal", "bilal@example.com").
			WillReturnRows(pgxmock.NewRows(requestCols).AddRow(requestRow(id, "inprogress", "bilal@example.com")...))

		got, err := repo.Transition(ctx, id, domain.StatusPending, domain.StatusInProgress,
			&domain.Assignee{Name: "Bilal", Email: "bilal@example.com"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInProgress, got.DonationStatus)
		assert.Equal(t, "bilal@example.com", got.DonorEmail)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race is a conflict", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`UPDATE donation_requests`).
			WithArgs(id, "pending", "inprogress", "Chan", "chan@example.com").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT donation_status FROM donation_requests WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"donation_status"}).AddRow("inprogress"))

		_, err := repo.Transition(ctx, id, domain.StatusPending, domain.StatusInProgress,
			&domain.Assignee{Name: "Chan", Email: "chan@example.com"})
		assert.ErrorIs(t, err, errs.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing request is not found", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectQuery(`UPDATE donation_requests`).
			WithArgs(id, "inprogress", "done").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT donation_status`).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Transition(ctx, id, domain.StatusInProgress, domain.StatusDone, nil)
		assert.ErrorIs(t, err, errs.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id never reaches the database", func(t *testing.T) {
		repo, mock := newRepo(t)
		_, err := repo.Transition(ctx, "nope", domain.StatusInProgress, domain.StatusDone, nil)
		assert.ErrorIs(t, err, errs.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRequestRepository_UpdateDetails(t *testing.T) {
	repo, mock := newRepo(t)
	id := uuid.New().String()

	mock.ExpectQuery(`UPDATE donation_requests\s+SET recipient_name`).
		WithArgs(id, "Karim", "Dhaka", "Savar", "Road 1", "DMCH", "B+", "2026-11-01", "10:00", "", "pending", "inprogress").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT donation_status`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"donation_status"}).AddRow("done"))

	_, err := repo.UpdateDetails(context.Background(), id, domain.Details{
		RecipientName: "Karim", RecipientDistrict: "Dhaka", RecipientUpazila: "Savar", FullAddress: "Road 1",
		HospitalName: "DMCH", BloodGroup: "B+", DonationDate: "2026-11-01", DonationTime: "10:00",
	})
	assert.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepository_ListAndLatest(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()
	id := uuid.New().String()

	mock.ExpectQuery(`SELECT count\(\*\) FROM donation_requests WHERE requester_email = \$1 AND donation_status = \$2`).
		WithArgs("asha@example.com", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("asha@example.com", "pending", 10, 10).
		WillReturnRows(pgxmock.NewRows(requestCols).AddRow(requestRow(id, "pending", "")...))

	items, total, err := repo.List(ctx, domain.Filter{RequesterEmail: "asha@example.com", Status: domain.StatusPending, Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, items, 1)

	mock.ExpectQuery(`WHERE requester_email = \$1\s+ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("asha@example.com", LatestLimit).
		WillReturnRows(pgxmock.NewRows(requestCols))
	latest, err := repo.Latest(ctx, "asha@example.com")
	require.NoError(t, err)
	assert.Empty(t, latest)
	assert.NotNil(t, latest)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepository_Delete(t *testing.T) {
	repo, mock := newRepo(t)
	id := uuid.New().String()

	mock.ExpectExec(`DELETE FROM donation_requests WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.Delete(context.Background(), id))

	mock.ExpectExec(`DELETE FROM donation_requests`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), id), errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepository_CountByStatus(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectQuery(`GROUP BY donation_status`).
		WillReturnRows(pgxmock.NewRows([]string{"donation_status", "count"}).AddRow("pending", 4).AddRow("done", 2))

	got, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int{
		domain.StatusPending: 4, domain.StatusInProgress: 0, domain.StatusDone: 2, domain.StatusCanceled: 0,
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
