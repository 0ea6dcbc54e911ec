package inventory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"tiketku/internal/models"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	// A single connection serializes concurrent transactions, standing in
	// for the row locks Postgres provides.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	err = bunDB.ResetModel(context.Background(),
		(*models.Event)(nil),
		(*models.TicketType)(nil),
	)
	require.NoError(t, err)

	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func seedEvent(t *testing.T, db *bun.DB, eventCapacity, typeQuantity int) (string, string) {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		ID:          "evt-1",
		Title:       "Konser Akhir Tahun",
		Venue:       "Stadion Utama",
		StartDate:   time.Now().Add(24 * time.Hour),
		EndDate:     time.Now().Add(30 * time.Hour),
		MaxCapacity: eventCapacity,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	_, err := db.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	tt := &models.TicketType{
		ID:          "tt-1",
		EventID:     event.ID,
		Name:        "Regular",
		Price:       150000,
		MaxQuantity: typeQuantity,
	}
	_, err = db.NewInsert().Model(tt).Exec(ctx)
	require.NoError(t, err)

	return event.ID, tt.ID
}

func soldCount(t *testing.T, db *bun.DB, ticketTypeID string) int {
	t.Helper()
	var tt models.TicketType
	err := db.NewSelect().Model(&tt).Where("id = ?", ticketTypeID).Scan(context.Background())
	require.NoError(t, err)
	return tt.SoldQuantity
}

func TestReserveAndRelease(t *testing.T) {
	db := setupTestDB(t)
	_, ttID := seedEvent(t, db, 100, 10)
	ledger := NewLedger(nil)
	ctx := context.Background()

	require.NoError(t, ledger.Reserve(ctx, db, ttID, 3))
	assert.Equal(t, 3, soldCount(t, db, ttID))

	require.NoError(t, ledger.Release(ctx, db, ttID, 3))
	assert.Equal(t, 0, soldCount(t, db, ttID))

	av, err := ledger.Availability(ctx, db, ttID)
	require.NoError(t, err)
	assert.Equal(t, 10, av.Available)
	assert.Equal(t, 0, av.Sold)
	assert.Equal(t, "Konser Akhir Tahun", av.EventTitle)
}

func TestReserveRejectsOverCommit(t *testing.T) {
	db := setupTestDB(t)
	_, ttID := seedEvent(t, db, 100, 10)
	ledger := NewLedger(nil)
	ctx := context.Background()

	// 8 seats taken, then 3 and 2 both want the last 2.
	require.NoError(t, ledger.Reserve(ctx, db, ttID, 8))

	err := ledger.Reserve(ctx, db, ttID, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 8, soldCount(t, db, ttID), "failed reservation must not change the count")

	require.NoError(t, ledger.Reserve(ctx, db, ttID, 2))
	assert.Equal(t, 10, soldCount(t, db, ttID))

	err = ledger.Reserve(ctx, db, ttID, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveRespectsEventCapacity(t *testing.T) {
	db := setupTestDB(t)
	// The tier alone would allow 10 but the venue only holds 5.
	_, ttID := seedEvent(t, db, 5, 10)
	ledger := NewLedger(nil)
	ctx := context.Background()

	require.NoError(t, ledger.Reserve(ctx, db, ttID, 5))

	err := ledger.Reserve(ctx, db, ttID, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestReserveUnknownTicketType(t *testing.T) {
	db := setupTestDB(t)
	seedEvent(t, db, 100, 10)
	ledger := NewLedger(nil)

	err := ledger.Reserve(context.Background(), db, "no-such-type", 1)
	assert.ErrorIs(t, err, ErrTicketTypeNotFound)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	db := setupTestDB(t)
	_, ttID := seedEvent(t, db, 100, 10)
	ledger := NewLedger(nil)
	ctx := context.Background()

	// 20 buyers race for 10 seats, one seat each.
	const buyers = 20
	var wg sync.WaitGroup
	results := make(chan error, buyers)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
				return ledger.Reserve(ctx, tx, ttID, 1)
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrInsufficientStock):
			lost++
		default:
			t.Fatalf("unexpected reservation error: %v", err)
		}
	}

	assert.Equal(t, 10, won)
	assert.Equal(t, 10, lost)
	assert.Equal(t, 10, soldCount(t, db, ttID))
}

func TestReleaseClampsAtZero(t *testing.T) {
	db := setupTestDB(t)
	_, ttID := seedEvent(t, db, 100, 10)
	ledger := NewLedger(nil)
	ctx := context.Background()

	require.NoError(t, ledger.Reserve(ctx, db, ttID, 2))
	require.NoError(t, ledger.Release(ctx, db, ttID, 5))
	assert.Equal(t, 0, soldCount(t, db, ttID), "release never drives the count negative")
}
