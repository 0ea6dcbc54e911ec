package gate

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"tiketku/internal/logger"
	"tiketku/internal/models"
)

func setupService(t *testing.T) (*Service, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	err = bunDB.ResetModel(context.Background(),
		(*models.Event)(nil),
		(*models.TicketType)(nil),
		(*models.Ticket)(nil),
		(*models.GateEntry)(nil),
		(*models.GateScan)(nil),
	)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	log := logger.NewLogger()
	t.Cleanup(func() { log.Close() })
	return NewService(bunDB, nil, log), bunDB
}

// seedVenue creates a running event with one gate and one ACTIVE ticket.
func seedVenue(t *testing.T, bunDB *bun.DB) (ticketQR string, gateID string) {
	t.Helper()
	ctx := context.Background()

	event := &models.Event{
		ID:          "evt-1",
		Title:       "Konser Amal",
		Venue:       "Balai Sarbini",
		StartDate:   time.Now().Add(-time.Hour),
		EndDate:     time.Now().Add(3 * time.Hour),
		MaxCapacity: 100,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	_, err := bunDB.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	tt := &models.TicketType{
		ID:          "tt-1",
		EventID:     event.ID,
		Name:        "Festival",
		Price:       200000,
		MaxQuantity: 100,
	}
	_, err = bunDB.NewInsert().Model(tt).Exec(ctx)
	require.NoError(t, err)

	gate := &models.GateEntry{
		ID:        "gate-1",
		EventID:   event.ID,
		Name:      "Pintu Utara",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	_, err = bunDB.NewInsert().Model(gate).Exec(ctx)
	require.NoError(t, err)

	ticket := &models.Ticket{
		ID:           "tkt-1",
		OrderID:      "ord-1",
		UserID:       "user-1",
		TicketTypeID: tt.ID,
		EventID:      event.ID,
		QRCode:       "TKT-abc123",
		Status:       models.TicketActive,
		CreatedAt:    time.Now(),
	}
	_, err = bunDB.NewInsert().Model(ticket).Exec(ctx)
	require.NoError(t, err)

	return ticket.QRCode, gate.ID
}

func ticketStatus(t *testing.T, bunDB *bun.DB, ticketID string) models.TicketStatus {
	t.Helper()
	var ticket models.Ticket
	require.NoError(t, bunDB.NewSelect().Model(&ticket).Where("t.id = ?", ticketID).Scan(context.Background()))
	return ticket.Status
}

func TestValidateAdmitsActiveTicket(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, gateID := seedVenue(t, bunDB)

	result, err := service.Validate(context.Background(), qrCode, gateID)
	require.NoError(t, err)

	assert.Equal(t, "tkt-1", result.TicketID)
	assert.Equal(t, "Konser Amal", result.EventTitle)
	assert.Equal(t, "Pintu Utara", result.GateName)
	assert.Equal(t, models.TicketUsed, ticketStatus(t, bunDB, "tkt-1"))

	scans, err := service.RecentScans(context.Background(), gateID, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.True(t, scans[0].IsValid)
}

func TestValidateRejectsSecondScanAnywhere(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, gateID := seedVenue(t, bunDB)
	ctx := context.Background()

	// Second gate of the same event.
	gate2 := &models.GateEntry{
		ID: "gate-2", EventID: "evt-1", Name: "Pintu Selatan", IsActive: true, CreatedAt: time.Now(),
	}
	_, err := bunDB.NewInsert().Model(gate2).Exec(ctx)
	require.NoError(t, err)

	_, err = service.Validate(ctx, qrCode, gateID)
	require.NoError(t, err)

	// Same code at a different gate: used is used, system-wide.
	_, err = service.Validate(ctx, qrCode, "gate-2")
	var notActive *NotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, models.TicketUsed, notActive.Status)

	scans, err := service.RecentScans(ctx, "gate-2", 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.False(t, scans[0].IsValid, "rejected attempt is still recorded")
}

func TestValidateConcurrentScansAdmitOnce(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, gateID := seedVenue(t, bunDB)
	ctx := context.Background()

	const scanners = 5
	var wg sync.WaitGroup
	errs := make([]error, scanners)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.Validate(ctx, qrCode, gateID)
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted, "the same code admits exactly one person")
	assert.Equal(t, models.TicketUsed, ticketStatus(t, bunDB, "tkt-1"))
}

func TestValidateRejectsForeignGate(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, _ := seedVenue(t, bunDB)
	ctx := context.Background()

	other := &models.Event{
		ID: "evt-2", Title: "Acara Lain", Venue: "Tempat Lain",
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(time.Hour),
		MaxCapacity: 10, IsActive: true, CreatedAt: time.Now(),
	}
	_, err := bunDB.NewInsert().Model(other).Exec(ctx)
	require.NoError(t, err)
	foreignGate := &models.GateEntry{
		ID: "gate-x", EventID: "evt-2", Name: "Pintu Lain", IsActive: true, CreatedAt: time.Now(),
	}
	_, err = bunDB.NewInsert().Model(foreignGate).Exec(ctx)
	require.NoError(t, err)

	_, err = service.Validate(ctx, qrCode, "gate-x")
	assert.ErrorIs(t, err, ErrWrongGate)
	assert.Equal(t, models.TicketActive, ticketStatus(t, bunDB, "tkt-1"), "rejection leaves the ticket usable")
}

func TestValidateRejectsInactiveGateAndUnknowns(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, gateID := seedVenue(t, bunDB)
	ctx := context.Background()

	_, err := service.Validate(ctx, "no-such-code", gateID)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = service.Validate(ctx, "   ", gateID)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = bunDB.NewUpdate().Model((*models.GateEntry)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", gateID).
		Exec(ctx)
	require.NoError(t, err)

	// A deactivated gate behaves like a missing one.
	_, err = service.Validate(ctx, qrCode, gateID)
	assert.ErrorIs(t, err, ErrGateNotFound)
}

func TestValidateRespectsEventWindow(t *testing.T) {
	service, bunDB := setupService(t)
	qrCode, gateID := seedVenue(t, bunDB)
	ctx := context.Background()

	service.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, err := service.Validate(ctx, qrCode, gateID)
	assert.ErrorIs(t, err, ErrEventNotStarted)

	service.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	_, err = service.Validate(ctx, qrCode, gateID)
	assert.ErrorIs(t, err, ErrEventEnded)

	assert.Equal(t, models.TicketActive, ticketStatus(t, bunDB, "tkt-1"))
}

func TestCreateAndListGates(t *testing.T) {
	service, bunDB := setupService(t)
	seedVenue(t, bunDB)
	ctx := context.Background()

	created, err := service.CreateGate(ctx, "evt-1", "Pintu Barat", "Sisi parkir")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	gates, err := service.ListGates(ctx, "evt-1")
	require.NoError(t, err)
	assert.Len(t, gates, 2)
}
