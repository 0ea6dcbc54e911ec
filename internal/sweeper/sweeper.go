package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"tiketku/internal/logger"
	"tiketku/internal/models"
	"tiketku/internal/settlement"
)

// lockKey guards against overlapping sweeps when several instances run.
const lockKey = "tiketku:sweep:lock"

// OrderStore finds the orders whose payment window has lapsed.
type OrderStore interface {
	FindExpiredPending(ctx context.Context, now time.Time) ([]models.Order, error)
}

// Settler resolves a pending order to a terminal status.
type Settler interface {
	Settle(ctx context.Context, orderID string, outcome models.PaymentOutcome, externalRef string) (*settlement.Receipt, error)
}

// GatewayChecker queries the payment gateway for the live transaction
// status of an order. Optional; when set, the sweeper re-checks before
// cancelling so a paid-but-unnotified order settles PAID.
type GatewayChecker interface {
	GetTransactionStatus(ctx context.Context, orderID string) (*models.MidtransNotification, error)
	MapTransactionStatus(transactionStatus, fraudStatus string) models.PaymentOutcome
}

// Report summarizes one sweep pass.
type Report struct {
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}

type Sweeper struct {
	Orders  OrderStore
	Settler Settler
	Gateway GatewayChecker
	Redis   *redis.Client
	Logger  *logger.Logger
}

func New(orders OrderStore, settler Settler, gateway GatewayChecker, rdb *redis.Client, log *logger.Logger) *Sweeper {
	return &Sweeper{Orders: orders, Settler: settler, Gateway: gateway, Redis: rdb, Logger: log}
}

// Sweep cancels every order whose payment window lapsed. One failing
// order never aborts the batch; an order another caller settled in the
// meantime counts as success.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{StartedAt: started}

	expired, err := s.Orders.FindExpiredPending(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	report.Processed = len(expired)

	for i := range expired {
		order := &expired[i]
		if err := s.sweepOne(ctx, order); err != nil {
			report.Failed++
			s.Logger.Error("SWEEP", fmt.Sprintf("failed to expire order %s: %v", order.ID, err))
			continue
		}
		report.Succeeded++
	}

	report.Duration = time.Since(started).String()
	s.Logger.LogSweep(fmt.Sprintf("pass done: processed=%d succeeded=%d failed=%d in %s",
		report.Processed, report.Succeeded, report.Failed, report.Duration))
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, order *models.Order) error {
	outcome := models.OutcomeCancelled
	externalRef := ""

	// An order can be paid at the gateway while its notification is still
	// in flight. Ask before cancelling; an unreachable gateway falls back
	// to cancellation, the webhook retry will surface the payment later.
	if s.Gateway != nil {
		status, err := s.Gateway.GetTransactionStatus(ctx, order.ID)
		if err == nil {
			mapped := s.Gateway.MapTransactionStatus(status.TransactionStatus, status.FraudStatus)
			if mapped == models.OutcomePaid {
				outcome = models.OutcomePaid
				externalRef = status.TransactionID
				s.Logger.LogSweep(fmt.Sprintf("order %s paid at gateway, settling PAID instead of expiring", order.ID))
			}
		}
	}

	_, err := s.Settler.Settle(ctx, order.ID, outcome, externalRef)
	var settled *settlement.AlreadySettledError
	if errors.As(err, &settled) {
		// Lost the race to a webhook or a user action. Fine.
		return nil
	}
	return err
}

// Run loops the sweep on a ticker until the context is cancelled. When a
// Redis client is present, a SETNX lock keeps concurrent instances from
// sweeping simultaneously.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.Logger.LogSweep(fmt.Sprintf("sweeper started, interval %s", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.LogSweep("sweeper stopped")
			return
		case <-ticker.C:
			if !s.acquireLock(ctx, interval) {
				continue
			}
			if _, err := s.Sweep(ctx); err != nil {
				s.Logger.Error("SWEEP", fmt.Sprintf("sweep pass failed: %v", err))
			}
			s.releaseLock(ctx)
		}
	}
}

func (s *Sweeper) acquireLock(ctx context.Context, ttl time.Duration) bool {
	if s.Redis == nil {
		return true
	}
	ok, err := s.Redis.SetNX(ctx, lockKey, time.Now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		// Redis down. Sweep anyway; settlement is idempotent.
		return true
	}
	if !ok {
		s.Logger.LogSweep("another instance holds the sweep lock, skipping pass")
	}
	return ok
}

func (s *Sweeper) releaseLock(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, lockKey)
}

// Handler exposes the sweep as an HTTP endpoint for external schedulers.
// Mount it behind the cron secret middleware.
func (s *Sweeper) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Sweep(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}
