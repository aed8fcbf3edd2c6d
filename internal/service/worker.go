package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/payrecon/internal/bank"
	"github.com/mmeshcher/payrecon/internal/matcher"
	"github.com/mmeshcher/payrecon/internal/metrics"
	"github.com/mmeshcher/payrecon/internal/model"
	"github.com/mmeshcher/payrecon/internal/vault"
)

const (
	// DefaultInterval период между циклами сверки.
	DefaultInterval = time.Minute
	// DefaultBatchSize максимальное число заказов, обрабатываемых за цикл.
	DefaultBatchSize = 500

	cycleTimeout = 5 * time.Minute
)

// CycleReport итог одного цикла сверки.
type CycleReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Pending    int       `json:"pending"`
	Completed  int       `json:"completed"`
	Partial    int       `json:"partial"`
	Failed     int       `json:"failed"`
	Err        string    `json:"error,omitempty"`
}

// WorkerOption настраивает воркер.
type WorkerOption func(*Worker)

// WithInterval задаёт период между циклами.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWindowDays задаёт глубину запрашиваемой выписки в днях.
func WithWindowDays(days int) WorkerOption {
	return func(w *Worker) {
		if days > 0 {
			w.windowDays = days
		}
	}
}

// WithBatchSize ограничивает число заказов за цикл.
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithWorkerMetrics подключает метрики циклов.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// Worker периодически сверяет ожидающие оплаты заказы с выпиской банка.
// Воркер владеет клиентом банка и собственным таймером; одновременно выполняется не более одного цикла.
type Worker struct {
	repo       Repository
	bank       BankClient
	vault      *vault.Vault
	logger     *zap.Logger
	metrics    *metrics.Metrics
	audit      *auditor
	now        func() time.Time
	interval   time.Duration
	windowDays int
	batchSize  int

	inCycle atomic.Bool

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	last    *CycleReport
}

// NewWorker создаёт воркер сверки.
func NewWorker(repo Repository, client BankClient, v *vault.Vault, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		repo:       repo,
		bank:       client,
		vault:      v,
		logger:     logger,
		audit:      newAuditor(repo, logger),
		now:        time.Now,
		interval:   DefaultInterval,
		windowDays: bank.DefaultWindowDays,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start запускает фоновый цикл сверки. Первый цикл выполняется сразу.
// Повторный вызов без Stop ничего не делает.
func (w *Worker) Start(ctx context.Context) {
	if w.bank == nil {
		w.logger.Warn("bank client not configured, reconciliation worker disabled")
		return
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop, done := w.stop, w.done
	w.mu.Unlock()

	w.logger.Info("reconciliation worker started", zap.Duration("interval", w.interval))

	go func() {
		defer close(done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

// Stop останавливает таймер и дожидается завершения текущего цикла.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	stop, done := w.stop, w.done
	w.mu.Unlock()

	close(stop)
	<-done
	w.logger.Info("reconciliation worker stopped")
}

// Running сообщает, запущен ли фоновый цикл.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// LastCycle возвращает итог последнего выполненного цикла.
func (w *Worker) LastCycle() *CycleReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil
	}
	r := *w.last
	return &r
}

// AutoCheckEnabled сообщает, включена ли автоматическая проверка в настройках.
func (w *Worker) AutoCheckEnabled(ctx context.Context) (bool, error) {
	settings, err := w.repo.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	return settings.AutoCheckEnabled, nil
}

// tick доводит цикл до конца даже после отмены ctx.
func (w *Worker) tick(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cycleTimeout)
	defer cancel()
	w.RunCycle(cycleCtx)
}

// RunCycle выполняет один цикл сверки. Если цикл уже выполняется, возвращает отчёт с Skipped.
func (w *Worker) RunCycle(ctx context.Context) CycleReport {
	if !w.inCycle.CompareAndSwap(false, true) {
		w.logger.Debug("reconciliation cycle already running, tick skipped")
		return CycleReport{StartedAt: w.now().UTC(), Skipped: true, SkipReason: "cycle already running"}
	}
	defer w.inCycle.Store(false)

	report, result := w.reconcile(ctx)
	report.FinishedAt = w.now().UTC()
	w.metrics.CycleFinished(result, report.FinishedAt.Sub(report.StartedAt))

	w.mu.Lock()
	w.last = &report
	w.mu.Unlock()

	return report
}

func (w *Worker) reconcile(ctx context.Context) (CycleReport, string) {
	report := CycleReport{StartedAt: w.now().UTC()}

	if w.bank == nil {
		report.Skipped = true
		report.SkipReason = ErrConfigurationMissing.Error()
		return report, "skipped"
	}

	creds, err := w.loadCredentials(ctx)
	switch {
	case errors.Is(err, ErrAutoCheckDisabled), errors.Is(err, ErrConfigurationMissing):
		report.Skipped = true
		report.SkipReason = err.Error()
		return report, "skipped"
	case err != nil:
		w.logger.Error("failed to load payment check settings", zap.Error(err))
		w.audit.record(ctx, model.AuditError, sourceWorker, "Failed to load payment check settings", map[string]any{
			"error": err.Error(),
		})
		report.Err = err.Error()
		return report, "error"
	}

	orders, err := w.repo.FindPendingOrders(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to load pending orders", zap.Error(err))
		report.Err = err.Error()
		return report, "error"
	}

	report.Pending = len(orders)
	if len(orders) == 0 {
		return report, "idle"
	}

	txs, err := w.bank.FetchTransactions(ctx, creds, w.windowDays)
	if err != nil {
		w.logger.Error("failed to fetch bank transactions", zap.Error(err))
		w.audit.record(ctx, model.AuditError, sourceWorker, "Failed to fetch bank transactions", map[string]any{
			"error":          err.Error(),
			"pending_orders": len(orders),
		})
		report.Err = err.Error()
		return report, "fetch_error"
	}

	w.logger.Debug("reconciliation cycle",
		zap.Int("pending_orders", len(orders)),
		zap.Int("transactions", len(txs)),
	)

	for _, order := range orders {
		res, err := w.processOrder(ctx, order, txs)
		if err != nil {
			report.Failed++
			w.logger.Error("failed to process order", zap.String("order_code", order.Code), zap.Error(err))
			w.audit.record(ctx, model.AuditError, sourceWorker, "Failed to process order "+order.Code, map[string]any{
				"order_id":   order.ID.String(),
				"order_code": order.Code,
				"error":      err.Error(),
			})
			continue
		}

		switch res {
		case matcher.Exact:
			report.Completed++
		case matcher.Partial:
			report.Partial++
		}
	}

	if report.Completed > 0 {
		w.audit.record(ctx, model.AuditInfo, sourceWorker, fmt.Sprintf("Completed %d orders", report.Completed), map[string]any{
			"completed":    report.Completed,
			"partial":      report.Partial,
			"failed":       report.Failed,
			"pending":      report.Pending,
			"transactions": len(txs),
		})
	}

	return report, "ok"
}

// processOrder сопоставляет один заказ с выпиской. Exact возвращается только если заказ
// действительно был переведён в completed этим вызовом.
func (w *Worker) processOrder(ctx context.Context, order model.Order, txs []model.BankTransaction) (kind matcher.Kind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = matcher.NoMatch
			err = fmt.Errorf("panic while processing order: %v", r)
		}
	}()

	if !order.Status.IsAwaitingPayment() {
		return matcher.NoMatch, nil
	}

	strict := matcher.MatchStrict(order, txs)
	if strict.Kind == matcher.Exact {
		now := w.now().UTC()
		updated, err := w.repo.CompleteOrder(ctx, order.ID, model.AwaitingPaymentStatuses, now, nil)
		if err != nil {
			return matcher.NoMatch, err
		}
		if !updated {
			w.logger.Debug("order already completed elsewhere", zap.String("order_code", order.Code))
			return matcher.NoMatch, nil
		}

		tx := strict.Transaction
		w.logger.Info("order paid", zap.String("order_code", order.Code), zap.String("transaction_id", tx.ID))
		w.audit.record(ctx, model.AuditSuccess, sourceWorker, "Order "+order.Code+" paid", map[string]any{
			"order_id":       order.ID.String(),
			"order_code":     order.Code,
			"order_type":     string(order.Type),
			"username":       order.Username,
			"amount":         order.Amount.String(),
			"transaction_id": tx.ID,
			"description":    tx.Description,
		})
		w.metrics.OrderCompleted("worker")
		return matcher.Exact, nil
	}

	lenient := matcher.MatchLenient(order, txs)
	if lenient.Kind != matcher.Partial {
		return matcher.NoMatch, nil
	}

	tx := lenient.Transaction
	w.audit.record(ctx, model.AuditWarning, sourceWorker, "Partial match for order "+order.Code, map[string]any{
		"order_id":           order.ID.String(),
		"order_code":         order.Code,
		"reason":             string(lenient.Reason),
		"expected_amount":    order.Amount.String(),
		"transaction_amount": tx.Amount.String(),
		"delta":              lenient.Delta.String(),
		"transaction_id":     tx.ID,
		"indicator":          string(tx.Indicator),
	})
	w.metrics.PartialMatch()

	return matcher.Partial, nil
}

func (w *Worker) loadCredentials(ctx context.Context) (bank.Credentials, error) {
	settings, err := w.repo.GetSettings(ctx)
	if err != nil {
		return bank.Credentials{}, fmt.Errorf("get settings: %w", err)
	}
	if !settings.AutoCheckEnabled {
		return bank.Credentials{}, ErrAutoCheckDisabled
	}
	return resolveCredentials(settings.Bank, w.vault)
}

// BankMatch результат сопоставления заказа со свежей выпиской для оператора.
type BankMatch struct {
	Order        *model.Order   `json:"order"`
	Match        matcher.Result `json:"match"`
	Transactions int            `json:"transactions"`
}

// InspectOrder сопоставляет заказ со свежей выпиской нестрогим алгоритмом. Заказ не изменяется.
func (w *Worker) InspectOrder(ctx context.Context, identifier string) (*BankMatch, error) {
	if w.bank == nil {
		return nil, ErrConfigurationMissing
	}

	order, err := findOrder(ctx, w.repo, identifier)
	if err != nil {
		return nil, err
	}

	settings, err := w.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	creds, err := resolveCredentials(settings.Bank, w.vault)
	if err != nil {
		return nil, err
	}

	txs, err := w.bank.FetchTransactions(ctx, creds, w.windowDays)
	if err != nil {
		return nil, err
	}

	return &BankMatch{
		Order:        order,
		Match:        matcher.MatchLenient(*order, txs),
		Transactions: len(txs),
	}, nil
}
