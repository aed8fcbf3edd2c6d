// Package service реализует сверку платежей: фоновый воркер и ручное подтверждение заказов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/payrecon/internal/bank"
	"github.com/mmeshcher/payrecon/internal/metrics"
	"github.com/mmeshcher/payrecon/internal/model"
	"github.com/mmeshcher/payrecon/internal/vault"
)

var (
	// ErrNotFound возвращается, если заказ не найден ни по коду, ни по идентификатору.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyCompleted возвращается при попытке повторно подтвердить завершённый заказ.
	ErrAlreadyCompleted = errors.New("order already completed")
	// ErrInvalidAmount возвращается при отрицательной полученной сумме.
	ErrInvalidAmount = errors.New("received amount must not be negative")
	// ErrConfigurationMissing сообщает, что учётные данные банка не заданы. Это не ошибка цикла.
	ErrConfigurationMissing = errors.New("bank configuration missing")
	// ErrAutoCheckDisabled сообщает, что автоматическая проверка выключена в настройках.
	ErrAutoCheckDisabled = errors.New("auto check disabled")
)

const (
	sourceWorker = "reconciliation-worker"
	sourceManual = "manual-verification"
)

// Repository описывает контракт доступа к данным, используемый сервисом и воркером.
type Repository interface {
	Close() error
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	FindPendingOrders(ctx context.Context, limit int) ([]model.Order, error)
	FindOrderByCodeOrID(ctx context.Context, identifier string) (*model.Order, error)
	CompleteOrder(ctx context.Context, id uuid.UUID, from []model.OrderStatus, verifiedAt time.Time, manual *model.ManualVerification) (bool, error)
	AppendAuditLog(ctx context.Context, entry model.AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, typ model.AuditType) ([]model.AuditEntry, error)
}

// BankClient описывает получение выписки из интернет-банка.
type BankClient interface {
	FetchTransactions(ctx context.Context, creds bank.Credentials, windowDays int) ([]model.BankTransaction, error)
}

// Service содержит операции, вызываемые оператором.
type Service struct {
	repo    Repository
	vault   *vault.Vault
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *auditor
	now     func() time.Time
}

// NewService создаёт сервис ручного подтверждения заказов.
func NewService(repo Repository, v *vault.Vault, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		vault:   v,
		logger:  logger,
		metrics: m,
		audit:   newAuditor(repo, logger),
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ListAuditLogs возвращает последние записи журнала.
func (s *Service) ListAuditLogs(ctx context.Context, limit int, typ model.AuditType) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit, typ)
}

// SettingsUpdate описывает изменение настроек автоматической проверки.
type SettingsUpdate struct {
	AutoCheckEnabled bool
	Bank             *model.BankConfig
}

// UpdateSettings сохраняет настройки; пароль банка шифруется, если задан ключ.
func (s *Service) UpdateSettings(ctx context.Context, upd SettingsUpdate) error {
	settings := model.Settings{AutoCheckEnabled: upd.AutoCheckEnabled}

	if upd.Bank != nil {
		cfg := *upd.Bank
		if cfg.Password != "" && !vault.IsEncrypted(cfg.Password) {
			enc, err := s.vault.Encrypt(cfg.Password)
			switch {
			case err == nil:
				cfg.Password = enc
			case errors.Is(err, vault.ErrNoKey):
				s.logger.Warn("encryption key not configured, storing bank password as is")
			default:
				return fmt.Errorf("encrypt bank password: %w", err)
			}
		}
		settings.Bank = &cfg
	}

	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return err
	}

	s.audit.record(ctx, model.AuditInfo, sourceManual, "Payment check settings updated", map[string]any{
		"auto_check_enabled": upd.AutoCheckEnabled,
		"bank_config_set":    upd.Bank != nil,
	})
	return nil
}

// resolveCredentials проверяет конфигурацию банка и расшифровывает пароль.
// Возвращает ErrConfigurationMissing, если каких-либо полей не хватает.
func resolveCredentials(cfg *model.BankConfig, v *vault.Vault) (bank.Credentials, error) {
	if cfg == nil {
		return bank.Credentials{}, ErrConfigurationMissing
	}

	creds := bank.Credentials{
		Username:  strings.TrimSpace(cfg.Username),
		Password:  cfg.Password,
		AccountNo: strings.TrimSpace(cfg.AccountNo),
		DeviceID:  strings.TrimSpace(cfg.DeviceID),
	}
	if creds.Username == "" || creds.Password == "" || creds.AccountNo == "" || creds.DeviceID == "" {
		return bank.Credentials{}, ErrConfigurationMissing
	}

	password, err := v.Reveal(creds.Password)
	if err != nil {
		return bank.Credentials{}, fmt.Errorf("decrypt bank password: %w", err)
	}
	creds.Password = password

	return creds, nil
}

func (s *Service) findOrder(ctx context.Context, identifier string) (*model.Order, error) {
	return findOrder(ctx, s.repo, identifier)
}

func findOrder(ctx context.Context, repo Repository, identifier string) (*model.Order, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	order, err := repo.FindOrderByCodeOrID(ctx, identifier)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find order %s: %w", identifier, err)
	}
	return order, nil
}
