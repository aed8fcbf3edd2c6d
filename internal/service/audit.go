package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/payrecon/internal/model"
	"github.com/mmeshcher/payrecon/internal/repository"
)

const auditWriteTimeout = 5 * time.Second

type auditStore interface {
	AppendAuditLog(ctx context.Context, entry model.AuditEntry) error
}

// auditor пишет журнал по принципу best-effort: ошибка записи не прерывает вызывающую операцию.
type auditor struct {
	store  auditStore
	logger *zap.Logger
	now    func() time.Time
}

func newAuditor(store auditStore, logger *zap.Logger) *auditor {
	return &auditor{store: store, logger: logger, now: time.Now}
}

func (a *auditor) record(ctx context.Context, typ model.AuditType, source, message string, details map[string]any) {
	if a == nil || a.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()

	entry := model.AuditEntry{
		Type:      typ,
		Message:   message,
		Details:   details,
		Source:    source,
		CreatedAt: a.now().UTC(),
	}

	if err := a.store.AppendAuditLog(ctx, entry); err != nil {
		a.logger.Error("failed to write audit log",
			zap.String("type", string(typ)),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrOrderNotFound) || errors.Is(err, ErrNotFound)
}
