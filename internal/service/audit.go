package service

import (
	"context"

	"github.com/and161185/apinlero/internal/metrics"
	"github.com/and161185/apinlero/internal/model"
	"github.com/and161185/apinlero/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Audit action names.
const (
	ActionRegister       = "auth.register"
	ActionLogin          = "auth.login"
	ActionRefresh        = "auth.refresh"
	ActionLogout         = "auth.logout"
	ActionLogoutAll      = "auth.logout_all"
	ActionChangePassword = "auth.change_password"
	ActionOrderStatus    = "order.status"
	ActionProductStock   = "product.stock"
)

// auditor writes audit rows best-effort: a failed write is logged and counted, never returned.
type auditor struct {
	repo    repository.AuditRepository
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (a auditor) record(ctx context.Context, e model.AuditEntry) {
	if err := a.repo.Insert(ctx, &e); err != nil {
		a.log.Warn("audit write failed", zap.String("action", e.Action), zap.Error(err))
		a.metrics.AuditWriteFailed()
	}
}

func entry(action string, userID *uuid.UUID, success bool, meta model.ClientMeta) model.AuditEntry {
	return model.AuditEntry{
		UserID:    userID,
		Action:    action,
		Resource:  "user",
		Success:   success,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
}

func idPtr(id uuid.UUID) *uuid.UUID { return &id }
