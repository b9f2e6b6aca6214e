// Package audit appends privileged-mutation records. Writes are best-effort:
// a failed write is logged and never surfaces to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"assignly/internal/model"
)

const (
	ActionOrderDeleted     = "order_deleted"
	ActionStatusChanged    = "order_status_changed"
	ActionReferralCreated  = "referral_created"
	ActionReferralUpdated  = "referral_updated"
	ActionStudentCreated   = "student_created"
	ActionCreditsAdjusted  = "credits_adjusted"
	ActionOrdersPromoted   = "orders_promoted"
	ActionCleanupTriggered = "cleanup_triggered"
)

// Entry is a single record to append.
type Entry struct {
	Action  string
	ActorID string
	Target  string
	Details map[string]any
}

// Recorder writes audit entries.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends e. It returns nothing on purpose: there is no retry path.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	row := model.AuditLog{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Action:    e.Action,
		ActorID:   e.ActorID,
		TargetID:  e.Target,
		Details:   datatypes.JSONMap(e.Details),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		slog.Warn("audit write failed", "action", e.Action, "actor", e.ActorID, "target", e.Target, "err", err)
	}
}
