package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"assignly/internal/apperr"
	"assignly/internal/audit"
	"assignly/internal/db"
	"assignly/internal/model"
)

// SystemActor is recorded as updatedBy for scheduled changes.
const SystemActor = "system"

// UpdateStatus sets an order's status on behalf of an admin. startedAt and
// completedAt are stamped the first time an order reaches writing/delivered.
func (s *Service) UpdateStatus(ctx context.Context, actorID, studentID, orderID string, status model.OrderStatus) (*model.Order, error) {
	status = model.OrderStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, apperr.Validation("invalid status %q", status)
	}
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("orderId and studentId are required")
	}

	var updated model.Order
	var previous model.OrderStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.First(&o, "user_id = ? AND id = ?", studentID, orderID).Error; err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound("order")
			}
			return err
		}
		previous = o.Status

		now := s.now()
		updates := map[string]any{
			"status":     status,
			"updated_at": now,
			"updated_by": actorID,
		}
		if status == model.OrderWriting && o.StartedAt == nil {
			updates["started_at"] = now
			o.StartedAt = &now
		}
		if status == model.OrderDelivered && o.CompletedAt == nil {
			updates["completed_at"] = now
			o.CompletedAt = &now
		}
		if err := tx.Model(&model.Order{}).Where("user_id = ? AND id = ?", studentID, orderID).Updates(updates).Error; err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = &now
		o.UpdatedBy = actorID
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Entry{
		Action:  audit.ActionStatusChanged,
		ActorID: actorID,
		Target:  orderID,
		Details: map[string]any{"studentId": studentID, "from": string(previous), "to": string(status)},
	})
	return &updated, nil
}

// PromoteStale moves pending orders created more than olderThan ago to
// writing. Each update is conditional on the order still being pending, so a
// concurrent admin change is never overwritten.
func (s *Service) PromoteStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)

	type key struct {
		ID     string
		UserID string
	}
	var candidates []key
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Select("id", "user_id").
		Where("status = ? AND created_at < ?", model.OrderPending, cutoff).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return 0, fmt.Errorf("select stale orders: %w", err)
	}

	updated := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		res := s.db.WithContext(ctx).Model(&model.Order{}).
			Where("user_id = ? AND id = ? AND status = ?", c.UserID, c.ID, model.OrderPending).
			Updates(map[string]any{
				"status":     model.OrderWriting,
				"updated_at": now,
				"updated_by": SystemActor,
				"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
			})
		if res.Error != nil {
			slog.Error("promote order", "order_id", c.ID, "student_id", c.UserID, "err", res.Error)
			continue
		}
		updated += int(res.RowsAffected)
	}
	slog.Info("status promoter finished", "candidates", len(candidates), "updated", updated)
	if updated > 0 {
		s.audit.Record(ctx, audit.Entry{
			Action:  audit.ActionOrdersPromoted,
			ActorID: SystemActor,
			Details: map[string]any{"updated": updated, "olderThan": olderThan.String()},
		})
	}
	return updated, nil
}
