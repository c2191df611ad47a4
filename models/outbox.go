package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
)

// AuditMessageRecord is the transactional outbox row for the external audit
// sink: written inside the mutating transaction, published asynchronously by
// the dispatcher after commit. Exactly one record per successful mutation.
type AuditMessageRecord struct {
	ID         int         `gorm:"primary_key;index:idx_audit_dispatch,priority:3" json:"id"`
	OrgId      string      `gorm:"size:64;not null;index" json:"org_id"`
	OccurredAt time.Time   `gorm:"index;not null" json:"occurred_at"`
	EntityType string      `gorm:"size:40;not null;index" json:"entity_type"`
	EntityId   int         `gorm:"index;not null" json:"entity_id"`
	Action     AuditAction `gorm:"type:varchar(1)" json:"action"`
	Actor      string      `gorm:"size:100" json:"actor"`
	OldObj     []byte      `gorm:"type:blob" json:"old_obj"`
	NewObj     []byte      `gorm:"type:blob" json:"new_obj"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_audit_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_audit_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishAudit writes the audit record inside the caller's DB transaction.
// Publishing happens after commit via the outbox dispatcher.
func PublishAudit(ctx context.Context, tx *gorm.DB, orgId string, entityType string, entityId int, action AuditAction, obj interface{}, oldObj interface{}) error {
	var newInByte []byte
	var oldInByte []byte
	var err error

	if obj != nil {
		newInByte, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}
	if oldObj != nil {
		oldInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}

	actor, _ := utils.GetUserNameFromContext(ctx)
	record := AuditMessageRecord{
		OrgId:         orgId,
		OccurredAt:    time.Now().UTC(),
		EntityType:    entityType,
		EntityId:      entityId,
		Action:        action,
		Actor:         actor,
		OldObj:        oldInByte,
		NewObj:        newInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToAuditMessage(record AuditMessageRecord) config.AuditMessage {
	return config.AuditMessage{
		ID:            record.ID,
		OrgId:         record.OrgId,
		OccurredAt:    record.OccurredAt,
		EntityType:    record.EntityType,
		EntityId:      record.EntityId,
		Action:        string(record.Action),
		Actor:         record.Actor,
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}
