package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(publish PublishFunc) *OutboxDispatcher {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := NewOutboxDispatcher(config.GetDB(), logger)
	d.Publish = publish
	return d
}

func pendingOutbox(t *testing.T) []models.AuditMessageRecord {
	t.Helper()
	var recs []models.AuditMessageRecord
	require.NoError(t, config.GetDB().Order("id ASC").Find(&recs).Error)
	return recs
}

func TestOutboxDispatchMarksSent(t *testing.T) {
	ctx := setupTest(t)
	receive(t, ctx, productOne, "10")

	var published []config.AuditMessage
	d := newTestDispatcher(func(_ context.Context, msg config.AuditMessage) (string, error) {
		published = append(published, msg)
		return "msg-1", nil
	})
	d.dispatchOnce(context.Background())

	require.NotEmpty(t, published)
	assert.Equal(t, testOrg, published[0].OrgId)
	assert.Equal(t, "LICENSE_PLATE", published[0].EntityType)

	for _, rec := range pendingOutbox(t) {
		assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
		assert.NotNil(t, rec.PublishedAt)
		require.NotNil(t, rec.PubSubMessageId)
		assert.Equal(t, "msg-1", *rec.PubSubMessageId)
		assert.Nil(t, rec.LockedBy)
	}
}

func TestOutboxDispatchBacksOffOnFailure(t *testing.T) {
	ctx := setupTest(t)
	receive(t, ctx, productOne, "10")

	d := newTestDispatcher(func(_ context.Context, _ config.AuditMessage) (string, error) {
		return "", errors.New("broker down")
	})
	d.dispatchOnce(context.Background())

	recs := pendingOutbox(t)
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.Equal(t, models.OutboxPublishStatusFailed, rec.PublishStatus)
		assert.Equal(t, 1, rec.PublishAttempts)
		require.NotNil(t, rec.NextAttemptAt)
		require.NotNil(t, rec.LastPublishError)
		assert.Contains(t, *rec.LastPublishError, "broker down")
	}

	// Not yet due for retry: a second pass claims nothing.
	var calls int
	d.Publish = func(_ context.Context, _ config.AuditMessage) (string, error) {
		calls++
		return "msg-2", nil
	}
	d.dispatchOnce(context.Background())
	assert.Zero(t, calls)
}

func TestOutboxPoisonMessageGoesDead(t *testing.T) {
	ctx := setupTest(t)
	receive(t, ctx, productOne, "10")

	db := config.GetDB()
	require.NoError(t, db.Model(&models.AuditMessageRecord{}).
		Where("org_id = ?", testOrg).
		Update("publish_attempts", 20).Error)

	d := newTestDispatcher(func(_ context.Context, _ config.AuditMessage) (string, error) {
		t.Fatal("dead rows must not be published")
		return "", nil
	})
	d.dispatchOnce(context.Background())

	for _, rec := range pendingOutbox(t) {
		assert.Equal(t, models.OutboxPublishStatusDead, rec.PublishStatus)
	}
}
