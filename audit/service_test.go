package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLog_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{}, zap.NewNop())

	svc.Log(Entry{
		TraceID:   "trace-123",
		AccountID: 2,
		Username:  "alice",
		TargetID:  3,
		Action:    ActionFriendRequest,
		Request:   map[string]int64{"target_id": 3},
		Response:  map[string]string{"status": "PENDING"},
		IP:        "127.0.0.1",
		Duration:  42 * time.Millisecond,
	})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	got := logs[0]
	assert.Equal(t, "trace-123", got.TraceID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, ActionFriendRequest, got.Action)
	require.NotNil(t, got.AccountID)
	assert.Equal(t, int64(2), *got.AccountID)
	require.NotNil(t, got.TargetID)
	assert.Equal(t, int64(3), *got.TargetID)
	assert.JSONEq(t, `{"target_id":3}`, string(got.Request))
	assert.Equal(t, 42, got.DurationMs)
	assert.Empty(t, got.Error)
}

func TestLog_AnonymousAndError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{}, zap.NewNop())

	svc.Log(Entry{Action: ActionLoginFailed, Username: "mallory", Err: errors.New("invalid credentials")})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].AccountID)
	assert.Nil(t, logs[0].TargetID)
	assert.Equal(t, "invalid credentials", logs[0].Error)
}

func TestLog_BatchSizeFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{BatchSize: 5, FlushInterval: time.Hour}, zap.NewNop())

	for i := 0; i < 12; i++ {
		svc.Log(Entry{Action: ActionLogin})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.Equal(t, int64(12), count)
}

func TestLog_TimerFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{FlushInterval: 20 * time.Millisecond}, zap.NewNop())
	defer svc.Stop(context.Background())

	svc.Log(Entry{Action: ActionLogout})
	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&model.AuditLog{}).Count(&count)
		return count == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLog_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{BufferSize: 1, FlushInterval: time.Hour, BatchSize: 1000}, zap.NewNop())
	for i := 0; i < 50; i++ {
		svc.Log(Entry{Action: "flood"})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.LessOrEqual(t, count, int64(50))
	assert.Positive(t, count)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, Config{}, zap.NewNop())
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}
