// Package audit persists security-relevant actions in batches off the
// request path.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/moviemaster/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions written by the HTTP handlers.
const (
	ActionRegister      = "auth.register"
	ActionLogin         = "auth.login"
	ActionLoginFailed   = "auth.login_failed"
	ActionRefresh       = "auth.refresh"
	ActionLogout        = "auth.logout"
	ActionFriendRequest = "social.request"
	ActionFriendRespond = "social.respond"
	ActionFriendRemove  = "social.remove"
	ActionAccountBan    = "admin.ban"
	ActionAccountUnban  = "admin.unban"
)

// Entry is one audit event.
type Entry struct {
	TraceID   string
	AccountID int64 // zero when the caller is anonymous
	Username  string
	TargetID  int64 // zero when the action has no other party
	Action    string
	Request   interface{}
	Response  interface{}
	Err       error
	IP        string
	Duration  time.Duration
}

// Config tunes batching. Zero values take the defaults.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Service writes entries asynchronously in batches.
type Service struct {
	db        *gorm.DB
	ch        chan *model.AuditLog
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Service and starts its worker.
func New(db *gorm.DB, cfg Config, logger *zap.Logger) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	svc := &Service{
		db:        db,
		ch:        make(chan *model.AuditLog, cfg.BufferSize),
		stopCh:    make(chan struct{}),
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		logger:    logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues e. It never blocks; entries are dropped when the buffer is full.
func (svc *Service) Log(e Entry) {
	record := &model.AuditLog{
		TraceID:    e.TraceID,
		AccountID:  optionalID(e.AccountID),
		Username:   e.Username,
		TargetID:   optionalID(e.TargetID),
		Action:     e.Action,
		Request:    toJSON(e.Request),
		Response:   toJSON(e.Response),
		IP:         e.IP,
		DurationMs: int(e.Duration.Milliseconds()),
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit buffer full, dropping entry", zap.String("action", e.Action))
	}
}

// Stop flushes pending entries and waits for the worker. Safe to call twice.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.CreateInBatches(batch, svc.batchSize).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= svc.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}
