package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/moviemaster/clock"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/plugin/hook"
	"github.com/kasuganosora/moviemaster/store"
	"go.uber.org/zap"
)

// IdentityStore resolves accounts by id.
type IdentityStore interface {
	FindByID(ctx context.Context, id int64) (*model.Account, error)
}

// RelationshipStore persists friendships. FindByPair matches a single
// ordering; Save must fail with store.ErrDuplicate when the unordered pair
// already has a row.
type RelationshipStore interface {
	FindByPair(ctx context.Context, requesterID, targetID int64) (*model.Friendship, error)
	FindByID(ctx context.Context, id int64) (*model.Friendship, error)
	Save(ctx context.Context, f *model.Friendship) (*model.Friendship, error)
	Delete(ctx context.Context, f *model.Friendship) error
	FindAllByIDAndStatus(ctx context.Context, id int64, status model.FriendshipStatus) ([]model.Friendship, error)
	DeletePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder counts relationship transitions by operation.
type Recorder interface {
	FriendshipTransition(op string)
}

// Notifier delivers events to the parties of a relationship.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Operations reported to Recorder and carried in Event.Op.
const (
	OpPropose = "propose"
	OpAccept  = "accept"
	OpReject  = "reject"
	OpRemove  = "remove"
	OpExpire  = "expire"
)

// Service is the friendship state machine. It holds no locks; the unique
// pair index in the store settles concurrent proposals.
type Service struct {
	accounts IdentityStore
	rels     RelationshipStore
	clock    clock.Clock
	hooks    *hook.HookCenter
	notifier Notifier
	recorder Recorder
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used by ExpirePending.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithHooks fires relationship hooks on hc.
func WithHooks(hc *hook.HookCenter) Option { return func(s *Service) { s.hooks = hc } }

// WithNotifier publishes events through n.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithRecorder reports transitions to r.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// NewService creates a Service.
func NewService(accounts IdentityStore, rels RelationshipStore, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		rels:     rels,
		clock:    clock.Real(),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Propose creates a PENDING request from requesterID to targetID.
func (s *Service) Propose(ctx context.Context, requesterID, targetID int64) (*model.Friendship, error) {
	if requesterID == targetID {
		return nil, ErrSelfRelationship
	}
	if _, err := s.identity(ctx, requesterID); err != nil {
		return nil, err
	}
	target, err := s.identity(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.Enabled() {
		return nil, ErrIdentityDisabled
	}

	if s.hooks != nil {
		ev := Event{Op: OpPropose, RequesterID: requesterID, TargetID: targetID, Status: model.FriendshipPending}
		if _, err := s.hooks.Trigger(ctx, hook.BeforeFriendRequest, ev); errors.Is(err, hook.ErrInterrupt) {
			return nil, fmt.Errorf("%w: %v", ErrVetoed, err)
		}
	}

	existing, err := s.findEither(ctx, requesterID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	f, err := s.rels.Save(ctx, &model.Friendship{
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      model.FriendshipPending,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// lost the race against a concurrent proposal for the same pair
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("friend request created",
		zap.Int64("requester_id", requesterID),
		zap.Int64("target_id", targetID),
		zap.Int64("friendship_id", f.ID))
	s.emit(ctx, hook.OnFriendRequest, OpPropose, f)
	return f, nil
}

// Respond records the target's answer to rel. Only the target may respond.
// A PENDING row moves to status; answering again with the same status is a
// no-op and changing an answer fails with ErrInvalidTransition.
func (s *Service) Respond(ctx context.Context, actingID int64, rel *model.Friendship, status model.FriendshipStatus) (*model.Friendship, error) {
	if !status.Terminal() {
		return nil, ErrInvalidStatus
	}
	if rel == nil {
		return nil, ErrNotFound
	}
	if actingID == rel.RequesterID || actingID != rel.TargetID {
		return nil, ErrUnauthorizedAction
	}

	cur, err := s.findEither(ctx, rel.RequesterID, rel.TargetID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	// the stored row is authoritative for direction
	if actingID != cur.TargetID {
		return nil, ErrUnauthorizedAction
	}
	if cur.Status == status {
		return cur, nil
	}
	if cur.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	cur.Status = status
	saved, err := s.rels.Save(ctx, cur)
	if err != nil {
		return nil, err
	}

	op := OpAccept
	if status == model.FriendshipRejected {
		op = OpReject
	}
	s.logger.Debug("friend request answered",
		zap.Int64("friendship_id", saved.ID),
		zap.String("status", string(status)))
	s.emit(ctx, hook.OnFriendRespond, op, saved)
	return saved, nil
}

// Remove deletes the relationship between actingID and otherID in any state.
// Either party may remove it.
func (s *Service) Remove(ctx context.Context, actingID, otherID int64) error {
	if actingID == otherID {
		return ErrNotFound
	}
	cur, err := s.findEither(ctx, actingID, otherID)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	if err := s.rels.Delete(ctx, cur); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.logger.Debug("friendship removed",
		zap.Int64("friendship_id", cur.ID),
		zap.Int64("by", actingID))
	s.emit(ctx, hook.OnFriendRemove, OpRemove, cur)
	return nil
}

// ListByStatus returns every relationship with the given status in which
// id is either party, newest first.
func (s *Service) ListByStatus(ctx context.Context, id int64, status model.FriendshipStatus) ([]model.Friendship, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	list, err := s.rels.FindAllByIDAndStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Friendship{}
	}
	return list, nil
}

// Get returns the relationship with the given row id.
func (s *Service) Get(ctx context.Context, id int64) (*model.Friendship, error) {
	f, err := s.rels.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return f, err
}

// ExpirePending deletes PENDING requests older than olderThan.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-olderThan)
	n, err := s.rels.DeletePendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired pending friend requests", zap.Int64("count", n), zap.Time("cutoff", cutoff))
		if s.recorder != nil {
			for i := int64(0); i < n; i++ {
				s.recorder.FriendshipTransition(OpExpire)
			}
		}
		if s.hooks != nil {
			_, _ = s.hooks.Trigger(ctx, hook.OnFriendExpire, n)
		}
	}
	return n, nil
}

func (s *Service) identity(ctx context.Context, id int64) (*model.Account, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return acc, err
}

// findEither probes (a,b) then (b,a). A nil row with nil error means no
// relationship exists.
func (s *Service) findEither(ctx context.Context, a, b int64) (*model.Friendship, error) {
	for _, p := range [][2]int64{{a, b}, {b, a}} {
		f, err := s.rels.FindByPair(ctx, p[0], p[1])
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Service) emit(ctx context.Context, event, op string, f *model.Friendship) {
	ev := newEvent(op, f, s.clock.Now())
	if s.recorder != nil {
		s.recorder.FriendshipTransition(op)
	}
	if s.hooks != nil {
		_, _ = s.hooks.Trigger(ctx, event, ev)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("notify relationship event", zap.String("op", op), zap.Error(err))
		}
	}
}

// ExpiryTask returns a scheduler task that runs ExpirePending with olderThan.
func (s *Service) ExpiryTask(olderThan time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.ExpirePending(ctx, olderThan)
		return err
	}
}
