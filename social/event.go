package social

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/moviemaster/cache"
	"github.com/kasuganosora/moviemaster/model"
)

// Event describes a relationship change.
type Event struct {
	Op           string                 `json:"op"`
	FriendshipID int64                  `json:"friendship_id"`
	RequesterID  int64                  `json:"requester_id"`
	TargetID     int64                  `json:"target_id"`
	Status       model.FriendshipStatus `json:"status"`
	At           time.Time              `json:"at"`
}

func newEvent(op string, f *model.Friendship, at time.Time) Event {
	return Event{
		Op:           op,
		FriendshipID: f.ID,
		RequesterID:  f.RequesterID,
		TargetID:     f.TargetID,
		Status:       f.Status,
		At:           at,
	}
}

// AnnounceChannel carries server-wide announcements to every connected client.
const AnnounceChannel = "announce"

// Channel returns the pub/sub channel carrying events for accountID.
func Channel(accountID int64) string {
	return fmt.Sprintf("social:%d", accountID)
}

// PubSubNotifier publishes events as JSON on both parties' channels.
type PubSubNotifier struct {
	ps cache.PubSub
}

// NewPubSubNotifier creates a PubSubNotifier.
func NewPubSubNotifier(ps cache.PubSub) *PubSubNotifier {
	return &PubSubNotifier{ps: ps}
}

// Notify implements Notifier.
func (n *PubSubNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, id := range []int64{ev.RequesterID, ev.TargetID} {
		if err := n.ps.Publish(ctx, Channel(id), string(payload)); err != nil {
			return fmt.Errorf("publish %s: %w", Channel(id), err)
		}
	}
	return nil
}
