package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
)

// Packet types.
const (
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
	TypeConnected     = "connected"
	TypeFriendship    = "friendship"
	TypeAnnounce      = "announce"
	TypeFriendList    = "friend_list"
	TypeFriendRequest = "friend_request"
	TypeFriendRespond = "friend_respond"
	TypeFriendRemove  = "friend_remove"
)

// Error codes carried by "error" packets.
const (
	CodeBadRequest = "bad_request"
	CodeForbidden  = "forbidden"
	CodeNotFound   = "not_found"
	CodeConflict   = "conflict"
	CodeInternal   = "internal"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errBadPayload = errors.New("bad payload")

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadPayload),
		errors.Is(err, social.ErrSelfRelationship),
		errors.Is(err, social.ErrInvalidStatus):
		return CodeBadRequest
	case errors.Is(err, social.ErrUnauthorizedAction),
		errors.Is(err, social.ErrIdentityDisabled),
		errors.Is(err, social.ErrVetoed):
		return CodeForbidden
	case errors.Is(err, social.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, social.ErrAlreadyExists), errors.Is(err, social.ErrInvalidTransition):
		return CodeConflict
	}
	return CodeInternal
}

func decode(pkt *Packet, v interface{}) error {
	if len(pkt.Payload) == 0 {
		return fmt.Errorf("%w: empty", errBadPayload)
	}
	if err := json.Unmarshal(pkt.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// RegisterSocialHandlers wires the relationship commands onto r.
func RegisterSocialHandlers(r *Router, svc *social.Service) {
	r.On(TypePing, func(_ context.Context, s *Session, pkt *Packet) error {
		var req struct {
			ClientTS int64 `json:"client_ts"`
		}
		if len(pkt.Payload) > 0 {
			if err := decode(pkt, &req); err != nil {
				return err
			}
		}
		s.Send(pkt.Seq, TypePong, map[string]int64{
			"client_ts": req.ClientTS,
			"server_ts": time.Now().UnixMilli(),
		})
		return nil
	})

	r.On(TypeFriendList, func(ctx context.Context, s *Session, pkt *Packet) error {
		var req struct {
			Status string `json:"status"`
		}
		if len(pkt.Payload) > 0 {
			if err := decode(pkt, &req); err != nil {
				return err
			}
		}
		status := model.FriendshipAccepted
		if req.Status != "" {
			status = model.FriendshipStatus(strings.ToUpper(req.Status))
		}
		list, err := svc.ListByStatus(ctx, s.AccountID, status)
		if err != nil {
			return err
		}
		s.Send(pkt.Seq, TypeFriendList, map[string]interface{}{"friendships": list, "status": status})
		return nil
	})

	r.On(TypeFriendRequest, func(ctx context.Context, s *Session, pkt *Packet) error {
		var req struct {
			TargetID int64 `json:"target_id"`
		}
		if err := decode(pkt, &req); err != nil {
			return err
		}
		rel, err := svc.Propose(ctx, s.AccountID, req.TargetID)
		if err != nil {
			return err
		}
		s.Send(pkt.Seq, TypeFriendRequest, map[string]interface{}{"friendship": rel})
		return nil
	})

	r.On(TypeFriendRespond, func(ctx context.Context, s *Session, pkt *Packet) error {
		var req struct {
			FriendshipID int64  `json:"friendship_id"`
			Status       string `json:"status"`
		}
		if err := decode(pkt, &req); err != nil {
			return err
		}
		rel, err := svc.Get(ctx, req.FriendshipID)
		if err != nil {
			return err
		}
		updated, err := svc.Respond(ctx, s.AccountID, rel, model.FriendshipStatus(strings.ToUpper(req.Status)))
		if err != nil {
			return err
		}
		s.Send(pkt.Seq, TypeFriendRespond, map[string]interface{}{"friendship": updated})
		return nil
	})

	r.On(TypeFriendRemove, func(ctx context.Context, s *Session, pkt *Packet) error {
		var req struct {
			AccountID int64 `json:"account_id"`
		}
		if err := decode(pkt, &req); err != nil {
			return err
		}
		if err := svc.Remove(ctx, s.AccountID, req.AccountID); err != nil {
			return err
		}
		s.Send(pkt.Seq, TypeFriendRemove, map[string]int64{"account_id": req.AccountID})
		return nil
	})
}
