// Package router validates, records and fans out messages. Every message is
// appended to the log before any delivery is attempted, so a message that
// reached anyone can always be found in history.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/Tyrowin/corpchat/internal/history"
	"github.com/samber/lo"
)

// MaxHistoryLimit caps the window a single history query may request.
const MaxHistoryLimit = 1000

// Accounts resolves account identities.
type Accounts interface {
	Get(id string) (chat.Account, error)
}

// Groups resolves group membership.
type Groups interface {
	Get(groupID, actingID string) (chat.Group, error)
	Members(groupID string) ([]string, error)
}

// Log records messages and answers history queries.
type Log interface {
	Append(msg chat.Message) (chat.Message, error)
	Query(filter history.Filter, limit int) []chat.Message
}

// Sessions delivers payloads to live sessions.
type Sessions interface {
	Broadcast(payloads map[string][]byte) int
	BroadcastAll(payload []byte) int
}

// Draft is a message as submitted by its sender.
type Draft struct {
	Content     string
	RecipientID string
	GroupID     string
	Attachment  *chat.Attachment
}

// Query selects a history window. At most one of RecipientID and GroupID may
// be set; with neither, every message the viewer sent or received directly is
// returned.
type Query struct {
	RecipientID string
	GroupID     string
	Limit       int
}

// Router is the single write path for messages.
type Router struct {
	accounts     Accounts
	groups       Groups
	log          Log
	sessions     Sessions
	logger       *slog.Logger
	defaultLimit int
}

// New wires a router. defaultLimit applies to history queries without a limit.
func New(accounts Accounts, groups Groups, log Log, sessions Sessions, logger *slog.Logger, defaultLimit int) *Router {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Router{
		accounts:     accounts,
		groups:       groups,
		log:          log,
		sessions:     sessions,
		logger:       logger,
		defaultLimit: defaultLimit,
	}
}

// Submit validates a draft, appends it to the log and delivers it to every
// live member of its audience. Direct messages are echoed to the sender.
// Delivery outcomes never fail a submission.
func (r *Router) Submit(ctx context.Context, senderID string, draft Draft) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}

	target, err := chat.NewTarget(draft.RecipientID, draft.GroupID)
	if err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(draft.Content) == "" && draft.Attachment == nil {
		return chat.Message{}, fmt.Errorf("%w: message content is required", chat.ErrValidation)
	}

	sender, err := r.accounts.Get(senderID)
	if err != nil {
		return chat.Message{}, err
	}
	if err := r.authorize(sender.ID, target); err != nil {
		return chat.Message{}, err
	}

	msg, err := r.log.Append(chat.Message{
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    draft.Content,
		Target:     target,
		Attachment: draft.Attachment,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}

	audience, err := r.audience(sender.ID, target, true)
	if err != nil {
		// The message is recorded; an audience that vanished only loses delivery.
		r.logger.Warn("could not resolve audience", "message_id", msg.ID, "error", err)
		return msg, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to encode message", "message_id", msg.ID, "error", err)
		return msg, nil
	}
	delivered := r.sessions.Broadcast(fanOut(audience, payload))
	r.logger.Debug("message routed",
		"message_id", msg.ID,
		"type", msg.Type(),
		"audience", len(audience),
		"delivered", delivered)
	return msg, nil
}

// Typing forwards a composing notice to the target's audience, excluding the
// sender. Notices are never recorded.
func (r *Router) Typing(ctx context.Context, senderID string, target chat.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if err := r.authorize(senderID, target); err != nil {
		return err
	}

	audience, err := r.audience(senderID, target, false)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(chat.NewTypingNotice(senderID, target))
	if err != nil {
		return fmt.Errorf("encode typing notice: %w", err)
	}
	r.sessions.Broadcast(fanOut(audience, payload))
	return nil
}

// Announce pushes an administrator notice to every live session and returns
// how many received it.
func (r *Router) Announce(ctx context.Context, senderID, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: announcement text is required", chat.ErrValidation)
	}

	sender, err := r.accounts.Get(senderID)
	if err != nil {
		return 0, err
	}
	if !sender.IsAdmin() {
		return 0, fmt.Errorf("%w: administrator role required", chat.ErrForbidden)
	}

	payload, err := json.Marshal(chat.Announcement{
		Type:       "announcement",
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    text,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("encode announcement: %w", err)
	}

	delivered := r.sessions.BroadcastAll(payload)
	r.logger.Info("announcement sent", "sender_id", sender.ID, "delivered", delivered)
	return delivered, nil
}

// History returns the most recent messages visible to viewerID, oldest first.
func (r *Router) History(ctx context.Context, viewerID string, q Query) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.RecipientID != "" && q.GroupID != "" {
		return nil, fmt.Errorf("%w: recipient_id and group_id are mutually exclusive", chat.ErrValidation)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}
	limit = min(limit, MaxHistoryLimit)

	var filter history.Filter
	switch {
	case q.GroupID != "":
		if _, err := r.groups.Get(q.GroupID, viewerID); err != nil {
			return nil, err
		}
		filter = history.ByGroup(q.GroupID)
	case q.RecipientID != "":
		filter = history.ByPair(viewerID, q.RecipientID)
	default:
		filter = history.ByParticipant(viewerID)
	}
	return r.log.Query(filter, limit), nil
}

// authorize checks that every identity the target names exists and, for
// groups, that the sender is a member.
func (r *Router) authorize(senderID string, target chat.Target) error {
	if target.IsGroup() {
		_, err := r.groups.Get(target.GroupID(), senderID)
		return err
	}
	_, err := r.accounts.Get(target.RecipientID())
	return err
}

// audience resolves the identities a payload for target is delivered to.
func (r *Router) audience(senderID string, target chat.Target, echo bool) ([]string, error) {
	var identities []string
	if target.IsGroup() {
		members, err := r.groups.Members(target.GroupID())
		if err != nil {
			return nil, err
		}
		identities = members
	} else {
		identities = []string{target.RecipientID(), senderID}
	}

	identities = lo.Uniq(identities)
	if !echo {
		identities = lo.Without(identities, senderID)
	}
	return identities, nil
}

func fanOut(identities []string, payload []byte) map[string][]byte {
	return lo.SliceToMap(identities, func(id string) (string, []byte) {
		return id, payload
	})
}
