// Package history implements the append-only message log and its tail-window
// queries.
package history

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/google/uuid"
)

// Filter selects the messages a query returns. Build one with ByGroup, ByPair
// or ByParticipant.
type Filter struct {
	kind  filterKind
	group string
	a, b  string
}

type filterKind int

const (
	filterGroup filterKind = iota + 1
	filterPair
	filterParticipant
)

// ByGroup matches messages posted to groupID.
func ByGroup(groupID string) Filter {
	return Filter{kind: filterGroup, group: groupID}
}

// ByPair matches direct messages exchanged between a and b, in either direction.
func ByPair(a, b string) Filter {
	return Filter{kind: filterPair, a: a, b: b}
}

// ByParticipant matches messages sent by identity or addressed directly to it.
func ByParticipant(identity string) Filter {
	return Filter{kind: filterParticipant, a: identity}
}

func (f Filter) match(m *chat.Message) bool {
	switch f.kind {
	case filterGroup:
		return m.Target.GroupID() == f.group
	case filterPair:
		recipient := m.Target.RecipientID()
		if recipient == "" {
			return false
		}
		return (m.SenderID == f.a && recipient == f.b) || (m.SenderID == f.b && recipient == f.a)
	case filterParticipant:
		return m.SenderID == f.a || m.Target.RecipientID() == f.a
	}
	return false
}

// Log is the ordered record of every message. Appends assign ID, sequence
// number and timestamp under one lock so insertion order, sequence order and
// timestamp order always agree.
type Log struct {
	mu       sync.RWMutex
	messages []chat.Message
	seq      uint64
	capacity int
	log      *slog.Logger
	now      func() time.Time
}

// NewLog returns an empty log. A capacity of zero or less means unbounded.
func NewLog(capacity int, log *slog.Logger) *Log {
	return &Log{
		capacity: capacity,
		log:      log,
		now:      time.Now,
	}
}

// Append stamps msg with a fresh ID, the next sequence number and the current
// time, then records it. Any caller-supplied ID, Seq or Timestamp is replaced.
// Timestamps never go backwards even if the wall clock does.
func (l *Log) Append(msg chat.Message) (chat.Message, error) {
	if err := msg.Target.Validate(); err != nil {
		return chat.Message{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity > 0 && len(l.messages) >= l.capacity {
		l.log.Error("message log is full", "capacity", l.capacity)
		return chat.Message{}, fmt.Errorf("%w: capacity %d reached", chat.ErrLogExhausted, l.capacity)
	}

	ts := l.now().UTC()
	if n := len(l.messages); n > 0 && ts.Before(l.messages[n-1].Timestamp) {
		ts = l.messages[n-1].Timestamp
	}

	l.seq++
	msg.ID = uuid.NewString()
	msg.Seq = l.seq
	msg.Timestamp = ts
	if msg.Attachment != nil {
		attachment := *msg.Attachment
		msg.Attachment = &attachment
	}
	l.messages = append(l.messages, msg)
	return msg, nil
}

// Query returns the most recent limit messages matching filter, oldest first.
// A limit of zero or less returns every match.
func (l *Log) Query(filter Filter, limit int) []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []chat.Message
	for i := len(l.messages) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		if filter.match(&l.messages[i]) {
			result = append(result, l.messages[i])
		}
	}
	slices.Reverse(result)
	if result == nil {
		result = []chat.Message{}
	}
	return result
}

// Count returns the number of messages recorded.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
