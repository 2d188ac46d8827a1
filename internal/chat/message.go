package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// MessageType discriminates direct and group messages on the wire.
type MessageType string

const (
	MessageTypePersonal MessageType = "personal"
	MessageTypeGroup    MessageType = "group"
)

// Target names exactly one destination of a message: a recipient account or a
// group. The zero Target is invalid; build one with NewTarget.
type Target struct {
	recipientID string
	groupID     string
}

// NewTarget validates that exactly one of recipientID and groupID is set.
func NewTarget(recipientID, groupID string) (Target, error) {
	t := Target{recipientID: recipientID, groupID: groupID}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate returns ErrValidation unless exactly one discriminant is set.
func (t Target) Validate() error {
	switch {
	case t.recipientID == "" && t.groupID == "":
		return fmt.Errorf("%w: must specify recipient_id or group_id", ErrValidation)
	case t.recipientID != "" && t.groupID != "":
		return fmt.Errorf("%w: recipient_id and group_id are mutually exclusive", ErrValidation)
	}
	return nil
}

// RecipientID returns the direct recipient, or "" for group targets.
func (t Target) RecipientID() string { return t.recipientID }

// GroupID returns the group, or "" for direct targets.
func (t Target) GroupID() string { return t.groupID }

// IsGroup reports whether the target is a group.
func (t Target) IsGroup() bool { return t.groupID != "" }

// Type returns the wire message type for the target.
func (t Target) Type() MessageType {
	if t.IsGroup() {
		return MessageTypeGroup
	}
	return MessageTypePersonal
}

// Attachment references an uploaded file. The core never reads its contents.
type Attachment struct {
	URL  string
	Name string
	Size int64
}

// Message is an immutable entry of the message log. ID, Seq and Timestamp are
// assigned by the log on append.
type Message struct {
	ID         string
	Seq        uint64
	SenderID   string
	SenderName string
	Content    string
	Target     Target
	Timestamp  time.Time
	Attachment *Attachment
}

// Type returns the wire message type.
func (m Message) Type() MessageType {
	return m.Target.Type()
}

type messagePayload struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	RecipientID *string     `json:"recipient_id"`
	GroupID     *string     `json:"group_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        MessageType `json:"type"`
	FileURL     *string     `json:"file_url"`
	FileName    *string     `json:"file_name"`
	FileSize    *int64      `json:"file_size"`
}

// MarshalJSON encodes the message in its delivery payload form.
func (m Message) MarshalJSON() ([]byte, error) {
	p := messagePayload{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		RecipientID: lo.EmptyableToPtr(m.Target.recipientID),
		GroupID:     lo.EmptyableToPtr(m.Target.groupID),
		Timestamp:   m.Timestamp.UTC(),
		Type:        m.Type(),
	}
	if m.Attachment != nil {
		p.FileURL = lo.ToPtr(m.Attachment.URL)
		p.FileName = lo.ToPtr(m.Attachment.Name)
		p.FileSize = lo.ToPtr(m.Attachment.Size)
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes a delivery payload, rejecting invalid targets.
func (m *Message) UnmarshalJSON(data []byte) error {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	target, err := NewTarget(lo.FromPtr(p.RecipientID), lo.FromPtr(p.GroupID))
	if err != nil {
		return err
	}
	*m = Message{
		ID:         p.ID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Content:    p.Content,
		Target:     target,
		Timestamp:  p.Timestamp,
	}
	if p.FileURL != nil {
		m.Attachment = &Attachment{
			URL:  *p.FileURL,
			Name: lo.FromPtr(p.FileName),
			Size: lo.FromPtr(p.FileSize),
		}
	}
	return nil
}

// TypingNotice is the transient "composing" payload. It is never persisted.
type TypingNotice struct {
	Type        string  `json:"type"`
	UserID      string  `json:"user_id"`
	RecipientID *string `json:"recipient_id"`
	GroupID     *string `json:"group_id"`
}

// NewTypingNotice builds the typing payload for userID composing towards target.
func NewTypingNotice(userID string, target Target) TypingNotice {
	return TypingNotice{
		Type:        "typing",
		UserID:      userID,
		RecipientID: lo.EmptyableToPtr(target.recipientID),
		GroupID:     lo.EmptyableToPtr(target.groupID),
	}
}

// Announcement is an administrator notice pushed to every live session.
type Announcement struct {
	Type       string    `json:"type"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}
