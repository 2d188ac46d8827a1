package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTarget(t *testing.T) {
	tests := []struct {
		name        string
		recipientID string
		groupID     string
		wantErr     bool
		wantType    MessageType
	}{
		{name: "direct", recipientID: "bob", wantType: MessageTypePersonal},
		{name: "group", groupID: "g1", wantType: MessageTypeGroup},
		{name: "neither", wantErr: true},
		{name: "both", recipientID: "bob", groupID: "g1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			target, err := NewTarget(tt.recipientID, tt.groupID)
			if tt.wantErr {
				req.Error(err)
				req.True(errors.Is(err, ErrValidation))
				return
			}
			req.NoError(err)
			req.Equal(tt.wantType, target.Type())
		})
	}
}

func TestZeroTargetIsInvalid(t *testing.T) {
	require.ErrorIs(t, Target{}.Validate(), ErrValidation)
}

func TestMessageMarshalDirect(t *testing.T) {
	req := require.New(t)
	target, err := NewTarget("bob", "")
	req.NoError(err)

	msg := Message{
		ID:         "m1",
		Seq:        1,
		SenderID:   "alice",
		SenderName: "Alice",
		Content:    "hi",
		Target:     target,
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(msg)
	req.NoError(err)

	var fields map[string]any
	req.NoError(json.Unmarshal(raw, &fields))
	req.Equal("m1", fields["id"])
	req.Equal("personal", fields["type"])
	req.Equal("bob", fields["recipient_id"])
	req.Nil(fields["group_id"])
	req.Nil(fields["file_url"])
	req.Equal("2026-01-02T03:04:05Z", fields["timestamp"])
	req.NotContains(fields, "seq")
}

func TestMessageMarshalGroupWithAttachment(t *testing.T) {
	req := require.New(t)
	target, err := NewTarget("", "g1")
	req.NoError(err)

	msg := Message{
		ID:         "m2",
		SenderID:   "alice",
		Target:     target,
		Attachment: &Attachment{URL: "/files/x.pdf", Name: "report.pdf", Size: 42},
	}

	raw, err := json.Marshal(msg)
	req.NoError(err)

	var decoded Message
	req.NoError(json.Unmarshal(raw, &decoded))
	req.Equal(MessageTypeGroup, decoded.Type())
	req.Equal("g1", decoded.Target.GroupID())
	req.NotNil(decoded.Attachment)
	req.Equal(int64(42), decoded.Attachment.Size)
	req.Equal("report.pdf", decoded.Attachment.Name)
}

func TestMessageUnmarshalRejectsBothTargets(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"id":"x","recipient_id":"a","group_id":"g"}`), &msg)
	require.ErrorIs(t, err, ErrValidation)
}

func TestTypingNotice(t *testing.T) {
	req := require.New(t)
	target, err := NewTarget("", "g1")
	req.NoError(err)

	raw, err := json.Marshal(NewTypingNotice("alice", target))
	req.NoError(err)
	req.JSONEq(`{"type":"typing","user_id":"alice","recipient_id":null,"group_id":"g1"}`, string(raw))
}
