package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/Tyrowin/corpchat/internal/router"
)

// Inbound frame types.
const (
	framePing    = "ping"
	frameTyping  = "typing"
	frameMessage = "message"
)

// inboundFrame is the JSON object a client sends on the live channel.
type inboundFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	RecipientID string `json:"recipient_id"`
	GroupID     string `json:"group_id"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

// command is a decoded inbound frame.
type command struct {
	kind   string
	target chat.Target
	draft  router.Draft
}

// decodeFrame parses one inbound frame. It reports false for anything that is
// not a well formed ping, typing or message frame. A frame without a type but
// with content is treated as a message.
func decodeFrame(raw []byte) (command, bool) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return command{}, false
	}

	kind := strings.ToLower(strings.TrimSpace(frame.Type))
	if kind == "" && frame.Content != "" {
		kind = frameMessage
	}

	switch kind {
	case framePing:
		return command{kind: framePing}, true
	case frameTyping:
		target, err := chat.NewTarget(frame.RecipientID, frame.GroupID)
		if err != nil {
			return command{}, false
		}
		return command{kind: frameTyping, target: target}, true
	case frameMessage:
		draft := router.Draft{
			Content:     frame.Content,
			RecipientID: frame.RecipientID,
			GroupID:     frame.GroupID,
		}
		if frame.FileURL != "" {
			draft.Attachment = &chat.Attachment{
				URL:  frame.FileURL,
				Name: frame.FileName,
				Size: frame.FileSize,
			}
		}
		return command{kind: frameMessage, draft: draft}, true
	}
	return command{}, false
}

var pongFrame = []byte(`{"type":"pong"}`)

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func encodeError(err error) []byte {
	payload, _ := json.Marshal(errorFrame{Type: "error", Error: err.Error()})
	return payload
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
