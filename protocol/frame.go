package protocol

import "github.com/roommate-match/go-client/model"

// Frame is the outbound realtime frame.
type Frame struct {
	Type    model.MessageType `json:"type"`
	Content string            `json:"content"`
}
