package tui

import (
	"testing"
	"time"

	"github.com/roommate-match/go-client/model"
	"github.com/stretchr/testify/assert"
)

func TestRenderMessage(t *testing.T) {
	names := map[model.ID]string{"1": "kim"}
	at := model.Timestamp{Time: time.Date(2024, 3, 1, 10, 20, 0, 0, time.Local)}

	text := RenderMessage(model.Message{SenderID: "1", Content: "hello", CreatedAt: at}, "2", names)
	assert.Contains(t, text, "kim")
	assert.Contains(t, text, "hello")
	assert.Contains(t, text, "10:20")

	req := RenderMessage(model.Message{SenderID: "2", Content: "[[MATCH_REQUEST#7]]"}, "2", names)
	assert.Contains(t, req, "2")
	assert.Contains(t, req, "request")
	assert.Contains(t, req, "Roommate request received!")
	assert.NotContains(t, req, "[[MATCH_REQUEST")
}

func TestRenderNegotiation(t *testing.T) {
	assert.Contains(t, RenderNegotiation(model.Negotiation{Status: model.StatusNone}), "NONE")
	out := RenderNegotiation(model.Negotiation{MatchID: "7", Status: model.StatusPending})
	assert.Contains(t, out, "#7")
	assert.Contains(t, out, "PENDING")
}
