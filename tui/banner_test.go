package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderBanner(t *testing.T) {
	out := RenderBanner("Room 12", "chatting with kim")
	assert.Contains(t, out, "Room 12")
	assert.Contains(t, out, "chatting with kim")
}
