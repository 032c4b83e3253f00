package tui

import (
	"testing"

	"github.com/roommate-match/go-client/logger"
	"github.com/stretchr/testify/assert"
)

func TestRenderStatus(t *testing.T) {
	assert.Contains(t, renderStatus(statusSuccess, "room %s", "12"), "room 12")
	assert.Contains(t, renderStatus(statusError, "failed"), "⚠")
}

func TestConfirmWithoutTTY(t *testing.T) {
	originalHasTTY := HasTTY
	defer func() { HasTTY = originalHasTTY }()
	HasTTY = false

	log := logger.NewTestLogger()
	assert.True(t, Confirm(log, "Log out?", true))
	assert.False(t, Confirm(log, "Log out?", false))
}
