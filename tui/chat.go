package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/protocol"
)

var (
	selfColor        = lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#5FD7FF"}
	selfStyle        = lipgloss.NewStyle().Bold(true).Foreground(selfColor)
	counterpartStyle = lipgloss.NewStyle().Bold(true).Foreground(titleStyleColor)
)

// RenderMessage renders one chat line. Negotiation events show their caption
// instead of the raw marker.
func RenderMessage(msg model.Message, self model.ID, names map[model.ID]string) string {
	name := names[msg.SenderID]
	if name == "" {
		name = msg.SenderID.String()
	}
	sender := counterpartStyle.Render(name)
	if msg.SenderID == self {
		sender = selfStyle.Render(name)
	}
	ts := ""
	if !msg.CreatedAt.IsZero() {
		ts = Muted(msg.CreatedAt.Local().Format("15:04")) + " "
	}
	ev := protocol.Decode(msg.Content)
	if ev.Type == model.TypeText {
		return ts + sender + ": " + ev.Caption
	}
	label := Warning(fmt.Sprintf("[%s]", negotiationLabels[ev.Type]))
	return ts + sender + " " + label + " " + ev.Caption
}

var negotiationLabels = map[model.MessageType]string{
	model.TypeMatchRequest: "request",
	model.TypeMatchAccept:  "accepted",
	model.TypeMatchDecline: "declined",
}

// RenderNegotiation renders the status line for a negotiation.
func RenderNegotiation(n model.Negotiation) string {
	status := string(n.Status)
	switch n.Status {
	case model.StatusAccepted:
		status = messageOKStyle.Render(status)
	case model.StatusRejected:
		status = messageWarningStyle.Render(status)
	case model.StatusPending:
		status = Warning(status)
	default:
		status = Muted(status)
	}
	if n.MatchID == "" {
		return "match: " + status
	}
	return fmt.Sprintf("match #%s: %s", n.MatchID, status)
}
