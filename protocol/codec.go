// Package protocol encodes match negotiation events inside chat message
// content and classifies content back into typed events.
//
// An event is carried as a marker token in the message text, optionally
// followed by a caption for display:
//
//	[[MATCH_REQUEST#42]] Roommate request received! Please accept or decline.
//
// The #<digits> suffix is the correlation id (the match id) and may be
// omitted. Content without a marker is plain text.
package protocol

import (
	"regexp"
	"strings"

	"github.com/roommate-match/go-client/model"
)

var markerPattern = regexp.MustCompile(`\[\[MATCH_(REQUEST|ACCEPT|DECLINE)(?:#(\d+))?\]\]`)

// precedence when content carries more than one marker
var precedence = []model.MessageType{model.TypeMatchRequest, model.TypeMatchAccept, model.TypeMatchDecline}

// Default captions rendered after the marker.
var Captions = map[model.MessageType]string{
	model.TypeMatchRequest: "Roommate request received! Please accept or decline.",
	model.TypeMatchAccept:  "Match confirmed!",
	model.TypeMatchDecline: "Match declined.",
}

// Classification is the semantic reading of a message's content.
type Classification struct {
	Type          model.MessageType
	CorrelationID string
}

// Classify returns the message type and optional correlation id of content.
// It is pure and safe to call repeatedly on the same content.
func Classify(content string) Classification {
	matches := markerPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return Classification{Type: model.TypeText}
	}
	ids := make(map[model.MessageType]string, len(precedence))
	seen := make(map[model.MessageType]bool, len(precedence))
	for _, m := range matches {
		t := model.MessageType("MATCH_" + m[1])
		seen[t] = true
		if ids[t] == "" {
			ids[t] = m[2]
		}
	}
	var c Classification
	for _, t := range precedence {
		if seen[t] {
			c.Type = t
			break
		}
	}
	c.CorrelationID = ids[c.Type]
	if c.CorrelationID == "" {
		for _, t := range precedence {
			if ids[t] != "" {
				c.CorrelationID = ids[t]
				break
			}
		}
	}
	return c
}

// Annotate returns msg with its derived Type and CorrelationID filled in.
func Annotate(msg model.Message) model.Message {
	c := Classify(msg.Content)
	msg.Type = c.Type
	msg.CorrelationID = c.CorrelationID
	return msg
}

// Event is a typed negotiation event or plain text.
type Event struct {
	Type    model.MessageType
	MatchID string
	Caption string
}

// Decode reads content as an Event. For negotiation events the caption is
// the text with markers removed, or the default caption when none is left.
func Decode(content string) Event {
	c := Classify(content)
	if c.Type == model.TypeText {
		return Event{Type: model.TypeText, Caption: content}
	}
	caption := strings.TrimSpace(markerPattern.ReplaceAllString(content, ""))
	if caption == "" {
		caption = Captions[c.Type]
	}
	return Event{Type: c.Type, MatchID: c.CorrelationID, Caption: caption}
}

// Marker renders the marker token for the event, or empty for text.
func (e Event) Marker() string {
	if e.Type == model.TypeText || e.Type == "" {
		return ""
	}
	if e.MatchID == "" {
		return "[[" + string(e.Type) + "]]"
	}
	return "[[" + string(e.Type) + "#" + e.MatchID + "]]"
}

// Content renders the message text that carries the event.
func (e Event) Content() string {
	marker := e.Marker()
	if marker == "" {
		return e.Caption
	}
	caption := e.Caption
	if caption == "" {
		caption = Captions[e.Type]
	}
	return marker + " " + caption
}

// Frame renders the outbound realtime frame for the event.
func (e Event) Frame() Frame {
	t := e.Type
	if t == "" {
		t = model.TypeText
	}
	return Frame{Type: t, Content: e.Content()}
}

// Text returns a plain text event.
func Text(content string) Event {
	return Event{Type: model.TypeText, Caption: content}
}

// Request returns a match request event for matchID with the default caption.
func Request(matchID string) Event {
	return Event{Type: model.TypeMatchRequest, MatchID: matchID, Caption: Captions[model.TypeMatchRequest]}
}

// Accept returns a match accept event for matchID with the default caption.
func Accept(matchID string) Event {
	return Event{Type: model.TypeMatchAccept, MatchID: matchID, Caption: Captions[model.TypeMatchAccept]}
}

// Decline returns a match decline event for matchID with the default caption.
func Decline(matchID string) Event {
	return Event{Type: model.TypeMatchDecline, MatchID: matchID, Caption: Captions[model.TypeMatchDecline]}
}
