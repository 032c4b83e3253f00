// Package model holds the value types shared by the session, request,
// realtime and chat layers.
package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// ID is an opaque identifier. The backend emits numeric ids but they are
// never used arithmetically.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrapf(err, "invalid id %s", string(b))
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers so the backend sees its own format.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Timestamp is a time that accepts the layouts the backend emits: RFC 3339,
// local ISO without zone, or epoch milliseconds.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid timestamp %s", string(b))
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return errors.Newf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Role is a user role as issued by the backend.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAdmin     Role = "ADMIN"
	RoleAdminAuth Role = "ROLE_ADMIN"
)

// Privileged reports whether the role is administrative.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleAdminAuth
}

// Identity is the authenticated user.
type Identity struct {
	ID   ID   `json:"id" msgpack:"id"`
	Role Role `json:"role" msgpack:"role"`
}

// Session is the current credential pair and identity.
type Session struct {
	AccessToken  string   `msgpack:"accessToken"`
	RefreshToken string   `msgpack:"refreshToken"`
	Identity     Identity `msgpack:"identity"`
}

// Authenticated reports whether an access token is present.
func (s Session) Authenticated() bool {
	return s.AccessToken != ""
}

// Participant is one side of a chat room.
type Participant struct {
	ID   ID
	Name string
	Role Role
}

// ChatRoom is a two-party room.
type ChatRoom struct {
	ID ID
	A  Participant
	B  Participant
}

type chatRoomWire struct {
	ID        ID     `json:"id"`
	RoomID    ID     `json:"roomId"`
	UserAID   ID     `json:"userAId"`
	UserAName string `json:"userAName"`
	UserARole Role   `json:"userARole"`
	UserBID   ID     `json:"userBId"`
	UserBName string `json:"userBName"`
	UserBRole Role   `json:"userBRole"`
}

func (r *ChatRoom) UnmarshalJSON(b []byte) error {
	var w chatRoomWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	id := w.ID
	if id.IsZero() {
		id = w.RoomID
	}
	*r = ChatRoom{
		ID: id,
		A:  Participant{ID: w.UserAID, Name: w.UserAName, Role: w.UserARole},
		B:  Participant{ID: w.UserBID, Name: w.UserBName, Role: w.UserBRole},
	}
	return nil
}

func (r ChatRoom) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatRoomWire{
		ID:        r.ID,
		UserAID:   r.A.ID,
		UserAName: r.A.Name,
		UserARole: r.A.Role,
		UserBID:   r.B.ID,
		UserBName: r.B.Name,
		UserBRole: r.B.Role,
	})
}

// Has reports whether user is one of the participants.
func (r ChatRoom) Has(user ID) bool {
	return !user.IsZero() && (r.A.ID == user || r.B.ID == user)
}

// Counterpart returns the participant that is not self.
func (r ChatRoom) Counterpart(self ID) Participant {
	if r.A.ID == self {
		return r.B
	}
	return r.A
}

// HasPrivileged reports whether at least one participant is an administrator.
func (r ChatRoom) HasPrivileged() bool {
	return r.A.Role.Privileged() || r.B.Role.Privileged()
}

// MessageType is the semantic type of a chat message.
type MessageType string

const (
	TypeText         MessageType = "TEXT"
	TypeMatchRequest MessageType = "MATCH_REQUEST"
	TypeMatchAccept  MessageType = "MATCH_ACCEPT"
	TypeMatchDecline MessageType = "MATCH_DECLINE"
)

// Message is a chat message, persisted or live. Type and CorrelationID are
// derived from Content and never read from or written to the wire.
type Message struct {
	ID        ID        `json:"id"`
	RoomID    ID        `json:"roomId"`
	SenderID  ID        `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"createdAt"`

	Type          MessageType `json:"-"`
	CorrelationID string      `json:"-"`
}

// Status is the lifecycle state of a match negotiation.
type Status string

const (
	StatusNone     Status = "NONE"
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus maps a server status string onto a Status. Unknown or empty
// values are NONE.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected:
		return Status(s)
	case "DECLINED":
		return StatusRejected
	default:
		return StatusNone
	}
}

// Terminal reports whether no further local action is allowed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Negotiation is the match negotiation between the viewer and the
// counterpart of a room.
type Negotiation struct {
	RoomID        ID
	CounterpartID ID
	MatchID       string
	Status        Status
}

// MatchRecord is the authoritative server view of a negotiation.
type MatchRecord struct {
	MatchID string
	Status  Status
}

// Recommendation is a suggested roommate.
type Recommendation struct {
	UserID  ID
	Score   float64
	Gender  string
	Smoking string
}

// Similarity returns the score as a percentage. Scores above 1 are already percentages.
func (r Recommendation) Similarity() int {
	if r.Score > 1 {
		return int(math.Round(r.Score))
	}
	return int(math.Round(r.Score * 100))
}
