package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/model"
)

// ListRooms returns the rooms visible under view ("mine", "users" or "staff").
func (c *Client) ListRooms(ctx context.Context, view string) ([]model.ChatRoom, error) {
	var raw json.RawMessage
	req := &Request{Method: http.MethodGet, Path: "/chat/rooms", Query: url.Values{"view": {view}}}
	if err := c.Do(ctx, req, &raw); err != nil {
		return nil, err
	}
	return decodeList[model.ChatRoom](raw)
}

// RoomMessages returns the persisted history of a room in chronological order.
// The server pages newest first.
func (c *Client) RoomMessages(ctx context.Context, roomID model.ID) ([]model.Message, error) {
	if roomID.IsZero() {
		return nil, errors.New("room id is required")
	}
	var raw json.RawMessage
	req := &Request{Method: http.MethodGet, Path: "/chat/rooms/" + url.PathEscape(roomID.String()) + "/messages"}
	if err := c.Do(ctx, req, &raw); err != nil {
		return nil, err
	}
	msgs, err := decodeList[model.Message](raw)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// CreateRoom opens, or returns the existing, room with opponent.
func (c *Client) CreateRoom(ctx context.Context, opponent model.ID) (model.ChatRoom, error) {
	if opponent.IsZero() {
		return model.ChatRoom{}, errors.New("opponent id is required")
	}
	var raw json.RawMessage
	req := &Request{Method: http.MethodPost, Path: "/chat/rooms", Body: map[string]model.ID{"opponentUserId": opponent}}
	if err := c.Do(ctx, req, &raw); err != nil {
		return model.ChatRoom{}, err
	}
	obj, ok := unwrapData(raw)
	if !ok {
		return model.ChatRoom{}, errors.New("unexpected create room response")
	}
	buf, _ := json.Marshal(obj)
	var room model.ChatRoom
	if err := json.Unmarshal(buf, &room); err != nil {
		return model.ChatRoom{}, errors.Wrap(err, "error decoding room")
	}
	return room, nil
}
