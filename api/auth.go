package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/model"
)

// refreshEncoding is one way of presenting the refresh token to the refresh endpoint.
type refreshEncoding struct {
	name  string
	build func(path, rt string) *Request
}

// refreshEncodings are tried in order; a later one only when the previous
// call fails outright.
var refreshEncodings = []refreshEncoding{
	{"body", func(p, rt string) *Request {
		return &Request{Method: http.MethodPost, Path: p, Body: map[string]string{"refreshToken": rt}}
	}},
	{"header", func(p, rt string) *Request {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+rt)
		h.Set("X-Refresh-Token", rt)
		return &Request{Method: http.MethodPost, Path: p, Header: h}
	}},
	{"cookie", func(p, rt string) *Request {
		return &Request{
			Method:  http.MethodPost,
			Path:    p,
			Body:    struct{}{},
			cookies: []*http.Cookie{{Name: "refreshToken", Value: rt}},
		}
	}},
}

// Tokens is a credential pair returned by the auth endpoints.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

func parseTokens(raw json.RawMessage) (Tokens, object) {
	obj, ok := unwrapData(raw)
	if !ok {
		return Tokens{}, nil
	}
	return Tokens{
		AccessToken:  fieldAccessToken.str(obj),
		RefreshToken: fieldRefreshToken.str(obj),
	}, obj
}

// refreshCredentials obtains a new access token with the stored refresh
// token and installs it in the session.
func (c *Client) refreshCredentials(ctx context.Context) (string, error) {
	rt := c.sessions.RefreshToken()
	if rt == "" {
		return "", errors.New("no refresh token")
	}
	var (
		resp    *response
		lastErr error
	)
	for _, enc := range refreshEncodings {
		r, err := c.roundTrip(ctx, enc.build(c.refreshPath, rt), "")
		if err != nil {
			c.logger.Debug("refresh with %s encoding failed: %s", enc.name, err)
			lastErr = err
			continue
		}
		resp = r
		break
	}
	if resp == nil {
		return "", lastErr
	}
	tokens, _ := parseTokens(resp.body)
	if tokens.AccessToken == "" {
		return "", errors.New("no access token in refresh response")
	}
	c.sessions.ReplaceTokens(tokens.AccessToken, tokens.RefreshToken)
	return tokens.AccessToken, nil
}

// Credentials are the login form values.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates and replaces the session. The identity is read from
// the response and completed from the access token claims.
func (c *Client) Login(ctx context.Context, creds Credentials) (model.Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return model.Session{}, errors.New("username and password are required")
	}
	var raw json.RawMessage
	if err := c.Do(ctx, &Request{Method: http.MethodPost, Path: "/auth/login", Body: creds}, &raw); err != nil {
		return model.Session{}, err
	}
	tokens, obj := parseTokens(raw)
	if tokens.AccessToken == "" {
		return model.Session{}, errors.New("no access token in login response")
	}
	sess := model.Session{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	user := obj
	if v, ok := fieldUser.raw(obj); ok {
		if u, ok := decodeObject(v); ok {
			user = u
		}
	}
	sess.Identity = model.Identity{
		ID:   model.ID(fieldUserID.str(user)),
		Role: model.Role(fieldRole.str(user)),
	}
	c.sessions.Replace(sess)
	s, _ := c.sessions.Get()
	c.logger.Info("logged in as user %s", s.Identity.ID)
	return s, nil
}

// Logout revokes the refresh token on a best effort basis and clears the session.
func (c *Client) Logout(ctx context.Context) error {
	defer c.sessions.Clear()
	rt := c.sessions.RefreshToken()
	if rt == "" {
		return nil
	}
	err := c.Do(ctx, &Request{Method: http.MethodPost, Path: "/logout", Body: map[string]string{"refreshToken": rt}}, nil)
	if err != nil {
		c.logger.Warn("logout request failed: %s", err)
	}
	return nil
}
