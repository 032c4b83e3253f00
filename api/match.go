package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/model"
	"golang.org/x/sync/errgroup"
)

// ProposeMatch files a match proposal and returns the match id assigned by the server.
func (c *Client) ProposeMatch(ctx context.Context, proposer, target model.ID, message string) (string, error) {
	var raw json.RawMessage
	req := &Request{
		Method: http.MethodPost,
		Path:   "/match/propose",
		Body: struct {
			ProposerID      model.ID `json:"proposerId"`
			TargetUserID    model.ID `json:"targetUserId"`
			ProposalMessage string   `json:"proposalMessage"`
		}{proposer, target, message},
	}
	if err := c.Do(ctx, req, &raw); err != nil {
		return "", err
	}
	obj, _ := unwrapData(raw)
	return fieldMatchID.str(obj), nil
}

// AcceptMatch accepts the proposal identified by matchID.
func (c *Client) AcceptMatch(ctx context.Context, matchID string) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: "/match/accept/" + url.PathEscape(matchID)}, nil)
}

// RejectMatch declines the proposal identified by matchID.
func (c *Client) RejectMatch(ctx context.Context, matchID string) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: "/match/reject/" + url.PathEscape(matchID)}, nil)
}

// MatchResult returns the server record for the negotiation between self and
// counterpart. An empty record has status NONE.
func (c *Client) MatchResult(ctx context.Context, self, counterpart model.ID) (model.MatchRecord, error) {
	var raw json.RawMessage
	req := &Request{
		Method: http.MethodGet,
		Path:   "/match/result/result/" + url.PathEscape(self.String()) + "/" + url.PathEscape(counterpart.String()),
	}
	if err := c.Do(ctx, req, &raw); err != nil {
		return model.MatchRecord{}, err
	}
	obj, _ := unwrapData(raw)
	return model.MatchRecord{
		MatchID: fieldMatchID.str(obj),
		Status:  model.ParseStatus(fieldMatchStatus.str(obj)),
	}, nil
}

// userProfile returns the raw profile of a user.
func (c *Client) userProfile(ctx context.Context, user model.ID) (object, error) {
	var raw json.RawMessage
	if err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "/users/" + url.PathEscape(user.String())}, &raw); err != nil {
		return nil, err
	}
	obj, ok := unwrapData(raw)
	if !ok {
		return nil, errors.New("unexpected profile response")
	}
	return obj, nil
}

const profileLookups = 4

// Recommendations returns suggested roommates for user. Gender and smoking
// habits missing from the recommendation are filled from the candidate's
// profile; profile lookups that fail leave them empty unless ctx ends.
func (c *Client) Recommendations(ctx context.Context, user model.ID) ([]model.Recommendation, error) {
	if user.IsZero() {
		return nil, nil
	}
	var raw json.RawMessage
	req := &Request{Method: http.MethodGet, Path: "/match/recommendation/list/" + url.PathEscape(user.String())}
	if err := c.Do(ctx, req, &raw); err != nil {
		return nil, err
	}
	items, err := resolveList(raw)
	if err != nil {
		return nil, err
	}
	recs := make([]model.Recommendation, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookups)
	for i, item := range items {
		obj, ok := decodeObject(item)
		if !ok {
			continue
		}
		rec := model.Recommendation{UserID: model.ID(fieldOpponentID.str(obj))}
		if v, ok := fieldScore.rawOrProfile(obj); ok {
			rec.Score, _ = parseFloat(v)
		}
		if v, ok := fieldGender.rawOrProfile(obj); ok {
			rec.Gender = normalizeGender(v)
		}
		if v, ok := fieldSmoking.rawOrProfile(obj); ok {
			rec.Smoking = normalizeSmoking(v)
		}
		recs[i] = rec
		if rec.UserID.IsZero() || (rec.Gender != "" && rec.Smoking != "") {
			continue
		}
		g.Go(func() error {
			profile, err := c.userProfile(gctx, rec.UserID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Debug("profile lookup for %s failed: %s", rec.UserID, err)
				return nil
			}
			if v, ok := fieldGender.rawOrProfile(profile); ok && recs[i].Gender == "" {
				recs[i].Gender = normalizeGender(v)
			}
			if v, ok := fieldSmoking.rawOrProfile(profile); ok && recs[i].Smoking == "" {
				recs[i].Smoking = normalizeSmoking(v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "error enriching recommendations")
	}
	out := recs[:0]
	for _, rec := range recs {
		if !rec.UserID.IsZero() {
			out = append(out, rec)
		}
	}
	return out, nil
}
