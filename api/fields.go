package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// The backend is not consistent about response shapes. Each external field
// has an ordered list of accepted names; the first present, non-null name
// wins. These tables are the whole accepted synonym set.
type field []string

var (
	// envelopes wrapping list responses, after a bare array
	listKeys = field{"content", "items", "list", "data", "results"}
	// envelope wrapping object responses, after the flat object
	dataKey = "data"
	// nested object recommendation attributes may live under
	profileKey = "profile"

	fieldAccessToken  = field{"accessToken", "access_token"}
	fieldRefreshToken = field{"refreshToken", "refresh_token"}
	fieldUser         = field{"user", "member"}
	fieldUserID       = field{"userId", "memberId", "id"}
	fieldRole         = field{"role", "userRole"}

	fieldMatchID     = field{"matchId", "id"}
	fieldMatchStatus = field{"status", "matchStatus"}

	fieldOpponentID = field{"userId", "matchUserId", "id"}
	fieldScore      = field{"score", "preferenceScore", "similarity", "similarityScore"}
	fieldGender     = field{"gender", "userGender", "roommateGender", "sex", "genderCode"}
	fieldSmoking    = field{"smoking", "isSmoker", "smoker", "smokingStatus", "smokeYn", "smoke", "smokingHabit"}
)

type object map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeObject(raw json.RawMessage) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// unwrapData returns the object under "data" when present, else the object itself.
func unwrapData(raw json.RawMessage) (object, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return nil, false
	}
	if inner, ok := decodeObject(obj[dataKey]); ok {
		return inner, true
	}
	return obj, true
}

func (f field) raw(obj object) (json.RawMessage, bool) {
	for _, name := range f {
		if v, ok := obj[name]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

// rawOrProfile also looks under a nested "profile" object.
func (f field) rawOrProfile(obj object) (json.RawMessage, bool) {
	if v, ok := f.raw(obj); ok {
		return v, true
	}
	if profile, ok := decodeObject(obj[profileKey]); ok {
		return f.raw(profile)
	}
	return nil, false
}

// str returns the first present value as a string; numbers and booleans are formatted.
func (f field) str(obj object) string {
	v, ok := f.raw(obj)
	if !ok {
		return ""
	}
	return scalarString(v)
}

func (f field) float(obj object) (float64, bool) {
	v, ok := f.raw(obj)
	if !ok {
		return 0, false
	}
	return parseFloat(v)
}

func parseFloat(v json.RawMessage) (float64, bool) {
	n, err := strconv.ParseFloat(scalarString(v), 64)
	if err != nil || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

func scalarString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

// resolveList extracts the items of a list response. Unknown shapes yield
// an empty list.
func resolveList(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, errors.Wrap(err, "error decoding list")
		}
		return items, nil
	case '{':
		obj, ok := decodeObject(raw)
		if !ok {
			return nil, errors.New("error decoding list envelope")
		}
		for _, key := range listKeys {
			v, ok := obj[key]
			if !ok || isNull(v) {
				continue
			}
			items, err := resolveList(v)
			if err == nil && items != nil {
				return items, nil
			}
		}
	}
	return nil, nil
}

func decodeList[T any](raw json.RawMessage) ([]T, error) {
	items, err := resolveList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, errors.Wrapf(err, "error decoding list item %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

// normalizeGender maps the gender encodings seen in responses to "male", "female" or "".
func normalizeGender(raw json.RawMessage) string {
	switch strings.ToLower(strings.TrimSpace(scalarString(raw))) {
	case "0", "male", "m", "남", "남성", "남자":
		return "male"
	case "1", "female", "f", "여", "여성", "여자":
		return "female"
	default:
		return ""
	}
}

// normalizeSmoking maps the smoking encodings seen in responses to "smoker", "non-smoker" or "".
func normalizeSmoking(raw json.RawMessage) string {
	switch strings.ToLower(strings.TrimSpace(scalarString(raw))) {
	case "true", "1", "y", "yes", "smoker", "흡연", "흡연자":
		return "smoker"
	case "false", "0", "n", "no", "nonsmoker", "non-smoker", "비흡연", "비흡연자":
		return "non-smoker"
	default:
		return ""
	}
}
