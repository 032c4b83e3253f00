package session

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/roommate-match/go-client/model"
)

// roleClaims are the claims searched for roles, in order.
var roleClaims = []string{"role", "roles", "authorities", "scope", "scopes"}

// subjectClaims are the claims searched for the user id, in order.
var subjectClaims = []string{"sub", "userId", "id"}

// IdentityFromToken reads the identity out of an access token without
// verifying its signature; the server verifies it on every call.
// A privileged role wins over any other role present in the claims.
func IdentityFromToken(token string) (model.Identity, bool) {
	if token == "" {
		return model.Identity{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return model.Identity{}, false
	}
	var id model.Identity
	for _, name := range subjectClaims {
		if v, ok := claims[name]; ok && v != nil {
			if s := claimString(v); s != "" {
				id.ID = model.ID(s)
				break
			}
		}
	}
	for _, name := range roleClaims {
		for _, role := range claimRoles(claims[name]) {
			r := model.Role(role)
			if r.Privileged() {
				id.Role = r
				return id, true
			}
			if id.Role == "" {
				id.Role = r
			}
		}
	}
	return id, true
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

func claimRoles(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				// spring style {"authority": "ROLE_ADMIN"}
				if a, ok := it["authority"].(string); ok {
					out = append(out, a)
				}
			}
		}
		return out
	default:
		return nil
	}
}
