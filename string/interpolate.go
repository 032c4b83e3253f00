package string

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var refPattern = regexp.MustCompile(`\$\{([^{}]*)\}`)

type LookupFunc func(string) (string, bool)

// Interpolate replaces ${KEY} references in val using lookup.
//
// ${KEY:-default} falls back to default when KEY is unset or empty and
// ${!KEY} makes the reference required. Unresolved optional references are
// left as written.
func Interpolate(val string, lookup LookupFunc) (string, error) {
	if !strings.Contains(val, "${") {
		return val, nil
	}
	var missing []string
	out := refPattern.ReplaceAllStringFunc(val, func(ref string) string {
		key := refPattern.FindStringSubmatch(ref)[1]
		def, hasDefault := "", false
		required := strings.HasPrefix(key, "!")
		key = strings.TrimPrefix(key, "!")
		if idx := strings.Index(key, ":-"); idx != -1 {
			def, hasDefault = key[idx+2:], true
			key = key[:idx]
		}
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		if required {
			missing = append(missing, key)
		}
		if hasDefault {
			return def
		}
		return ref
	})
	if len(missing) > 0 {
		return "", errors.Newf("required value not found for %s", strings.Join(missing, ", "))
	}
	return out, nil
}
