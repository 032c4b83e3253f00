package string

import (
	"encoding/json"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// Mask will mask a string by replacing the second half with asterisks.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// MaskToken shows only the first few characters of a credential.
func MaskToken(s string) string {
	if len(s) <= 8 {
		return Mask(s)
	}
	return s[:6] + "…" + strings.Repeat("*", 6)
}

// sensitiveParams are query parameters that carry credentials.
var sensitiveParams = []string{"token", "access_token", "refreshToken", "refresh_token", "password"}

// MaskURL returns the URL with credentials hidden: userinfo and credential
// query parameters are masked, the rest of the URL is kept readable.
func MaskURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse URL")
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	if u.User != nil {
		str.WriteString(Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			str.WriteString(":")
			str.WriteString(Mask(pass))
		}
		str.WriteString("@")
	}
	str.WriteString(u.Host)
	str.WriteString(u.EscapedPath())
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var qs []string
	for _, k := range keys {
		v := strings.Join(q[k], ",")
		if slices.Contains(sensitiveParams, k) {
			v = MaskToken(v)
		}
		qs = append(qs, k+"="+v)
	}
	if len(qs) > 0 {
		str.WriteString("?")
		str.WriteString(strings.Join(qs, "&"))
	}
	return str.String(), nil
}

var isURL = regexp.MustCompile(`^(\w+)://`)
var isJWT = regexp.MustCompile(`^[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+$`)

// MaskValue masks URLs and bearer tokens, returning anything else unchanged.
func MaskValue(arg string) string {
	switch {
	case isURL.MatchString(arg):
		if u, err := MaskURL(arg); err == nil {
			return u
		}
		return Mask(arg)
	case isJWT.MatchString(arg):
		return MaskToken(arg)
	default:
		return arg
	}
}

// MaskedString is a string that masks itself when formatted.
type MaskedString string

// Text returns the unmasked value.
func (ms MaskedString) Text() string {
	return string(ms)
}

// String implements fmt.Stringer to return a masked representation.
func (ms MaskedString) String() string {
	if len(ms) == 0 {
		return ""
	}
	return MaskToken(string(ms))
}

// GoString implements fmt.GoStringer so %#v also prints masked.
func (ms MaskedString) GoString() string {
	return ms.String()
}

// MarshalText keeps masked output in text encoders such as loggers.
func (ms MaskedString) MarshalText() ([]byte, error) {
	return []byte(ms.String()), nil
}

// UnmarshalText accepts the real value.
func (ms *MaskedString) UnmarshalText(b []byte) error {
	*ms = MaskedString(b)
	return nil
}

// MarshalJSON implements json.Marshaler for real (unmasked) JSON output.
func (ms MaskedString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(ms))
}
