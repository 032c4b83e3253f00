// Package api is the REST client of the roommate matching service.
//
// Every call carries the current access token as a bearer credential. When a
// call is rejected with 401 the client refreshes the credentials once, shared
// by all concurrent callers, and replays the rejected calls with the new token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/roommate-match/go-client/logger"
	"github.com/roommate-match/go-client/metrics"
	"github.com/roommate-match/go-client/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 10 * time.Second

// DefaultRefreshPath is the credential refresh endpoint.
const DefaultRefreshPath = "/auth/refresh"

// credential issuance endpoints never carry a bearer token and never trigger a refresh
var credentialPath = regexp.MustCompile(`/auth/(login|register|refresh)\b`)

// Request describes one REST call. A Request records whether it has already
// been replayed after a refresh and must not be shared between calls.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header

	cookies []*http.Cookie
	retried bool
}

// Retried reports whether the request was replayed after a credential refresh.
func (r *Request) Retried() bool {
	return r.retried
}

type response struct {
	status int
	body   []byte
	header http.Header
}

type Client struct {
	baseURL     *url.URL
	client      *http.Client
	sessions    *session.Store
	refresh     *RefreshCoordinator
	refreshPath string
	logger      logger.Logger
	tracer      trace.Tracer
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRefreshCoordinator shares rc with other clients using the same session.
func WithRefreshCoordinator(rc *RefreshCoordinator) Option {
	return func(c *Client) { c.refresh = rc }
}

// WithRefreshPath overrides the refresh endpoint path.
func WithRefreshPath(p string) Option {
	return func(c *Client) { c.refreshPath = p }
}

// New returns a client for the API rooted at baseURL using sessions for credentials.
func New(baseURL string, sessions *session.Store, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "error parsing base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("unsupported api base url %q", baseURL)
	}
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL:     u,
		client:      &http.Client{Timeout: DefaultTimeout, Jar: jar},
		sessions:    sessions,
		refreshPath: DefaultRefreshPath,
		tracer:      otel.Tracer("github.com/roommate-match/go-client/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refresh == nil {
		c.refresh = NewRefreshCoordinator()
	}
	if c.logger == nil {
		c.logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	c.logger = c.logger.WithPrefix("[api]")
	return c, nil
}

// Sessions returns the session store backing the client.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "roommate-go-client/" + Version + " (" + gitSHA + ")"
}

func (c *Client) isCredentialPath(p string) bool {
	return credentialPath.MatchString(p) || p == c.refreshPath
}

// Do executes req and decodes the JSON response body into out when out is
// not nil.
//
// A 401 on a non credential request that has not been replayed yet runs the
// refresh protocol. If the refresh fails the session is cleared and the
// returned error matches ErrAuthExpired. Any other failure is returned as is:
// an *Error carrying the status, marked ErrTransport when no response was
// received.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	var token string
	if !c.isCredentialPath(req.Path) {
		token = c.sessions.AccessToken()
	}
	resp, err := c.roundTrip(ctx, req, token)
	if err != nil {
		if IsUnauthorized(err) && !req.retried && !c.isCredentialPath(req.Path) {
			req.retried = true
			return c.recoverUnauthorized(ctx, req, out, err)
		}
		return err
	}
	return c.decode(req, resp, out)
}

func (c *Client) recoverUnauthorized(ctx context.Context, req *Request, out any, cause error) error {
	leader, wait := c.refresh.join()
	if !leader {
		c.logger.Debug("%s %s waiting for credential refresh", req.Method, req.Path)
		select {
		case res := <-wait:
			if res.err != nil {
				return errors.Mark(cause, ErrAuthExpired)
			}
			metrics.Replays.WithLabelValues("waiter").Inc()
			return c.replay(ctx, req, out, res.token)
		case <-ctx.Done():
			return errors.Mark(errors.Wrap(ctx.Err(), "waiting for credential refresh"), ErrTransport)
		}
	}
	token, err := c.leadRefresh(ctx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "credential refresh failed"), ErrAuthExpired)
	}
	metrics.Replays.WithLabelValues("leader").Inc()
	return c.replay(ctx, req, out, token)
}

func (c *Client) leadRefresh(ctx context.Context) (token string, err error) {
	defer func() { c.refresh.settle(token, err) }()
	// the refresh outlives a cancelled trigger since waiters depend on it
	token, err = c.refreshCredentials(context.WithoutCancel(ctx))
	if err != nil {
		metrics.Refreshes.WithLabelValues("failure").Inc()
		c.logger.Warn("credential refresh failed, clearing session: %s", err)
		c.sessions.Clear()
		return "", err
	}
	metrics.Refreshes.WithLabelValues("success").Inc()
	c.logger.Debug("credential refresh succeeded")
	return token, nil
}

func (c *Client) replay(ctx context.Context, req *Request, out any, token string) error {
	c.logger.Trace("replaying %s %s", req.Method, req.Path)
	resp, err := c.roundTrip(ctx, req, token)
	if err != nil {
		return err
	}
	return c.decode(req, resp, out)
}

func (c *Client) resolve(req *Request) string {
	u := *c.baseURL
	p := req.Path
	if i := strings.Index(p, "?"); i != -1 {
		u.RawQuery = p[i+1:]
		p = p[:i]
	}
	if p != "" {
		u.Path = path.Join("/", u.Path, p)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) roundTrip(ctx context.Context, req *Request, token string) (*response, error) {
	u := c.resolve(req)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, NewError(u, method, 0, "", errors.Wrap(err, "error marshalling payload"), "")
		}
		body = bytes.NewReader(buf)
	}

	ctx, span := c.tracer.Start(ctx, method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
			attribute.Bool("roommate.replayed", req.retried),
		))
	defer span.End()

	hreq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, NewError(u, method, 0, "", errors.Wrap(err, "error creating request"), "")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("User-Agent", UserAgent())
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	for _, cookie := range req.cookies {
		hreq.AddCookie(cookie)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(hreq.Header))

	c.logger.Trace("sending request: %s %s", method, u)
	started := time.Now()
	resp, err := c.client.Do(hreq)
	if err != nil {
		metrics.RequestDuration.WithLabelValues(method, "error").Observe(time.Since(started).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, transportError(u, method, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Mark(NewError(u, method, resp.StatusCode, "", errors.Wrap(err, "error reading response body"), ""), ErrTransport)
	}
	metrics.RequestDuration.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	traceID := resp.Header.Get("traceparent")
	contentType := resp.Header.Get("Content-Type")
	preview := "<redacted>"
	if !c.isCredentialPath(req.Path) {
		preview = safeBodyPreview(respBody, contentType, 200)
	}
	c.logger.Debug("%s %s -> %s, body: %s", method, req.Path, resp.Status, preview)

	if resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return nil, NewError(u, method, resp.StatusCode, string(respBody), serverMessage(resp, respBody), traceID)
	}
	return &response{status: resp.StatusCode, body: respBody, header: resp.Header}, nil
}

// serverError is the error body the backend returns.
type serverError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func serverMessage(resp *http.Response, body []byte) error {
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var se serverError
		if err := json.Unmarshal(body, &se); err == nil {
			switch {
			case se.Message != "" && se.Code != "":
				return errors.Newf("%s (%s)", se.Message, se.Code)
			case se.Message != "":
				return errors.New(se.Message)
			case se.Error != "":
				return errors.Newf("request failed with status (%s): %s", resp.Status, se.Error)
			}
		}
	}
	return errors.Newf("request failed with status (%s)", resp.Status)
}

func (c *Client) decode(req *Request, resp *response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], resp.body...)
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return NewError(c.resolve(req), req.Method, resp.status, string(resp.body), errors.Wrap(err, "error JSON decoding response"), "")
	}
	return nil
}

// safeBodyPreview returns a loggable preview of a response body: text is
// truncated, anything else is summarised by size.
func safeBodyPreview(body []byte, contentType string, maxChars int) string {
	if maxChars == 0 {
		maxChars = 200
	}
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.Contains(ct, "json") && !strings.HasPrefix(ct, "text/") {
		return fmt.Sprintf("<%s: %d bytes>", ct, len(body))
	}
	s := string(body)
	if len(s) > maxChars {
		return s[:maxChars] + fmt.Sprintf("[truncated, total: %d chars]", len(s))
	}
	return s
}
