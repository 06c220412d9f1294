package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/retry"
)

const maxResponseBodySize = 10 << 20

// Config holds Canvas gateway configuration.
type Config struct {
	BaseURL           string
	APIVersion        string
	Timeout           time.Duration
	PerPage           int
	MaxPages          int
	MaxConcurrency    int
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Config
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://dlsu.instructure.com",
		APIVersion:        "v1",
		Timeout:           10 * time.Second,
		PerPage:           100,
		MaxPages:          100,
		MaxConcurrency:    4,
		RequestsPerSecond: 10,
		Burst:             20,
		Retry:             retry.DefaultConfig(),
	}
}

// Client talks to the Canvas REST API.
type Client struct {
	cfg     Config
	apiBase *url.URL
	http    *http.Client
	retry   *retry.Policy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy overrides the retry policy used for reads.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a Canvas client. A nil logger uses slog.Default().
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaults.APIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaults.PerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/api/" + cfg.APIVersion + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid canvas base url %q", cfg.BaseURL)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		apiBase: base,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = retry.New(cfg.Retry, logger)
	}
	return c, nil
}

// ValidateCredential checks a token against the "who am I" endpoint.
// Any non-200 response yields an invalid result rather than an error; the
// error return is reserved for transport failures.
func (c *Client) ValidateCredential(ctx context.Context, token string) (*Validation, error) {
	var profile Profile
	_, err := retry.Do(ctx, c.retry, "canvas.users_self", func(ctx context.Context) (string, error) {
		return c.get(ctx, token, c.endpoint("users/self", nil), &profile)
	})

	var se *StatusError
	switch {
	case err == nil:
		return &Validation{Valid: true, Profile: &profile, Status: http.StatusOK}, nil
	case errors.As(err, &se):
		c.logger.Info("Canvas credential rejected", "status", se.StatusCode)
		return &Validation{
			Valid:  false,
			Status: se.StatusCode,
			Reason: http.StatusText(se.StatusCode),
		}, nil
	default:
		return nil, fmt.Errorf("validate canvas credential: %w", err)
	}
}

// ListCourses returns all actively enrolled courses across every page.
func (c *Client) ListCourses(ctx context.Context, token string) ([]Course, error) {
	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Set("per_page", strconv.Itoa(c.cfg.PerPage))

	raw, err := getAll[apiCourse](ctx, c, token, "canvas.courses", c.endpoint("courses", q))
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	courses := make([]Course, 0, len(raw))
	for _, rc := range raw {
		course := Course{ID: rc.ID, Name: rc.Name, CourseCode: rc.CourseCode, Term: "Unknown"}
		if rc.Term != nil && rc.Term.Name != "" {
			course.Term = rc.Term.Name
		}
		courses = append(courses, course)
	}
	return courses, nil
}

// ListAssignments returns every dated assignment across all active courses,
// sorted by due date ascending.
func (c *Client) ListAssignments(ctx context.Context, token string) ([]domain.Assignment, error) {
	courses, err := c.ListCourses(ctx, token)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Fetching Canvas assignments", "courses", len(courses))

	perCourse := make([][]domain.Assignment, len(courses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for i, course := range courses {
		g.Go(func() error {
			items, err := c.listCourseAssignments(gctx, token, course)
			if err != nil {
				return err
			}
			perCourse[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []domain.Assignment
	for _, items := range perCourse {
		all = append(all, items...)
	}
	domain.SortByDue(all)

	c.logger.Info("Canvas assignments fetched", "courses", len(courses), "assignments", len(all))
	return all, nil
}

func (c *Client) listCourseAssignments(ctx context.Context, token string, course Course) ([]domain.Assignment, error) {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.cfg.PerPage))
	q.Set("order_by", "due_at")
	q.Add("include[]", "submission")

	path := fmt.Sprintf("courses/%d/assignments", course.ID)
	raw, err := getAll[apiAssignment](ctx, c, token, "canvas.assignments", c.endpoint(path, q))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusNotFound) {
			c.logger.Warn("Skipping inaccessible course", "course_id", course.ID, "status", se.StatusCode)
			return nil, nil
		}
		return nil, fmt.Errorf("list assignments for course %d: %w", course.ID, err)
	}

	items := make([]domain.Assignment, 0, len(raw))
	skipped := 0
	for _, ra := range raw {
		if ra.DueAt == nil {
			skipped++
			continue
		}
		due := ra.DueAt.UTC()
		items = append(items, domain.Assignment{
			ID:              strconv.FormatInt(ra.ID, 10),
			Title:           ra.Name,
			CourseName:      course.Name,
			CourseCode:      course.CourseCode,
			DueAt:           &due,
			Description:     ra.Description,
			PointsPossible:  ra.PointsPossible,
			SubmissionTypes: ra.SubmissionTypes,
			HTMLURL:         ra.HTMLURL,
			Completed:       ra.completed(),
			Source:          domain.SourceCanvas,
		})
	}
	if skipped > 0 {
		c.logger.Debug("Skipped undated assignments", "course_id", course.ID, "count", skipped)
	}
	return items, nil
}

// CreateCalendarEvent creates a personal calendar entry. It is attempted once
// and never retried.
func (c *Client) CreateCalendarEvent(ctx context.Context, token string, ev CalendarEvent) (*CalendarEntry, error) {
	end := ev.StartAt
	if ev.EndAt != nil {
		end = *ev.EndAt
	}
	body, err := json.Marshal(calendarEventRequest{CalendarEvent: calendarEventBody{
		ContextCode: "user_self",
		Title:       ev.Title,
		StartAt:     ev.StartAt.UTC().Format(time.RFC3339),
		EndAt:       end.UTC().Format(time.RFC3339),
		Description: ev.Description,
	}})
	if err != nil {
		return nil, fmt.Errorf("encode calendar event: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.endpoint("calendar_events", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create calendar event: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read calendar event response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &StatusError{StatusCode: resp.StatusCode, Method: http.MethodPost, URL: redactURL(target), Body: truncate(string(data), 512)}
	}

	var created apiCalendarEvent
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("decode calendar event: %w", err)
	}
	c.logger.Info("Created Canvas calendar event", "event_id", created.ID)
	return &CalendarEntry{
		ID:      strconv.FormatInt(created.ID, 10),
		Title:   created.Title,
		StartAt: created.StartAt,
		HTMLURL: created.HTMLURL,
	}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.apiBase.ResolveReference(&url.URL{Path: path})
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// getAll follows rel="next" links until none remain.
func getAll[T any](ctx context.Context, c *Client, token, name, first string) ([]T, error) {
	var all []T
	next := first
	for page := 0; next != ""; page++ {
		if page >= c.cfg.MaxPages {
			return nil, fmt.Errorf("%w (%d pages)", ErrTooManyPages, c.cfg.MaxPages)
		}

		target := next
		var items []T
		link, err := retry.Do(ctx, c.retry, name, func(ctx context.Context) (string, error) {
			items = nil
			return c.get(ctx, token, target, &items)
		})
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		next, err = c.resolve(link)
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (c *Client) resolve(link string) (string, error) {
	if link == "" {
		return "", nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	return c.apiBase.ResolveReference(u).String(), nil
}

// get performs one GET attempt with its own deadline and decodes the body
// into out. It returns the next-page link, if any.
func (c *Client) get(ctx context.Context, token, target string, out any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Method: http.MethodGet, URL: redactURL(target), Body: truncate(string(data), 512)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return nextLink(resp.Header.Get("Link")), nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
