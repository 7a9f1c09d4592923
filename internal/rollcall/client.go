// Package rollcall is a client for a remote roster and attendance API. It
// implements every collaborator operation the capture pipeline consumes.
package rollcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
)

// Client talks to the remote API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at rawURL.
func NewClient(rawURL, token string) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("rollcall API URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid rollcall API URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid rollcall API URL scheme %q", parsed.Scheme)
	}
	return &Client{
		baseURL:    parsed,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// resolveURL joins the endpoint path onto the base URL. A query string in the
// endpoint is preserved.
func (c *Client) resolveURL(endpoint string) string {
	pathPart, query, _ := strings.Cut(endpoint, "?")
	u := c.baseURL.JoinPath(strings.Split(pathPart, "/")...)
	u.RawQuery = query
	return u.String()
}

// FetchRoster fetches the students of a section with statuses already stored for date.
func (c *Client) FetchRoster(ctx context.Context, subjectID string, section int, date string) (*attendance.Roster, error) {
	q := url.Values{}
	q.Set("date", date)
	endpoint := fmt.Sprintf("subjects/%s/sections/%d/roster?%s", url.PathEscape(subjectID), section, q.Encode())

	resp, err := doGetJSON[rosterResponse](ctx, c, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	return resp.toRoster()
}

// FetchSessionWindows fetches all weekly windows of a subject.
func (c *Client) FetchSessionWindows(ctx context.Context, subjectID string) ([]attendance.SessionWindow, error) {
	resp, err := doGetJSON[windowsResponse](ctx, c, "subjects/"+url.PathEscape(subjectID)+"/windows")
	if err != nil {
		return nil, fmt.Errorf("fetch session windows: %w", err)
	}
	windows := make([]attendance.SessionWindow, 0, len(resp.Windows))
	for _, w := range resp.Windows {
		if w.SubjectID == "" {
			w.SubjectID = subjectID
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// PersistAttendance upserts a batch of records.
func (c *Client) PersistAttendance(ctx context.Context, key attendance.SessionKey, records []attendance.Record) error {
	if len(records) == 0 {
		return nil
	}
	body := attendanceRequest{SessionKey: key, Records: records}
	if err := doPutJSON(ctx, c, "attendance", body); err != nil {
		return fmt.Errorf("persist attendance: %w", err)
	}
	return nil
}

// SetSessionLive appends a start or end entry to the remote session log.
func (c *Client) SetSessionLive(ctx context.Context, subjectID string, section int, action attendance.LiveAction, at time.Time) error {
	body := sessionLogRequest{SubjectID: subjectID, Section: section, Action: action, At: at.UTC()}
	if err := doPostJSON(ctx, c, "sessions/log", body); err != nil {
		return fmt.Errorf("set session live: %w", err)
	}
	return nil
}

// ResolveReferenceImage downloads a reference image.
func (c *Client) ResolveReferenceImage(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("empty reference path")
	}
	q := url.Values{}
	q.Set("path", path)
	data, err := doGetBytes(ctx, c, "references?"+q.Encode(), constants.MaxReferenceImageSize)
	if err != nil {
		return nil, fmt.Errorf("resolve reference image %s: %w", path, err)
	}
	return data, nil
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := doGetJSON[healthResponse](ctx, c, "health"); err != nil {
		return fmt.Errorf("ping rollcall API: %w", err)
	}
	return nil
}
