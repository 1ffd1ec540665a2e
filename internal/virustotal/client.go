// Package virustotal is a minimal client for the VirusTotal v2 URL report API.
package virustotal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"
)

// Defaults match the public v2 API.
const (
	DefaultAPIURL    = "https://www.virustotal.com/vtapi/v2/url/report"
	DefaultUserAgent = "BrowserHistoryAnalyzer/1.0"
	DefaultTimeout   = 10 * time.Second
)

// scanDateLayout is the format of the scan_date field.
const scanDateLayout = "2006-01-02 15:04:05"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// URLReport is the decoded body of a 200 response.
type URLReport struct {
	ResponseCode int
	Positives    int
	Total        int
	// HasCounts is false when positives or total were absent from the body.
	HasCounts  bool
	ScanDate   string
	Permalink  string
	VerboseMsg string
}

// ScanTime parses ScanDate. ok is false when the field is empty or malformed.
func (r *URLReport) ScanTime() (t time.Time, ok bool) {
	if r.ScanDate == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(scanDateLayout, r.ScanDate, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type rawReport struct {
	ResponseCode int    `json:"response_code"`
	Positives    *int   `json:"positives"`
	Total        *int   `json:"total"`
	ScanDate     string `json:"scan_date"`
	Permalink    string `json:"permalink"`
	VerboseMsg   string `json:"verbose_msg"`
}

// StatusError is returned for any non-200 HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("virustotal: HTTP %d", e.Code)
}

// QuotaExceeded reports whether the service rejected the request for
// exceeding the public API rate limit.
func (e *StatusError) QuotaExceeded() bool {
	return e.Code == http.StatusNoContent
}

// DecodeError wraps a body that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("invalid response: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	APIURL     string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client performs URL report lookups.
type Client struct {
	httpClient *http.Client
	apiKey     string
	apiURL     string
	userAgent  string
	logger     *log.Logger
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		apiKey:     apiKey,
		apiURL:     opts.APIURL,
		userAgent:  opts.UserAgent,
		logger:     opts.Logger,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c
}

// URLReport fetches the report for resource. Non-200 statuses return a
// *StatusError; unreadable bodies return a *DecodeError; anything else is a
// transport error.
func (c *Client) URLReport(ctx context.Context, resource string) (*URLReport, error) {
	q := url.Values{}
	q.Set("apikey", c.apiKey)
	q.Set("resource", resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", stripURL(err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request url report: %w", stripURL(err))
	}
	defer resp.Body.Close()

	c.logger.Debug("url report response", "resource", resource, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read url report: %w", err)
	}

	var raw rawReport
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DecodeError{Err: err}
	}

	report := &URLReport{
		ResponseCode: raw.ResponseCode,
		ScanDate:     raw.ScanDate,
		Permalink:    raw.Permalink,
		VerboseMsg:   raw.VerboseMsg,
	}
	if raw.Positives != nil && raw.Total != nil {
		report.Positives = *raw.Positives
		report.Total = *raw.Total
		report.HasCounts = true
	}
	return report, nil
}

// stripURL drops the request URL, which carries the API key, from
// transport errors.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
