package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/invoice-importer/internal/extraction"
)

var (
	// ErrJobNotFound is returned when the server does not know a job
	ErrJobNotFound = errors.New("job not found")

	// ErrUnparseableResponse is returned when a response body is not the expected JSON
	ErrUnparseableResponse = errors.New("unparseable response")
)

// Job statuses reported by the server
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Client talks to the extraction endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	username   string
	password   string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBasicAuth sends basic auth credentials with every request
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a Client for an extraction endpoint such as
// http://localhost:8080/api/pdf-extract
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SubmitOptions selects how a document is processed
type SubmitOptions struct {
	OwnerID string
	Parser  string
	Async   bool
}

// Metadata describes a synchronous extraction
type Metadata struct {
	Pages            int    `json:"pages"`
	TextLength       int    `json:"textLength"`
	ProductsFound    int    `json:"productsFound"`
	Parser           string `json:"parser"`
	ExtractionTimeMs int64  `json:"extractionTimeMs"`
}

// Response is the reply to a document upload
type Response struct {
	StatusCode int                 `json:"-"`
	Success    bool                `json:"success"`
	JobID      string              `json:"jobId,omitempty"`
	Products   []extraction.Record `json:"products,omitempty"`
	Metadata   *Metadata           `json:"metadata,omitempty"`
	Error      string              `json:"error,omitempty"`
	Details    string              `json:"details,omitempty"`
}

// JobResult is the output of a completed job
type JobResult struct {
	Products      []extraction.Record `json:"products"`
	PagesCount    int                 `json:"pagesCount"`
	ExtractedText string              `json:"extractedText,omitempty"`
}

// JobStatus is a job as reported by the status endpoint
type JobStatus struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	FileName  string     `json:"fileName"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	Parser    string     `json:"parser,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Terminal reports whether the job will not change again
func (j *JobStatus) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Submit uploads a document. The returned Response carries the HTTP status even
// when the body cannot be parsed.
func (c *Client) Submit(ctx context.Context, fileName string, data []byte, opts SubmitOptions) (*Response, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("pdf", fileName)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	fields := map[string]string{"userId": opts.OwnerID, "parser": opts.Parser}
	if opts.Async {
		fields["async"] = "true"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("writing form field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := &Response{StatusCode: resp.StatusCode}
	if err := decode(resp.Body, result); err != nil {
		return result, err
	}
	return result, nil
}

// Status fetches the current state of a job
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	u := c.endpoint + "/status?" + url.Values{"jobId": {jobID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status request for %s returned %d", jobID, resp.StatusCode)
	}

	var job JobStatus
	if err := decode(resp.Body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

func decode(r io.Reader, v any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	return nil
}
