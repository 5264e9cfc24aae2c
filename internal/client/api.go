// Package client talks to the analyzer HTTP API and follows running analyses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appanalysis "github.com/bryanwahyu/jbi-analyzer/internal/application/analysis"
	appreport "github.com/bryanwahyu/jbi-analyzer/internal/application/report"
	domain "github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	Fields     map[string]any
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.StatusCode, e.Details)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// File is one document to upload.
type File struct {
	Name string
	Body io.Reader
}

// OpenFiles opens paths for Upload. The returned closer closes all of them.
func OpenFiles(paths []string) ([]File, func(), error) {
	var (
		files   []File
		handles []*os.File
	)
	closeAll := func() {
		for _, h := range handles {
			h.Close()
		}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		handles = append(handles, f)
		files = append(files, File{Name: filepath.Base(p), Body: f})
	}
	return files, closeAll, nil
}

// Upload posts files as application/pdf parts of the "files" field.
func (c *Client) Upload(ctx context.Context, files []File) (*appanalysis.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "files", "filename": f.Name}))
		h.Set("Content-Type", "application/pdf")
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(w, f.Body); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.request(ctx, http.MethodPost, "/api/upload", nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out appanalysis.UploadResult
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the analysis status. executionArn is optional.
func (c *Client) Status(ctx context.Context, sessionID, executionARN string) (*appanalysis.StatusResult, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	if executionARN != "" {
		q.Set("executionArn", executionARN)
	}
	req, err := c.request(ctx, http.MethodGet, "/api/status", q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	var out appanalysis.StatusResult
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportResponse is the body of GET /api/report.
type ReportResponse struct {
	Success        bool            `json:"success"`
	Report         json.RawMessage `json:"report"`
	ReportLocation string          `json:"reportLocation"`
	LastModified   string          `json:"lastModified"`
	ContentLength  int64           `json:"contentLength"`
}

func reportValues(q appreport.Query) url.Values {
	v := url.Values{}
	if q.SessionID != "" {
		v.Set("sessionId", q.SessionID)
	}
	if q.ReportKey != "" {
		v.Set("reportKey", q.ReportKey)
	}
	return v
}

func (c *Client) Report(ctx context.Context, q appreport.Query) (*ReportResponse, error) {
	req, err := c.request(ctx, http.MethodGet, "/api/report", reportValues(q), nil)
	if err != nil {
		return nil, err
	}
	var out ReportResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export streams a rendering into w and returns the server's download filename.
func (c *Client) Export(ctx context.Context, q appreport.Query, format string, at time.Time, w io.Writer) (string, error) {
	v := reportValues(q)
	v.Set("format", format)
	if !at.IsZero() {
		v.Set("at", at.UTC().Format(time.RFC3339))
	}
	req, err := c.request(ctx, http.MethodGet, "/api/report/export", v, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", decodeError(resp)
	}

	var filename string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return filename, nil
}

func (c *Client) Debug(ctx context.Context, sessionID, prefix string) (*appreport.DebugResult, error) {
	v := url.Values{"sessionId": {sessionID}}
	if prefix != "" {
		v.Set("prefix", prefix)
	}
	req, err := c.request(ctx, http.MethodGet, "/api/debug/s3", v, nil)
	if err != nil {
		return nil, err
	}
	var out appreport.DebugResult
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Sessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	req, err := c.request(ctx, http.MethodGet, "/api/sessions", v, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Sessions []*domain.Session `json:"sessions"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) request(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return apiErr
	}
	if msg, ok := body["error"].(string); ok && msg != "" {
		apiErr.Message = msg
	}
	if d, ok := body["details"].(string); ok {
		apiErr.Details = d
	}
	delete(body, "error")
	delete(body, "details")
	if len(body) > 0 {
		apiErr.Fields = body
	}
	return apiErr
}
