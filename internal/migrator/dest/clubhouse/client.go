// Package clubhouse is a client for the Clubhouse v2 API. Authentication is
// a token appended to each request URL; any status of 300 or above that is
// not explicitly declared ignorable is a transport failure, and a 204
// normalizes to an empty result.
package clubhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"example.com/asana-importer/internal/migrator/model"
)

// The v2 endpoint is required for external-ticket back-links.
const defaultBaseURL = "https://api.clubhouse.io/api/v2"

type Config struct {
	Token              string
	BaseURL            string
	IgnoredStatusCodes []int
	HTTPClient         *http.Client
}

type Client struct {
	token   string
	baseURL string
	ignored map[int]bool
	http    *http.Client
}

var _ model.DestinationClient = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("clubhouse: api token not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	ignored := make(map[int]bool, len(cfg.IgnoredStatusCodes))
	for _, code := range cfg.IgnoredStatusCodes {
		ignored[code] = true
	}
	return &Client{
		token:   cfg.Token,
		baseURL: cfg.BaseURL,
		ignored: ignored,
		http:    cfg.HTTPClient,
	}, nil
}

func (c *Client) Members(ctx context.Context) ([]model.Member, error) {
	var members []model.Member
	if err := c.do(ctx, http.MethodGet, "members", "", nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Client) CreateStory(ctx context.Context, payload map[string]any) (*model.CreatedStory, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var story model.CreatedStory
	if err := c.do(ctx, http.MethodPost, "stories", "application/json", bytes.NewReader(b), &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// UploadFile sends one attachment as a multipart upload. The endpoint
// responds with an array of created files; the single upload is its first
// element.
func (c *Client) UploadFile(ctx context.Context, filename, contentType string, r io.Reader) (*model.File, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var files []model.File
	if err := c.do(ctx, http.MethodPost, "files", mw.FormDataContentType(), &body, &files); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("clubhouse: file upload returned no files")
	}
	return &files[0], nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && !c.ignored[resp.StatusCode] {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("clubhouse api error: %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	// ignored failure statuses normalize to an empty result, like 204
	if out == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode >= 300 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) url(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return c.baseURL + "/" + path + sep + "token=" + url.QueryEscape(c.token)
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
