// Package asana is a minimal client for the Asana REST API covering what the
// importer needs: task listing, subtasks, attachments, activity feeds, users
// and the two write operations used to mark a task migrated.
package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"example.com/asana-importer/internal/migrator/model"
)

const (
	defaultBaseURL  = "https://app.asana.com/api/1.0"
	defaultPageSize = 100
)

// Config is explicit client configuration; there is no process-global state.
type Config struct {
	Token      string
	BaseURL    string
	PageSize   int
	HTTPClient *http.Client
}

type Client struct {
	token    string
	baseURL  string
	pageSize int
	http     *http.Client
}

var _ model.SourceClient = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("asana: api token not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		token:    cfg.Token,
		baseURL:  cfg.BaseURL,
		pageSize: cfg.PageSize,
		http:     cfg.HTTPClient,
	}, nil
}

// UsersInWorkspace returns every user of the caller's first workspace, with
// email addresses for the identity join.
func (c *Client) UsersInWorkspace(ctx context.Context) ([]model.User, error) {
	var me struct {
		Data struct {
			Workspaces []model.NamedRef `json:"workspaces"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/users/me", nil, &me); err != nil {
		return nil, err
	}
	if len(me.Data.Workspaces) == 0 {
		return nil, fmt.Errorf("asana: current user has no workspaces")
	}

	q := url.Values{"opt_fields": {"name,email"}}
	var users []model.User
	err := c.page(ctx, fmt.Sprintf("/workspaces/%d/users", me.Data.Workspaces[0].ID), q, func(data json.RawMessage) error {
		var page []model.User
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		users = append(users, page...)
		return nil
	})
	return users, err
}

// ForEachTaskInProject streams the project's task refs page by page, calling
// fn for each one. The listing is lazy: fn runs as pages arrive.
func (c *Client) ForEachTaskInProject(ctx context.Context, projectID int64, fn func(model.TaskRef) error) error {
	return c.page(ctx, fmt.Sprintf("/projects/%d/tasks", projectID), nil, func(data json.RawMessage) error {
		var page []model.TaskRef
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		for _, ref := range page {
			if err := fn(ref); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) TaskByID(ctx context.Context, id int64) (*model.Task, error) {
	var out struct {
		Data model.Task `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/tasks/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) Subtasks(ctx context.Context, id int64) ([]model.TaskRef, error) {
	var refs []model.TaskRef
	err := c.page(ctx, fmt.Sprintf("/tasks/%d/subtasks", id), nil, func(data json.RawMessage) error {
		var page []model.TaskRef
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		refs = append(refs, page...)
		return nil
	})
	return refs, err
}

func (c *Client) Attachments(ctx context.Context, id int64) ([]model.Attachment, error) {
	q := url.Values{"opt_fields": {"name,download_url"}}
	var out struct {
		Data []model.Attachment `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/tasks/%d/attachments", id), q, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ActivitiesByTask(ctx context.Context, id int64) ([]model.Activity, error) {
	var out struct {
		Data []model.Activity `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/tasks/%d/stories", id), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DownloadAttachment fetches a transient, pre-signed attachment URL. The
// caller must close the returned body.
func (c *Client) DownloadAttachment(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("asana download error: %s: %s", resp.Status, string(b))
	}
	return resp.Body, nil
}

func (c *Client) AddComment(ctx context.Context, taskID int64, text string) error {
	payload := map[string]any{"data": map[string]string{"text": text}}
	return c.post(ctx, fmt.Sprintf("/tasks/%d/stories", taskID), payload)
}

func (c *Client) AddTag(ctx context.Context, taskID, tagID int64) error {
	payload := map[string]any{"data": map[string]string{"tag": strconv.FormatInt(tagID, 10)}}
	return c.post(ctx, fmt.Sprintf("/tasks/%d/addTag", taskID), payload)
}

type pageEnvelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// page walks a paginated collection, passing each page's raw data to fn.
func (c *Client) page(ctx context.Context, path string, query url.Values, fn func(json.RawMessage) error) error {
	offset := ""
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if offset != "" {
			q.Set("offset", offset)
		}
		var env pageEnvelope
		if err := c.get(ctx, path, q, &env); err != nil {
			return err
		}
		if err := fn(env.Data); err != nil {
			return err
		}
		if env.NextPage == nil || env.NextPage.Offset == "" {
			return nil
		}
		offset = env.NextPage.Offset
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("asana api error: %s %s: %s: %s", req.Method, req.URL.Path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
