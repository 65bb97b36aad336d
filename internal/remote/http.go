package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// maxPages bounds ListTasks pagination.
const maxPages = 100

// HTTPClient talks to the remote service over REST/JSON.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL authenticating with token. A nil
// httpClient uses DefaultHTTPClient.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// DefaultHTTPClient has a conservative timeout for single calls.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *HTTPClient) ListLists(ctx context.Context, folderID string) ([]List, error) {
	var body struct {
		Lists []List `json:"lists"`
	}
	if err := c.do(ctx, http.MethodGet, "/folder/"+url.PathEscape(folderID)+"/list", nil, &body); err != nil {
		return nil, err
	}
	return body.Lists, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, listID string) ([]Task, error) {
	var tasks []Task
	for page := 0; page < maxPages; page++ {
		var body struct {
			Tasks    []json.RawMessage `json:"tasks"`
			LastPage *bool             `json:"last_page"`
		}
		path := fmt.Sprintf("/list/%s/task?page=%d", url.PathEscape(listID), page)
		if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
			return nil, err
		}
		for _, raw := range body.Tasks {
			tasks = append(tasks, DecodeTask(raw))
		}
		if len(body.Tasks) == 0 || body.LastPage == nil || *body.LastPage {
			return tasks, nil
		}
	}
	return nil, fmt.Errorf("list %s: more than %d pages of tasks", listID, maxPages)
}

func (c *HTTPClient) GetTask(ctx context.Context, taskID string) (Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &raw); err != nil {
		return Task{}, err
	}
	return ParseTask(raw)
}

func (c *HTTPClient) CreateTask(ctx context.Context, listID string, req CreateTaskRequest) (Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/list/"+url.PathEscape(listID)+"/task", req, &raw); err != nil {
		return Task{}, err
	}
	return ParseTask(raw)
}

func (c *HTTPClient) UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) error {
	if req.Empty() {
		return nil
	}
	return c.do(ctx, http.MethodPut, "/task/"+url.PathEscape(taskID), req, nil)
}

func (c *HTTPClient) SetDropdownField(ctx context.Context, taskID, fieldID, optionID string) error {
	body := map[string]any{"value": optionID}
	return c.do(ctx, http.MethodPost, fieldPath(taskID, fieldID), body, nil)
}

func (c *HTTPClient) UpdateUsersField(ctx context.Context, taskID, fieldID string, diff UsersDiff) error {
	if diff.Empty() {
		return nil
	}
	if diff.Add == nil {
		diff.Add = []string{}
	}
	if diff.Rem == nil {
		diff.Rem = []string{}
	}
	body := map[string]any{"value": diff}
	return c.do(ctx, http.MethodPost, fieldPath(taskID, fieldID), body, nil)
}

func (c *HTTPClient) ListMembers(ctx context.Context, teamID string) ([]Member, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/team/"+url.PathEscape(teamID)+"/member", nil, &raw); err != nil {
		return nil, err
	}

	// Members come either flat or wrapped in a "user" object; ids may be
	// numbers or strings.
	var members []Member
	gjson.GetBytes(raw, "members").ForEach(func(_, m gjson.Result) bool {
		if u := m.Get("user"); u.IsObject() {
			m = u
		}
		if id := m.Get("id").String(); id != "" {
			members = append(members, Member{ID: id, Username: m.Get("username").String(), Email: m.Get("email").String()})
		}
		return true
	})
	return members, nil
}

func fieldPath(taskID, fieldID string) string {
	return "/task/" + url.PathEscape(taskID) + "/field/" + url.PathEscape(fieldID)
}

// do sends one request and decodes a 2xx JSON answer into out when out is
// not nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("remote base URL is not configured")
	}

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// continue
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("remote %s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("remote %s %s: %w", method, path, ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("remote %s %s: %w", method, path, ErrUnauthorized)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote %s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
