package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/pkg/errors"

	"github.com/rs/zerolog"
)

type Member struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

type Issue struct {
	Key          string `json:"key"`
	Summary      string `json:"summary"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status"`
	AssigneeID   string `json:"assigneeId,omitempty"`
	AssigneeName string `json:"assigneeName,omitempty"`
}

type CreatedIssue struct {
	Key string
	URL string
}

type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the issue tracker boundary.
type Client interface {
	ListAssignableMembers(ctx context.Context) ([]Member, error)
	CreateIssue(ctx context.Context, task model.Task, meetingID string) (*CreatedIssue, error)
	UpdateAssignee(ctx context.Context, issueKey, accountID string) error
	ListTransitions(ctx context.Context, issueKey string) ([]Transition, error)
	ApplyTransition(ctx context.Context, issueKey, transitionID string) error
	SearchIssues(ctx context.Context, jql string) ([]Issue, error)
}

type RESTClient struct {
	cfg        config.JiraConfig
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg *config.Config) *RESTClient {
	return &RESTClient{
		cfg: cfg.Jira,
		httpClient: &http.Client{
			Timeout: cfg.Jira.Timeout,
		},
		log: logger.Get(),
	}
}

func (c *RESTClient) ListAssignableMembers(ctx context.Context) ([]Member, error) {
	query := url.Values{}
	query.Set("project", c.cfg.ProjectKey)
	query.Set("maxResults", "1000")

	var members []Member
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/user/assignable/search?"+query.Encode(), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// adfDoc is the minimal Atlassian document wrapper for a plain-text body.
func adfDoc(text string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "doc",
		"version": 1,
		"content": []map[string]interface{}{{
			"type": "paragraph",
			"content": []map[string]interface{}{{
				"type": "text",
				"text": text,
			}},
		}},
	}
}

func (c *RESTClient) CreateIssue(ctx context.Context, task model.Task, meetingID string) (*CreatedIssue, error) {
	dueDate := task.DueDate
	if dueDate == "" {
		dueDate = "not specified"
	}
	body := fmt.Sprintf("%s\n\nAssignee: %s\nDue: %s\nPriority: %s\n\nAuto-generated from meeting: %s",
		task.Description, task.Assignee, dueDate, task.Priority, meetingID)

	fields := map[string]interface{}{
		"project":     map[string]string{"key": c.cfg.ProjectKey},
		"summary":     task.Title,
		"description": adfDoc(body),
		"issuetype":   map[string]string{"name": "Task"},
	}
	if task.AssigneeID != "" {
		fields["assignee"] = map[string]string{"accountId": task.AssigneeID}
	}

	var resp struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", map[string]interface{}{"fields": fields}, &resp); err != nil {
		return nil, err
	}

	return &CreatedIssue{
		Key: resp.Key,
		URL: fmt.Sprintf("%s/browse/%s", c.cfg.BaseURL, resp.Key),
	}, nil
}

func (c *RESTClient) UpdateAssignee(ctx context.Context, issueKey, accountID string) error {
	payload := map[string]interface{}{
		"fields": map[string]interface{}{
			"assignee": map[string]string{"accountId": accountID},
		},
	}
	return c.do(ctx, http.MethodPut, "/rest/api/3/issue/"+issueKey, payload, nil)
}

func (c *RESTClient) ListTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	var resp struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/issue/"+issueKey+"/transitions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transitions, nil
}

func (c *RESTClient) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	payload := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	return c.do(ctx, http.MethodPost, "/rest/api/3/issue/"+issueKey+"/transitions", payload, nil)
}

func (c *RESTClient) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	query := url.Values{}
	query.Set("jql", jql)
	query.Set("maxResults", "100")
	query.Set("fields", "summary,description,status,assignee")

	var resp struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary     string          `json:"summary"`
				Description json.RawMessage `json:"description"`
				Status      struct {
					Name string `json:"name"`
				} `json:"status"`
				Assignee *struct {
					AccountID   string `json:"accountId"`
					DisplayName string `json:"displayName"`
				} `json:"assignee"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/search?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issue := Issue{
			Key:         raw.Key,
			Summary:     raw.Fields.Summary,
			Description: flattenADF(raw.Fields.Description),
			Status:      raw.Fields.Status.Name,
		}
		if raw.Fields.Assignee != nil {
			issue.AssigneeID = raw.Fields.Assignee.AccountID
			issue.AssigneeName = raw.Fields.Assignee.DisplayName
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewTimeout("jira", err)
		}
		return errors.NewUnavailable("jira", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewThrottled("jira", fmt.Errorf("HTTP %d on %s", resp.StatusCode, path))
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound:
		return errors.NewRejected("jira", fmt.Errorf("HTTP %d on %s", resp.StatusCode, path))
	default:
		return errors.NewUnavailable("jira", fmt.Errorf("HTTP %d on %s", resp.StatusCode, path))
	}
}

// flattenADF pulls the plain text out of an Atlassian document field; older
// instances may return a bare string instead.
func flattenADF(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var doc struct {
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var buf bytes.Buffer
	for _, block := range doc.Content {
		for _, inline := range block.Content {
			if inline.Text == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(inline.Text)
		}
	}
	return buf.String()
}
