package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/luaurun/internal/config"
)

// Client talks to the place publishing and Luau execution endpoints for one universe/place pair.
type Client struct {
	requester *Requester
	baseURL   string
	creds     config.Credentials
}

func NewClient(baseURL string, creds config.Credentials, requester *Requester) *Client {
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	if requester == nil {
		requester = NewRequester(nil)
	}
	return &Client{requester: requester, baseURL: strings.TrimRight(baseURL, "/"), creds: creds}
}

func (c *Client) Requester() *Requester { return c.requester }

// UploadPlace uploads the place file at path as a new version. The version is Saved unless publish is set.
// The returned version number is nil when the response carries none.
func (c *Client) UploadPlace(ctx context.Context, path string, publish bool) (*int64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read place file: %w", err)
	}
	versionType := "Saved"
	if publish {
		versionType = "Published"
	}
	u := fmt.Sprintf("%s/universes/v1/%s/places/%s/versions?versionType=%s",
		c.baseURL, url.PathEscape(c.creds.UniverseID), url.PathEscape(c.creds.PlaceID), versionType)
	headers := map[string]string{
		"x-api-key":    c.creds.APIKey,
		"Content-Type": "application/xml",
		"Accept":       "application/json",
	}
	log.Debug().Str("file", path).Int("bytes", len(buf)).Str("version_type", versionType).Msg("Uploading place")
	res, err := c.requester.Post(ctx, u, headers, buf)
	if err != nil {
		logResponseBody("Upload place", err)
		return nil, fmt.Errorf("upload place: %w", err)
	}
	var out uploadResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return out.VersionNumber, nil
}

// CreateTask starts a Luau execution task for script. A nil version targets the latest place version.
func (c *Client) CreateTask(ctx context.Context, script string, version *int64) (*Task, error) {
	u := fmt.Sprintf("%s/cloud/v2/universes/%s/places/%s/",
		c.baseURL, url.PathEscape(c.creds.UniverseID), url.PathEscape(c.creds.PlaceID))
	if version != nil && *version != 0 {
		u += fmt.Sprintf("versions/%d/", *version)
	}
	u += "luau-execution-session-tasks"

	body, err := json.Marshal(createTaskRequest{Script: script})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Content-Type": "application/json",
		"x-api-key":    c.creds.APIKey,
	}
	res, err := c.requester.Post(ctx, u, headers, body)
	if err != nil {
		logResponseBody("Create task", err)
		return nil, fmt.Errorf("create task: %w", err)
	}
	task, err := decodeTask(res.Body())
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask fetches the current state of the task at path.
func (c *Client) GetTask(ctx context.Context, path string) (*Task, error) {
	res, err := c.requester.Get(ctx, c.taskURL(path), c.authHeaders())
	if err != nil {
		logResponseBody("Get task", err)
		return nil, fmt.Errorf("get task: %w", err)
	}
	task, err := decodeTask(res.Body())
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetLogs returns every log message of the task, one per line, following page tokens until the last page.
func (c *Client) GetLogs(ctx context.Context, path string) (string, error) {
	var sb strings.Builder
	seen := map[string]bool{}
	token := ""
	for {
		u := c.taskURL(path) + "/logs"
		if token != "" {
			u += "?" + url.Values{"pageToken": {token}}.Encode()
		}
		res, err := c.requester.Get(ctx, u, c.authHeaders())
		if err != nil {
			logResponseBody("Get task logs", err)
			return "", fmt.Errorf("get task logs: %w", err)
		}
		var page logsResponse
		if err := json.Unmarshal(res.Body(), &page); err != nil {
			return "", fmt.Errorf("decode task logs: %w", err)
		}
		for _, chunk := range page.Logs {
			for _, m := range chunk.Messages {
				sb.WriteString(m)
				sb.WriteByte('\n')
			}
		}
		token = page.NextPageToken
		if token == "" || seen[token] {
			return sb.String(), nil
		}
		seen[token] = true
	}
}

func (c *Client) taskURL(path string) string {
	return c.baseURL + "/cloud/v2/" + strings.TrimPrefix(path, "/")
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"x-api-key": c.creds.APIKey}
}

func decodeTask(body []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if task.Path == "" {
		return nil, fmt.Errorf("decode task: response has no path")
	}
	return &task, nil
}

// logResponseBody logs the payload of a failed response where the request was made.
func logResponseBody(what string, err error) {
	if se, ok := AsStatusError(err); ok {
		log.Error().Int("status", se.Code).Msgf("%s request failed, response body:\n%s", what, se.Body)
	}
}
