package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/luaurun/internal/config"
)

const testBase = "https://api.test"

var testCreds = config.Credentials{APIKey: "secret", UniverseID: "111", PlaceID: "222"}

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	r, mt, _ := newTestRequester(t)
	return NewClient(testBase, testCreds, r), mt
}

func writePlace(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "place.rbxlx")
	require.NoError(t, os.WriteFile(path, []byte("<roblox/>"), 0o644))
	return path
}

func TestUploadPlaceReturnsVersion(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodPost, testBase+"/universes/v1/111/places/222/versions", "versionType=Saved",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "secret", req.Header.Get("x-api-key"))
			assert.Equal(t, "application/xml", req.Header.Get("Content-Type"))
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			b, _ := io.ReadAll(req.Body)
			assert.Equal(t, "<roblox/>", string(b))
			return httpmock.NewStringResponse(200, `{"versionNumber": 42}`), nil
		})

	version, err := c.UploadPlace(context.Background(), writePlace(t), false)
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, int64(42), *version)
}

func TestUploadPlacePublish(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodPost, testBase+"/universes/v1/111/places/222/versions", "versionType=Published",
		httpmock.NewStringResponder(200, `{"versionNumber": 7}`))

	version, err := c.UploadPlace(context.Background(), writePlace(t), true)
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, int64(7), *version)
}

func TestUploadPlaceWithoutVersion(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponderWithQuery(http.MethodPost, testBase+"/universes/v1/111/places/222/versions", "versionType=Saved",
		httpmock.NewStringResponder(200, `{}`))

	version, err := c.UploadPlace(context.Background(), writePlace(t), false)
	require.NoError(t, err)
	assert.Nil(t, version)
}

func TestUploadPlaceMissingFile(t *testing.T) {
	c, mt := newTestClient(t)

	_, err := c.UploadPlace(context.Background(), filepath.Join(t.TempDir(), "missing.rbxl"), false)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestCreateTaskWithoutVersion(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/cloud/v2/universes/111/places/222/luau-execution-session-tasks",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]string
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, map[string]string{"script": "print('hi')"}, body)
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(200, `{"path":"universes/111/places/222/luau-execution-session-tasks/abc","state":"PROCESSING"}`), nil
		})

	task, err := c.CreateTask(context.Background(), "print('hi')", nil)
	require.NoError(t, err)
	assert.Equal(t, "universes/111/places/222/luau-execution-session-tasks/abc", task.Path)
	assert.True(t, task.Processing())
}

func TestCreateTaskWithVersion(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/cloud/v2/universes/111/places/222/versions/42/luau-execution-session-tasks",
		httpmock.NewStringResponder(200, `{"path":"universes/111/places/222/versions/42/luau-execution-session-tasks/abc","state":"PROCESSING"}`))

	version := int64(42)
	task, err := c.CreateTask(context.Background(), "return 1", &version)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, task.State)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestCreateTaskStatusError(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/cloud/v2/universes/111/places/222/luau-execution-session-tasks",
		httpmock.NewStringResponder(403, `{"code":"PERMISSION_DENIED"}`))

	_, err := c.CreateTask(context.Background(), "return 1", nil)
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, 403, se.Code)
	assert.Contains(t, string(se.Body), "PERMISSION_DENIED")
}

func TestCreateTaskRejectsResponseWithoutPath(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodPost, testBase+"/cloud/v2/universes/111/places/222/luau-execution-session-tasks",
		httpmock.NewStringResponder(200, `{"state":"PROCESSING"}`))

	_, err := c.CreateTask(context.Background(), "return 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no path")
}

func TestGetTask(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/cloud/v2/tasks/abc",
		httpmock.NewStringResponder(200, `{"path":"tasks/abc","state":"COMPLETE","output":{"results":[1, 2, 3]}}`))

	task, err := c.GetTask(context.Background(), "tasks/abc")
	require.NoError(t, err)
	assert.Equal(t, StateComplete, task.State)
	assert.Equal(t, `[1,2,3]`, string(task.Results()))
}

func TestGetLogs(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/cloud/v2/tasks/abc/logs",
		httpmock.NewStringResponder(200, `{"luauExecutionSessionTaskLogs":[{"path":"tasks/abc/logs/1","messages":["hello","world"]}]}`))

	logs, err := c.GetLogs(context.Background(), "tasks/abc")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", logs)
}

func TestGetLogsEmpty(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/cloud/v2/tasks/abc/logs",
		httpmock.NewStringResponder(200, `{"luauExecutionSessionTaskLogs":[]}`))

	logs, err := c.GetLogs(context.Background(), "tasks/abc")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestGetLogsFollowsPageTokens(t *testing.T) {
	c, mt := newTestClient(t)
	mt.RegisterResponder(http.MethodGet, testBase+"/cloud/v2/tasks/abc/logs",
		func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("pageToken") {
			case "":
				return httpmock.NewStringResponse(200, `{"luauExecutionSessionTaskLogs":[{"messages":["one"]}],"nextPageToken":"p2"}`), nil
			case "p2":
				return httpmock.NewStringResponse(200, `{"luauExecutionSessionTaskLogs":[{"messages":["two"]}],"nextPageToken":"p3"}`), nil
			default:
				return httpmock.NewStringResponse(200, `{"luauExecutionSessionTaskLogs":[{"messages":["three"]}]}`), nil
			}
		})

	logs, err := c.GetLogs(context.Background(), "tasks/abc")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", logs)
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestTaskResults(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{body: `{"path":"p","state":"COMPLETE"}`},
		{body: `{"path":"p","state":"COMPLETE","output":{}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":[]}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":null}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":[ ]}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":{ }}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":0.0}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":-0}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":false}}`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":0.5}}`, want: `0.5`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":"0"}}`, want: `"0"`},
		{body: `{"path":"p","state":"COMPLETE","output":{"results":["a", {"b": 1}]}}`, want: `["a",{"b":1}]`},
	}
	for _, c := range cases {
		task, err := decodeTask([]byte(c.body))
		require.NoError(t, err)
		assert.Equal(t, c.want, string(task.Results()), c.body)
	}
}
