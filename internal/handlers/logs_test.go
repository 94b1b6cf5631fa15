package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/purrlog/internal/models"
	"github.com/vanpelt/purrlog/internal/services"
)

var testTime = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

type testServer struct {
	app      *fiber.App
	root     string
	renderer *services.MockRenderer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()

	detector := services.NewStalenessDetector(root)
	renderer := services.NewMockRenderer()
	regen := services.NewRegenerator(detector, renderer)
	scheduler := services.NewScheduler(regen, detector, services.SchedulerConfig{
		WatchInterval:    5 * time.Second,
		DebounceWindow:   30 * time.Second,
		MinRegenInterval: 5 * time.Minute,
	})
	t.Cleanup(scheduler.Stop)
	index := services.NewSessionIndex(root)
	deletion := services.NewDeletionCoordinator(root)

	handler := NewLogsHandler(scheduler, regen, detector, index, deletion)
	pages := NewPagesHandler(index)

	app := fiber.New()
	app.Get("/", pages.Index)
	app.Get("/api/check-update", handler.CheckUpdate)
	app.Get("/api/version", handler.Version)
	app.Get("/api/projects", handler.Projects)
	app.Post("/api/refresh", handler.Refresh)
	app.Post("/api/delete-session", handler.DeleteSession)

	return &testServer{app: app, root: root, renderer: renderer}
}

func (s *testServer) writeFile(t *testing.T, project, name, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(s.root, project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestCheckUpdate(t *testing.T) {
	server := newTestServer(t)
	sessionID := uuid.NewString()
	server.writeFile(t, "proj", sessionID+".jsonl", "{}", testTime.Add(10*time.Second))

	// Shard newer than every artifact
	resp, err := server.app.Test(httptest.NewRequest("GET", "/api/check-update", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body models.CheckUpdateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.NeedsUpdate)

	// Fresh artifact clears the flag
	server.writeFile(t, "proj", "session-"+sessionID+".html", "<html></html>", testTime.Add(time.Minute))
	resp, err = server.app.Test(httptest.NewRequest("GET", "/api/check-update", nil))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.NeedsUpdate)
}

func TestVersion_StableWithoutChanges(t *testing.T) {
	server := newTestServer(t)
	server.writeFile(t, "proj", "combined_transcripts.html", "<html></html>", testTime)

	var first, second models.VersionSnapshot

	resp, err := server.app.Test(httptest.NewRequest("GET", "/api/version", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))

	resp, err = server.app.Test(httptest.NewRequest("GET", "/api/version", nil))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))

	assert.Equal(t, first.Version, second.Version)
	assert.False(t, second.Regenerating)
	assert.Equal(t, testTime.Unix(), second.Version)
}

func TestRefresh(t *testing.T) {
	server := newTestServer(t)

	resp, err := server.app.Test(httptest.NewRequest("POST", "/api/refresh", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body models.RefreshResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)

	// The dispatched run reaches the renderer in the background
	require.Eventually(t, func() bool {
		return server.renderer.CallCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDeleteSession_InvalidID(t *testing.T) {
	server := newTestServer(t)

	reqBody, err := json.Marshal(models.DeleteSessionRequest{
		Project:   "proj",
		SessionID: "not-a-uuid",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/delete-session", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	var body models.DeleteSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
}

func TestDeleteSession_InvalidBody(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/delete-session", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDeleteSession_ProjectNotFound(t *testing.T) {
	server := newTestServer(t)

	reqBody, err := json.Marshal(models.DeleteSessionRequest{
		Project:   "missing",
		SessionID: uuid.NewString(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/delete-session", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestDeleteSession_OK(t *testing.T) {
	server := newTestServer(t)
	sessionID := uuid.NewString()
	server.writeFile(t, "proj", sessionID+".jsonl", "{}", testTime)
	server.writeFile(t, "proj", "combined_transcripts.html", "<html></html>", testTime)

	reqBody, err := json.Marshal(models.DeleteSessionRequest{
		Project:   "proj",
		SessionID: sessionID,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/delete-session", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body models.DeleteSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.ElementsMatch(t, []string{sessionID + ".jsonl", "combined_transcripts.html"}, body.Deleted)
}

func TestProjects(t *testing.T) {
	server := newTestServer(t)
	sessionID := uuid.NewString()
	block := `<a href='#msg-session-` + sessionID + `' class='session-link'>` +
		`<div class='session-link-title'> Hello </div></a>`
	server.writeFile(t, "-home-user-app", "combined_transcripts.html", block, testTime)

	resp, err := server.app.Test(httptest.NewRequest("GET", "/api/projects", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var projects map[string]models.Project
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&projects))
	require.Contains(t, projects, "-home-user-app")
	assert.Equal(t, "home/user/app", projects["-home-user-app"].DisplayName)
	require.Len(t, projects["-home-user-app"].Sessions, 1)
	assert.Equal(t, "Hello", projects["-home-user-app"].Sessions[0].Title)
}

func TestIndexPage(t *testing.T) {
	server := newTestServer(t)
	sessionID := uuid.NewString()
	block := `<a href='#msg-session-` + sessionID + `' class='session-link'>` +
		`<div class='session-link-title'> My Session </div></a>`
	server.writeFile(t, "proj", "combined_transcripts.html", block, testTime)

	resp, err := server.app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
