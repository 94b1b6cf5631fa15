package handlers

import (
	"html/template"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vanpelt/purrlog/internal/models"
	"github.com/vanpelt/purrlog/internal/services"
)

// PagesHandler serves the session selector page.
type PagesHandler struct {
	index *services.SessionIndex
	tmpl  *template.Template
}

// NewPagesHandler creates a new pages handler.
func NewPagesHandler(index *services.SessionIndex) *PagesHandler {
	return &PagesHandler{
		index: index,
		tmpl:  template.Must(template.New("selector").Parse(selectorTemplate)),
	}
}

type selectorData struct {
	Projects   []models.Project
	LastUpdate string
}

// Index renders the session selector
// @Summary Session selector page
// @Produce html
// @Success 200 {string} string "HTML page"
// @Router / [get]
func (h *PagesHandler) Index(c *fiber.Ctx) error {
	byFolder, err := h.index.Build()
	if err != nil {
		return c.Status(500).SendString("Failed to build session index")
	}

	projects := make([]models.Project, 0, len(byFolder))
	for _, project := range byFolder {
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].DisplayName < projects[j].DisplayName
	})

	c.Set("Content-Type", "text/html; charset=utf-8")
	return h.tmpl.Execute(c.Response().BodyWriter(), selectorData{
		Projects:   projects,
		LastUpdate: time.Now().Format("2006-01-02 15:04:05"),
	})
}

const selectorTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Purrlog - Session Selector</title>
<style>
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
         background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
         min-height: 100vh; padding: 20px; color: #1f2937; }
  .container { max-width: 1200px; margin: 0 auto; }
  header { text-align: center; padding: 30px 0; color: white; }
  .status-bar { background: rgba(255,255,255,0.2); border-radius: 8px; padding: 10px 20px;
                margin: 20px 0; display: flex; justify-content: space-between;
                align-items: center; color: white; }
  .status-bar button { background: white; color: #6366f1; border: none; padding: 8px 16px;
                       border-radius: 6px; cursor: pointer; font-weight: 600; }
  .project-card { background: rgba(255,255,255,0.95); border-radius: 16px;
                  margin-bottom: 24px; overflow: hidden; }
  .project-header { padding: 16px 24px; cursor: pointer; display: flex;
                    justify-content: space-between; align-items: center; }
  .badge { background: #6366f1; color: white; padding: 4px 12px; border-radius: 20px;
           font-size: 0.85em; }
  .sessions-list { padding: 16px; display: none; }
  .sessions-list.expanded { display: block; }
  .session-item { border: 1px solid #e5e7eb; border-radius: 12px; padding: 16px;
                  margin-bottom: 12px; }
  .session-item.latest { border-color: #6366f1; }
  .session-title { font-weight: 600; display: flex; justify-content: space-between; }
  .session-title .id { color: #6b7280; font-weight: normal; font-size: 0.85em; }
  .session-meta, .session-tokens { font-size: 0.9em; color: #6b7280; margin: 4px 0; }
  .session-preview { font-size: 0.85em; color: #6b7280; background: #f9fafb; padding: 8px;
                     border-radius: 6px; white-space: nowrap; overflow: hidden;
                     text-overflow: ellipsis; font-family: monospace; }
  .session-actions { margin-top: 12px; display: flex; gap: 8px; }
  .session-actions a, .session-actions button { padding: 6px 14px; border-radius: 6px;
           text-decoration: none; font-size: 0.9em; border: none; cursor: pointer; }
  .btn-view { background: #6366f1; color: white; }
  .btn-delete { background: #ef4444; color: white; }
  .no-sessions { text-align: center; padding: 40px; color: #6b7280; }
  .refresh-notice { position: fixed; bottom: 20px; right: 20px; background: #10b981;
                    color: white; padding: 12px 20px; border-radius: 8px; display: none; }
</style>
</head>
<body>
<div class="container">
  <header><h1>Purrlog</h1><p>Select a project and session to view</p></header>
  <div class="status-bar">
    <span>Last updated: {{.LastUpdate}}</span>
    <button onclick="refreshLogs(this)">Refresh Logs</button>
  </div>
{{if not .Projects}}
  <div class="project-card"><div class="no-sessions">
    <p>Loading sessions... (regenerating in background)</p>
  </div></div>
  <script>setTimeout(() => location.reload(), 5000);</script>
{{else}}
{{range .Projects}}
  <div class="project-card">
    <div class="project-header" onclick="toggleProject(this)">
      <h2>{{.DisplayName}}</h2>
      <div>
        <span class="badge">{{len .Sessions}} sessions</span>
        <a href="/{{.CombinedPath}}" target="_blank" onclick="event.stopPropagation()">View All</a>
      </div>
    </div>
    <div class="sessions-list">
    {{$folder := .FolderName}}
    {{$combined := .CombinedPath}}
    {{range .Sessions}}
      <div class="session-item{{if .Latest}} latest{{end}}">
        <div class="session-title">
          <span>{{.Title}}</span>
          <span class="id">{{printf "%.8s" .SessionID}}</span>
        </div>
        <div class="session-meta">{{.Messages}} messages{{if .TimestampEnd}} &middot; {{.TimestampEnd}}{{end}}</div>
        {{if .Tokens}}<div class="session-tokens">{{.Tokens}}</div>{{end}}
        {{if .Preview}}<div class="session-preview">{{.Preview}}</div>{{end}}
        <div class="session-actions">
          {{if .ArtifactPath}}<a href="/{{.ArtifactPath}}" class="btn-view">View Session</a>
          {{else}}<a href="/{{$combined}}" class="btn-view">View Session</a>{{end}}
          <button class="btn-delete" onclick="deleteSession('{{$folder}}', '{{.SessionID}}')">Delete</button>
        </div>
      </div>
    {{end}}
    </div>
  </div>
{{end}}
{{end}}
  <div class="refresh-notice" id="refreshNotice">Logs updated! Refreshing...</div>
</div>
<script>
function toggleProject(header) {
  header.nextElementSibling.classList.toggle('expanded');
}

function refreshLogs(btn) {
  btn.disabled = true;
  fetch('/api/refresh', { method: 'POST' })
    .then(r => r.json())
    .then(data => {
      if (data.status === 'ok') {
        document.getElementById('refreshNotice').style.display = 'block';
        pendingReload = true;
      } else {
        alert('Refresh failed: ' + data.message);
        btn.disabled = false;
      }
    })
    .catch(err => { alert('Error: ' + err); btn.disabled = false; });
}

function deleteSession(project, sessionId) {
  if (!confirm('Delete this session and its files?')) return;
  fetch('/api/delete-session', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({ project: project, session_id: sessionId })
  })
    .then(r => r.json())
    .then(data => {
      if (data.status === 'ok') location.reload();
      else alert('Delete failed: ' + data.message);
    })
    .catch(err => alert('Error: ' + err));
}

// Live reload: record the first observed version as a baseline, never
// compare while a regeneration is in flight, and reload once the version
// moves past the baseline.
let baselineVersion = null;
let pendingReload = false;
setInterval(() => {
  fetch('/api/version')
    .then(r => r.json())
    .then(data => {
      if (data.regenerating) { pendingReload = true; return; }
      if (baselineVersion === null) { baselineVersion = data.version; return; }
      if (data.version > baselineVersion || (pendingReload && data.version !== baselineVersion)) {
        location.reload();
      }
    })
    .catch(() => {});
}, 10000);

// Expand the first project by default
document.addEventListener('DOMContentLoaded', () => {
  const first = document.querySelector('.project-header');
  if (first) toggleProject(first);
});
</script>
</body>
</html>
`
