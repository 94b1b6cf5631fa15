package services

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFile creates a file under root/project with the given mtime.
func writeFile(t *testing.T, root, project, name, content string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func writeShard(t *testing.T, root, project, sessionID string, mtime time.Time) string {
	t.Helper()
	return writeFile(t, root, project, sessionID+shardExt, `{"type":"user"}`+"\n", mtime)
}

func writeSessionArtifact(t *testing.T, root, project, sessionID string, mtime time.Time) string {
	t.Helper()
	return writeFile(t, root, project, sessionArtifactName(sessionID), "<html></html>", mtime)
}

func writeAggregate(t *testing.T, root, project, content string, mtime time.Time) string {
	t.Helper()
	return writeFile(t, root, project, aggregateArtifactName, content, mtime)
}

// sessionBlock fabricates one session link block in the renderer's
// aggregate micro-format.
func sessionBlock(sessionID, title, tsStart, tsEnd string, messages int, tokens, preview string) string {
	return fmt.Sprintf(
		`<a href='#msg-session-%s' class='session-link'>`+
			`<div class='session-link-title'> %s </div>`+
			`<div class='session-meta' data-timestamp="%s" data-timestamp-end="%s">%d messages</div>`+
			`<div class='session-tokens'>%s</div>`+
			`<pre class='session-preview'>%s</pre>`+
			`</a>`,
		sessionID, title, tsStart, tsEnd, messages, tokens, preview)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
