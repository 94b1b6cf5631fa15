package services

import (
	"html"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vanpelt/purrlog/internal/models"
)

// The renderer embeds one link block per session in each combined
// transcript artifact. The block layout is treated as a semi-stable wire
// contract (format v1, as emitted by claude-code-log): an anchor carrying
// the session id, a title div, a data-timestamp/data-timestamp-end pair,
// an "N messages" count, a "Token usage ..." string, and a preview block.
// Extraction is defensive: a missing sub-field yields its zero value, and
// all format knowledge lives in parseAggregate so drift has one point of
// repair.
var (
	sessionLinkRe = regexp.MustCompile(`(?s)<a href='#msg-session-([^']+)'[^>]*class='session-link'>(.*?)</a>`)
	titleRe       = regexp.MustCompile(`(?s)<div class='session-link-title'>\s*(.*?)\s*</div>`)
	timestampRe   = regexp.MustCompile(`data-timestamp="([^"]+)".*?data-timestamp-end="([^"]+)"`)
	messagesRe    = regexp.MustCompile(`(\d+)\s*messages`)
	tokensRe      = regexp.MustCompile(`Token usage[^<]+`)
	previewRe     = regexp.MustCompile(`(?s)<pre class='session-preview'>(.*?)</pre>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

const previewMaxLen = 200

// SessionIndex builds structured session listings by extracting the link
// blocks from each project's combined transcript artifact.
type SessionIndex struct {
	root string
}

// NewSessionIndex creates an index over the projects root.
func NewSessionIndex(root string) *SessionIndex {
	return &SessionIndex{root: root}
}

// Build scans every project directory and returns the projects whose
// aggregate artifact yields at least one session record. Records are
// ordered by end timestamp descending and the first is tagged latest.
func (ix *SessionIndex) Build() (map[string]models.Project, error) {
	entries, err := os.ReadDir(ix.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.Project{}, nil
		}
		return nil, err
	}

	projects := make(map[string]models.Project)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := entry.Name()
		aggregatePath := filepath.Join(ix.root, folder, aggregateArtifactName)
		content, err := os.ReadFile(aggregatePath)
		if err != nil {
			// Absent or unreadable aggregate: project is simply excluded
			continue
		}

		sessions := ix.parseAggregate(string(content), folder)
		if len(sessions) == 0 {
			continue
		}

		sort.SliceStable(sessions, func(i, j int) bool {
			return sessions[i].TimestampEnd > sessions[j].TimestampEnd
		})
		sessions[0].Latest = true

		projects[folder] = models.Project{
			FolderName:   folder,
			DisplayName:  displayName(folder),
			CombinedPath: filepath.Join(folder, aggregateArtifactName),
			Sessions:     sessions,
		}
	}
	return projects, nil
}

// parseAggregate extracts session records from one aggregate artifact.
func (ix *SessionIndex) parseAggregate(content, folder string) []models.SessionRecord {
	var records []models.SessionRecord
	for _, match := range sessionLinkRe.FindAllStringSubmatch(content, -1) {
		sessionID, block := match[1], match[2]
		record := models.SessionRecord{SessionID: sessionID}

		record.Title = shortID(sessionID)
		if m := titleRe.FindStringSubmatch(block); m != nil {
			title := htmlTagRe.ReplaceAllString(m[1], "")
			title = strings.TrimSpace(whitespaceRe.ReplaceAllString(title, " "))
			if title != "" {
				record.Title = title
			}
		}
		if m := timestampRe.FindStringSubmatch(block); m != nil {
			record.TimestampStart = m[1]
			record.TimestampEnd = m[2]
		}
		if m := messagesRe.FindStringSubmatch(block); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				record.Messages = n
			}
		}
		if m := tokensRe.FindString(block); m != "" {
			record.Tokens = m
		}
		if m := previewRe.FindStringSubmatch(block); m != nil {
			preview := html.UnescapeString(m[1])
			// Truncate on a rune boundary so multi-byte text stays valid
			if runes := []rune(preview); len(runes) > previewMaxLen {
				preview = string(runes[:previewMaxLen])
			}
			record.Preview = preview
		}

		// Sizes come from the filesystem, not from the artifact content
		projectDir := filepath.Join(ix.root, folder)
		if info, err := os.Stat(filepath.Join(projectDir, sessionID+shardExt)); err == nil {
			record.ShardSize = info.Size()
		}
		artifact := filepath.Join(projectDir, sessionArtifactName(sessionID))
		if info, err := os.Stat(artifact); err == nil {
			record.ArtifactSize = info.Size()
			record.ArtifactPath = filepath.Join(folder, sessionArtifactName(sessionID))
		}

		records = append(records, record)
	}
	return records
}

// displayName derives a readable project name from its folder name, which
// encodes the original path with dashes.
func displayName(folder string) string {
	return strings.TrimPrefix(strings.ReplaceAll(folder, "-", "/"), "/")
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
