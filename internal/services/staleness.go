package services

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// On-disk layout inside the projects root. One directory per project,
// *.jsonl conversation shards next to the HTML the renderer produces.
const (
	shardExt              = ".jsonl"
	aggregateArtifactName = "combined_transcripts.html"
	sessionArtifactPrefix = "session-"
	// Shards written by sub-agents are derived data and never drive
	// regeneration on their own.
	agentShardPrefix = "agent-"
)

// sessionArtifactName returns the artifact filename for a session id.
func sessionArtifactName(sessionID string) string {
	return sessionArtifactPrefix + sessionID + ".html"
}

// StaleShard identifies a shard whose rendered session artifact is absent
// or older than the shard itself.
type StaleShard struct {
	Project      string
	SessionID    string
	ShardPath    string
	ArtifactPath string
}

// StalenessDetector compares shard and artifact timestamps under the
// projects root. All methods are pure filesystem reads; a project
// directory vanishing mid-scan is treated as having no shards.
type StalenessDetector struct {
	root string
}

// NewStalenessDetector creates a detector for the given projects root.
func NewStalenessDetector(root string) *StalenessDetector {
	return &StalenessDetector{root: root}
}

// Root returns the projects root the detector scans.
func (d *StalenessDetector) Root() string {
	return d.root
}

// StaleShards returns every shard whose session artifact is missing or
// older than the shard. Agent-generated shards are excluded.
func (d *StalenessDetector) StaleShards() ([]StaleShard, error) {
	projects, err := d.projectDirs()
	if err != nil {
		return nil, err
	}

	var stale []StaleShard
	for _, project := range projects {
		projectDir := filepath.Join(d.root, project)
		entries, err := os.ReadDir(projectDir)
		if err != nil {
			// Directory disappeared mid-scan
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, shardExt) {
				continue
			}
			if strings.HasPrefix(name, agentShardPrefix) {
				continue
			}
			shardInfo, err := entry.Info()
			if err != nil {
				continue
			}
			sessionID := strings.TrimSuffix(name, shardExt)
			artifactPath := filepath.Join(projectDir, sessionArtifactName(sessionID))
			if d.artifactStale(artifactPath, shardInfo.ModTime()) {
				stale = append(stale, StaleShard{
					Project:      project,
					SessionID:    sessionID,
					ShardPath:    filepath.Join(projectDir, name),
					ArtifactPath: artifactPath,
				})
			}
		}
	}
	return stale, nil
}

// ProjectsMissingAggregate returns the projects that have at least one
// shard but no combined transcript artifact. This is the condition that
// requires a full rebuild of the renderer's project listings.
func (d *StalenessDetector) ProjectsMissingAggregate() ([]string, error) {
	projects, err := d.projectDirs()
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, project := range projects {
		projectDir := filepath.Join(d.root, project)
		entries, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		hasShard := false
		hasAggregate := false
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if strings.HasSuffix(entry.Name(), shardExt) {
				hasShard = true
			}
			if entry.Name() == aggregateArtifactName {
				hasAggregate = true
			}
		}
		if hasShard && !hasAggregate {
			missing = append(missing, project)
		}
	}
	return missing, nil
}

// MaxShardMtime returns the most recent modification time across all
// shards, or the zero time when there are none.
func (d *StalenessDetector) MaxShardMtime() time.Time {
	return d.maxMtime(func(name string) bool {
		return strings.HasSuffix(name, shardExt)
	})
}

// MaxArtifactMtime returns the most recent modification time across all
// rendered artifacts, or the zero time when there are none. This is the
// version signal: it only moves forward when an artifact is rewritten.
func (d *StalenessDetector) MaxArtifactMtime() time.Time {
	return d.maxMtime(func(name string) bool {
		return strings.HasSuffix(name, ".html")
	})
}

func (d *StalenessDetector) artifactStale(artifactPath string, shardMtime time.Time) bool {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return true
	}
	return info.ModTime().Before(shardMtime)
}

func (d *StalenessDetector) projectDirs() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

func (d *StalenessDetector) maxMtime(match func(name string) bool) time.Time {
	var latest time.Time
	projects, err := d.projectDirs()
	if err != nil {
		return latest
	}
	for _, project := range projects {
		entries, err := os.ReadDir(filepath.Join(d.root, project))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !match(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
	}
	return latest
}
