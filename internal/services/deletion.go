package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanpelt/purrlog/internal/logger"
)

var (
	// ErrInvalidSessionID rejects malformed session identifiers before
	// any filesystem access.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrProjectNotFound indicates the project directory does not exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrNothingToDelete indicates neither the shard nor the session
	// artifact existed.
	ErrNothingToDelete = errors.New("nothing to delete")
)

// PartialDeleteError reports a deletion where some target files could not
// be removed. Files already removed stay removed.
type PartialDeleteError struct {
	Failed []string
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("failed to delete: %s", strings.Join(e.Failed, ", "))
}

// DeletionCoordinator removes a session's shard and artifacts. It never
// triggers regeneration itself; deleting the project aggregate is what
// makes the next scheduler pass re-list the project without the session.
type DeletionCoordinator struct {
	root string
}

// NewDeletionCoordinator creates a coordinator over the projects root.
func NewDeletionCoordinator(root string) *DeletionCoordinator {
	return &DeletionCoordinator{root: root}
}

// Delete validates the request and removes, best-effort and
// independently: the shard, the session artifact, and the project's
// aggregate artifact. Returns the files actually removed.
func (d *DeletionCoordinator) Delete(project, sessionID string) ([]string, error) {
	if !validSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	if !validProjectName(project) {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, project)
	}

	projectDir := filepath.Join(d.root, project)
	if info, err := os.Stat(projectDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, project)
	}

	var deleted, failed []string
	removedSession := false

	for _, name := range []string{sessionID + shardExt, sessionArtifactName(sessionID)} {
		path := filepath.Join(projectDir, name)
		switch err := os.Remove(path); {
		case err == nil:
			deleted = append(deleted, name)
			removedSession = true
		case os.IsNotExist(err):
			// Already absent, nothing to report
		default:
			logger.Warnf("Failed to delete %s: %v", path, err)
			failed = append(failed, name)
		}
	}

	if !removedSession && len(failed) == 0 {
		return nil, ErrNothingToDelete
	}

	// The aggregate goes unconditionally so the project is re-listed
	// without the deleted session on the next regeneration pass.
	aggregatePath := filepath.Join(projectDir, aggregateArtifactName)
	switch err := os.Remove(aggregatePath); {
	case err == nil:
		deleted = append(deleted, aggregateArtifactName)
	case os.IsNotExist(err):
	default:
		logger.Warnf("Failed to delete %s: %v", aggregatePath, err)
		failed = append(failed, aggregateArtifactName)
	}

	if len(failed) > 0 {
		return deleted, &PartialDeleteError{Failed: failed}
	}
	return deleted, nil
}

// validSessionID enforces the session id shape: exactly 36 characters of
// hex digits and hyphens.
func validSessionID(sessionID string) bool {
	if len(sessionID) != 36 {
		return false
	}
	for _, r := range sessionID {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

// validProjectName rejects anything that could escape the projects root.
func validProjectName(project string) bool {
	if project == "" || project == "." || project == ".." {
		return false
	}
	return !strings.ContainsAny(project, `/\`)
}
