package models

// SessionRecord is a read-only projection of one conversation session,
// extracted from a project's combined transcript artifact. It is rebuilt
// on every index read and never persisted.
type SessionRecord struct {
	// Session UUID carried by the shard filename and the artifact anchor
	SessionID string `json:"sessionId" example:"a1b2c3d4-e5f6-7890-abcd-ef1234567890"`
	// Human-readable session title, or the short id when absent
	Title string `json:"title" example:"Fix flaky scheduler test"`
	// ISO timestamp of the first message, empty if not extractable
	TimestampStart string `json:"timestampStart" example:"2025-08-20T14:30:00Z"`
	// ISO timestamp of the last message, empty if not extractable
	TimestampEnd string `json:"timestampEnd" example:"2025-08-20T16:45:30Z"`
	// Number of messages in the session
	Messages int `json:"messages" example:"42"`
	// Token usage summary text as emitted by the renderer
	Tokens string `json:"tokens" example:"Token usage: 12,345 in / 6,789 out"`
	// First characters of the conversation, for list display
	Preview string `json:"preview"`
	// Path of the rendered session artifact relative to the projects root,
	// empty when the artifact does not exist
	ArtifactPath string `json:"artifactPath,omitempty" example:"-home-user-src-app/session-a1b2c3d4-e5f6-7890-abcd-ef1234567890.html"`
	// Size of the source shard in bytes
	ShardSize int64 `json:"shardSize"`
	// Size of the rendered session artifact in bytes, 0 when absent
	ArtifactSize int64 `json:"artifactSize"`
	// True for the most recently ended session of its project
	Latest bool `json:"latest"`
}

// Project groups the sessions of one project directory.
type Project struct {
	// Project directory name under the projects root
	FolderName string `json:"folderName" example:"-home-user-src-app"`
	// Display name derived from the folder name
	DisplayName string `json:"displayName" example:"home/user/src/app"`
	// Path of the combined transcript artifact relative to the projects root
	CombinedPath string `json:"combinedPath" example:"-home-user-src-app/combined_transcripts.html"`
	// Sessions ordered by end timestamp, most recent first
	Sessions []SessionRecord `json:"sessions"`
}

// VersionSnapshot is the freshness signal polled by open viewers.
// @Description Monotonic-ish version signal for live reload
type VersionSnapshot struct {
	// Maximum artifact modification time under the projects root, as a
	// unix timestamp; 0 when no artifacts exist
	Version int64 `json:"version" example:"1755708330"`
	// True while a regeneration run is in progress
	Regenerating bool `json:"regenerating" example:"false"`
}

// CheckUpdateResponse reports whether shards are newer than artifacts.
type CheckUpdateResponse struct {
	NeedsUpdate bool `json:"needsUpdate" example:"true"`
}

// RefreshResponse acknowledges a fire-and-forget refresh dispatch.
type RefreshResponse struct {
	Status  string `json:"status" example:"ok"`
	Message string `json:"message,omitempty"`
}

// DeleteSessionRequest asks for removal of one session's shard and artifacts.
type DeleteSessionRequest struct {
	Project   string `json:"project" example:"-home-user-src-app"`
	SessionID string `json:"session_id" example:"a1b2c3d4-e5f6-7890-abcd-ef1234567890"`
}

// DeleteSessionResponse lists the files actually removed.
type DeleteSessionResponse struct {
	Status  string   `json:"status" example:"ok"`
	Deleted []string `json:"deleted,omitempty"`
	Message string   `json:"message,omitempty"`
}
