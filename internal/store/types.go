package store

import "time"

// WorkMetadata is the cached, authoritative catalog record for a work
// code (spec.md §3). Invalidated explicitly on demand by the metadata
// resolver, or implicitly by TTL.
type WorkMetadata struct {
	WorkCode    string
	WorkName    string
	MakerID     string
	MakerName   string
	ReleaseDate string
	SeriesID    string
	SeriesName  string
	AgeCategory string // All, R15, Adult
	Tags        []string
	CVs         []string
	CoverURL    string
	TranslatedTitle string
	CachedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the cached record has passed its TTL.
func (m WorkMetadata) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && now.After(m.ExpiresAt)
}

// LibrarySnapshotRow is one row of the library snapshot: work code →
// folder path. At most one row per work code.
type LibrarySnapshotRow struct {
	WorkCode   string
	FolderPath string
	FolderSize int64
	FileCount  int
	ScannedAt  time.Time
}

// ConflictKind enumerates spec.md §3 ConflictRecord.ConflictKind.
type ConflictKind string

const (
	ConflictDuplicate       ConflictKind = "DUPLICATE"
	ConflictLinkedOriginal  ConflictKind = "LINKED_WORK_ORIGINAL"
	ConflictLinkedTranslation ConflictKind = "LINKED_WORK_TRANSLATION"
	ConflictLinkedChild     ConflictKind = "LINKED_WORK_CHILD"
	ConflictLanguageVariant ConflictKind = "LANGUAGE_VARIANT"
	ConflictMultipleVersions ConflictKind = "MULTIPLE_VERSIONS"
)

// Resolution enumerates spec.md §3 ConflictRecord.ResolutionState.
type Resolution string

const (
	ResolutionPending     Resolution = "PENDING"
	ResolutionKeepNew     Resolution = "KEEP_NEW"
	ResolutionKeepOld     Resolution = "KEEP_OLD"
	ResolutionMerge       Resolution = "MERGE"
	ResolutionSkip        Resolution = "SKIP"
	ResolutionKeepBoth    Resolution = "KEEP_BOTH"
	ResolutionMergeLang   Resolution = "MERGE_LANG"
)

// ConflictRecord is a duplicate/linkage conflict awaiting operator
// resolution (spec.md §3, §4.8).
type ConflictRecord struct {
	ID              string
	TaskID          string
	WorkCode        string
	Kind            ConflictKind
	ExistingPath    string
	NewPath         string
	StagedMetadata  *WorkMetadata
	Resolution      Resolution
	LinkedWorksInfo []LinkedWorkInfo
	AnalysisInfo    map[string]any
	RelatedRJCodes  []string
	CreatedAt       time.Time
}

// LinkedWorkInfo is a snapshot entry in a ConflictRecord's linked-works list.
type LinkedWorkInfo struct {
	WorkCode string `json:"work_code"`
	Relation string `json:"relation"` // original, parent, child
	Language string `json:"language"`
	Path     string `json:"path,omitempty"`
}

// ArchivedSourceStatus enumerates spec.md §3 ArchivedSource.Status.
type ArchivedSourceStatus string

const (
	ArchivedCompleted    ArchivedSourceStatus = "Completed"
	ArchivedReprocessing ArchivedSourceStatus = "Reprocessing"
)

// ArchivedSource is an ingested archive moved to the processed pool
// (spec.md §3, §4.11).
type ArchivedSource struct {
	ID            string
	OriginalPath  string
	CurrentPath   string
	Filename      string
	WorkCode      string
	Size          int64
	ProcessedAt   time.Time
	ProcessCount  int
	LinkingTaskID string
	Status        ArchivedSourceStatus
}

// PasswordSource enumerates spec.md §3 PasswordEntry.Source.
type PasswordSource string

const (
	PasswordManual PasswordSource = "manual"
	PasswordBatch  PasswordSource = "batch"
	PasswordAuto   PasswordSource = "auto"
)

// PasswordEntry is one candidate decryption password in the vault
// (spec.md §3, §4.3).
type PasswordEntry struct {
	ID         string
	WorkCode   string
	Filename   string
	Password   string
	Description string
	Source     PasswordSource
	UseCount   int
	LastUsedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RelationKind enumerates spec.md §3 LinkageEdge.RelationKind.
type RelationKind string

const (
	RelationOriginal RelationKind = "original"
	RelationParent   RelationKind = "parent"
	RelationChild    RelationKind = "child"
)

// LinkageEdge is one edge of the translation-linkage graph (spec.md §3, §4.6).
type LinkageEdge struct {
	OriginalCode string
	LinkedCode   string
	Relation     RelationKind
	Language     string
	CachedAt     time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the cached edge has passed its 24h TTL.
func (e LinkageEdge) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// FolderScanCacheEntry memoizes a library folder scan result (spec.md §3).
type FolderScanCacheEntry struct {
	FolderPath    string
	Name          string
	WorkCode      string
	DuplicateInfo map[string]any
	FileCount     int
	FolderSize    int64
	ScannedAt     time.Time
	NeedsRefresh  bool
}

// CleanupLog is one audit row produced by a C13 sweeper run (spec.md §3).
type CleanupLog struct {
	ID             string
	Sweeper        string // "password_vault" or "archived_source"
	CountDeleted   int
	FreedBytes     int64
	ConfigSnapshot map[string]any
	Summary        []string
	CreatedAt      time.Time
}
