package db

import (
	"encoding/json"
	"time"
)

// Headline processing statuses. Transitions are monotonic: a headline leaves
// `pending` exactly once via the matcher, and `assigned` may later become
// `blocked_relevance` when every matched anchor rejects it.
const (
	HeadlineStatusPending          = "pending"
	HeadlineStatusAssigned         = "assigned"
	HeadlineStatusBlockedStopword  = "blocked_stopword"
	HeadlineStatusOutOfScope       = "out_of_scope"
	HeadlineStatusBlockedRelevance = "blocked_relevance"
)

// Per-anchor review statuses on headline_anchor_matches.
const (
	ReviewStatusPending  = "pending"
	ReviewStatusAccepted = "accepted"
	ReviewStatusRejected = "rejected"
)

// Anchor classes. Catch-all anchors back the third matching pass.
const (
	AnchorClassGeographic = "geographic"
	AnchorClassThematic   = "thematic"
	AnchorClassCatchAll   = "catchall"
)

// Headline maps anchor.headlines. Rows are created by the external ingestion
// collaborator and mutated only by the matcher and the relevance gate.
type Headline struct {
	HeadlineID       int64      `gorm:"column:headline_id;primaryKey;autoIncrement"`
	HeadlineUUID     string     `gorm:"column:headline_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	DisplayText      string     `gorm:"column:display_text;type:text;not null"`
	SourceURL        *string    `gorm:"column:source_url;type:text"`
	Publisher        *string    `gorm:"column:publisher;type:text"`
	PublishedAt      time.Time  `gorm:"column:published_at;type:timestamptz;not null"`
	DetectedLanguage *string    `gorm:"column:detected_language;type:text"`
	ProcessingStatus string     `gorm:"column:processing_status;type:text;not null;default:pending"`
	MatchedAt        *time.Time `gorm:"column:matched_at;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Headline) TableName() string { return "anchor.headlines" }

// Anchor maps anchor.anchors.
type Anchor struct {
	AnchorID       int64     `gorm:"column:anchor_id;primaryKey;autoIncrement"`
	Slug           string    `gorm:"column:slug;type:text;not null;unique"`
	Label          string    `gorm:"column:label;type:text;not null"`
	Class          string    `gorm:"column:class;type:text;not null"`
	ParentRegion   *string   `gorm:"column:parent_region;type:text"`
	VocabularyName *string   `gorm:"column:vocabulary_name;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Anchor) TableName() string { return "anchor.anchors" }

// TaxonomyEntry maps anchor.taxonomy_entries. Aliases hold
// {language: [alias, ...]} and each entry is owned by exactly one anchor.
type TaxonomyEntry struct {
	EntryID      int64           `gorm:"column:entry_id;primaryKey;autoIncrement"`
	CanonicalKey string          `gorm:"column:canonical_key;type:text;not null;unique"`
	Aliases      json.RawMessage `gorm:"column:aliases;type:jsonb;not null"`
	IsStopWord   bool            `gorm:"column:is_stop_word;type:boolean;not null;default:false"`
	AnchorID     int64           `gorm:"column:anchor_id;type:bigint;not null"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TaxonomyEntry) TableName() string { return "anchor.taxonomy_entries" }

// CategoryVocabulary maps anchor.category_vocabularies.
type CategoryVocabulary struct {
	Name                 string          `gorm:"column:name;type:text;primaryKey"`
	AllowedCategories    json.RawMessage `gorm:"column:allowed_categories;type:jsonb;not null"`
	ClassificationPrompt string          `gorm:"column:classification_prompt;type:text;not null"`
	FallbackCategory     *string         `gorm:"column:fallback_category;type:text"`
	IsDefault            bool            `gorm:"column:is_default;type:boolean;not null;default:false"`
	UpdatedAt            time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (CategoryVocabulary) TableName() string { return "anchor.category_vocabularies" }

// HeadlineAnchorMatch maps anchor.headline_anchor_matches, the junction the
// matcher writes. The (headline_id, anchor_id) unique key makes re-matching
// idempotent; review_status/category are filled by the relevance gate.
type HeadlineAnchorMatch struct {
	MatchID      int64      `gorm:"column:match_id;primaryKey;autoIncrement"`
	HeadlineID   int64      `gorm:"column:headline_id;type:bigint;not null;uniqueIndex:uq_match_headline_anchor"`
	AnchorID     int64      `gorm:"column:anchor_id;type:bigint;not null;uniqueIndex:uq_match_headline_anchor"`
	Pass         int        `gorm:"column:pass;type:smallint;not null"`
	ReviewStatus string     `gorm:"column:review_status;type:text;not null;default:pending"`
	Category     *string    `gorm:"column:category;type:text"`
	ReviewedAt   *time.Time `gorm:"column:reviewed_at;type:timestamptz"`
	CreatedAt    time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (HeadlineAnchorMatch) TableName() string { return "anchor.headline_anchor_matches" }

// Assignment maps anchor.assignments, written exclusively by the
// aggregation-unit manager. Unique on (headline_id, anchor_id).
type Assignment struct {
	AssignmentID      int64     `gorm:"column:assignment_id;primaryKey;autoIncrement"`
	HeadlineID        int64     `gorm:"column:headline_id;type:bigint;not null;uniqueIndex:uq_assignment_headline_anchor"`
	AnchorID          int64     `gorm:"column:anchor_id;type:bigint;not null;uniqueIndex:uq_assignment_headline_anchor"`
	Category          string    `gorm:"column:category;type:text;not null"`
	AggregationUnitID int64     `gorm:"column:aggregation_unit_id;type:bigint;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Assignment) TableName() string { return "anchor.assignments" }

// AggregationUnit maps anchor.aggregation_units, the monthly accumulation
// bucket keyed by (anchor, category, year_month).
type AggregationUnit struct {
	UnitID        int64           `gorm:"column:unit_id;primaryKey;autoIncrement"`
	AnchorID      int64           `gorm:"column:anchor_id;type:bigint;not null;uniqueIndex:uq_unit_anchor_category_month"`
	Category      string          `gorm:"column:category;type:text;not null;uniqueIndex:uq_unit_anchor_category_month"`
	YearMonth     string          `gorm:"column:year_month;type:text;not null;uniqueIndex:uq_unit_anchor_category_month"`
	HeadlineCount int             `gorm:"column:headline_count;type:integer;not null;default:0"`
	EventDigest   json.RawMessage `gorm:"column:event_digest;type:jsonb;not null;default:'[]'"`
	SummaryText   *string         `gorm:"column:summary_text;type:text"`
	IsFrozen      bool            `gorm:"column:is_frozen;type:boolean;not null;default:false"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (AggregationUnit) TableName() string { return "anchor.aggregation_units" }
