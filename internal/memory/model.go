// Package memory implements the Engram semantic memory engine: the
// persistent store, embedding-based deduplication, background graph
// enrichment, entity linking, and the ambient suggestion pipeline.
package memory

import (
	"encoding/json"
	"time"

	"github.com/engramhq/engram/internal/vectormath"
)

// Kind classifies a captured thought.
type Kind string

const (
	KindFact    Kind = "fact"
	KindFeeling Kind = "feeling"
	KindGoal    Kind = "goal"
)

// Record is a stored memory. Content and embeddings are mutated in place
// only by REPLACE / MERGE outcomes of the dedup pipeline; otherwise a
// record is logically immutable. Stored embeddings are unit-normalized.
type Record struct {
	ID              string           `json:"id"`
	Content         string           `json:"content"`
	Kind            Kind             `json:"kind"`
	Topic           string           `json:"topic,omitempty"`
	Sentiment       string           `json:"sentiment,omitempty"`
	Hashtags        []string         `json:"hashtags,omitempty"`
	Importance      float64          `json:"importance"`
	ConnectionCount int              `json:"connection_count"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	ClusterID       string           `json:"cluster_id,omitempty"`
	Enrichment      json.RawMessage  `json:"enrichment,omitempty"`
	RichVector      vectormath.Rich  `json:"rich_vector,omitempty"`
	FastVector      vectormath.Fast  `json:"fast_vector,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	// Similarity is set transiently during recall paths, never persisted.
	Similarity float64 `json:"similarity,omitempty"`
}

// EdgeKind tiers a semantic edge by strength.
type EdgeKind string

const (
	EdgeStrong EdgeKind = "strong"
	EdgeWeak   EdgeKind = "weak"
)

// Edge is a directed semantic link between two records. Both directions
// are stored as independent rows; inserts are idempotent on
// (source, target).
type Edge struct {
	SourceID       string    `json:"source_id"`
	TargetID       string    `json:"target_id"`
	Weight         float64   `json:"weight"`
	Kind           EdgeKind  `json:"kind"`
	VisualPriority int       `json:"visual_priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// Centroid is the mean position and importance of a cluster's members.
// Always fully recomputed, last writer wins.
type Centroid struct {
	ClusterID     string          `json:"cluster_id"`
	Coordinate    vectormath.Rich `json:"coordinate"`
	NodeCount     int             `json:"node_count"`
	AvgImportance float64         `json:"avg_importance"`
	LastUpdated   time.Time       `json:"last_updated"`
}

// EntityType is the closed taxonomy for linked entities.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityDate    EntityType = "date"
	EntityPlace   EntityType = "place"
	EntityEvent   EntityType = "event"
	EntityConcept EntityType = "concept"
)

// Entity is a node in the knowledge graph, unique per
// (case-insensitive name, type).
type Entity struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Type                 EntityType     `json:"type"`
	Properties           map[string]any `json:"properties,omitempty"`
	FirstMentionRecordID string         `json:"first_mention_record_id,omitempty"`
	LastMentionRecordID  string         `json:"last_mention_record_id,omitempty"`
	MentionCount         int            `json:"mention_count"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Mention records one surface-form occurrence of an entity. Append-only.
type Mention struct {
	ID          string `json:"id"`
	EntityID    string `json:"entity_id"`
	RecordID    string `json:"record_id"`
	MentionText string `json:"mention_text"`
	Context     string `json:"context,omitempty"`
}

// PredictionKind labels how an ambient suggestion was derived.
type PredictionKind string

const (
	PredictionSemantic PredictionKind = "semantic"
	PredictionTemporal PredictionKind = "temporal"
	PredictionTagMatch PredictionKind = "tag_match"
	PredictionKeyword  PredictionKind = "keyword"
)

// Prediction is an ephemeral ambient suggestion. It lives only in the
// engine's in-memory result set and is never persisted.
type Prediction struct {
	ID          string         `json:"id"`
	NodeID      string         `json:"node_id"`
	Kind        PredictionKind `json:"kind"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason,omitempty"`
	TriggerText string         `json:"trigger_text"`
	Timestamp   time.Time      `json:"timestamp"`
}

// FeedbackAction is the user's verdict on a suggestion.
type FeedbackAction string

const (
	FeedbackAccepted FeedbackAction = "accepted"
	FeedbackRejected FeedbackAction = "rejected"
	FeedbackIgnored  FeedbackAction = "ignored"
)

// Feedback is persisted durably and mirrored in a bounded in-memory ring
// for session-local suppression lookups.
type Feedback struct {
	NodeID    string         `json:"node_id"`
	Action    FeedbackAction `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
}
