package ir

import "time"

// ArtifactType is the closed set of research outputs tracked by the graph.
type ArtifactType string

const (
	ArtifactTopic              ArtifactType = "topic"
	ArtifactLiteratureItem     ArtifactType = "literature_item"
	ArtifactDataset            ArtifactType = "dataset"
	ArtifactAnalysis           ArtifactType = "analysis"
	ArtifactManuscript         ArtifactType = "manuscript"
	ArtifactManuscriptSection  ArtifactType = "manuscript_section"
	ArtifactFigure             ArtifactType = "figure"
	ArtifactTable              ArtifactType = "table"
	ArtifactConferenceMaterial ArtifactType = "conference_material"
)

// ValidArtifactTypes defines allowed artifact types.
var ValidArtifactTypes = map[ArtifactType]bool{
	ArtifactTopic:              true,
	ArtifactLiteratureItem:     true,
	ArtifactDataset:            true,
	ArtifactAnalysis:           true,
	ArtifactManuscript:         true,
	ArtifactManuscriptSection:  true,
	ArtifactFigure:             true,
	ArtifactTable:              true,
	ArtifactConferenceMaterial: true,
}

// Relation is the closed set of edge relation types.
type Relation string

const (
	RelationDerivedFrom   Relation = "derived_from"
	RelationReferences    Relation = "references"
	RelationSupersedes    Relation = "supersedes"
	RelationUses          Relation = "uses"
	RelationGeneratedFrom Relation = "generated_from"
	RelationExportedTo    Relation = "exported_to"
	RelationAnnotates     Relation = "annotates"
)

// ValidRelations defines allowed relation types.
var ValidRelations = map[Relation]bool{
	RelationDerivedFrom:   true,
	RelationReferences:    true,
	RelationSupersedes:    true,
	RelationUses:          true,
	RelationGeneratedFrom: true,
	RelationExportedTo:    true,
	RelationAnnotates:     true,
}

// Artifact is a versioned, soft-deletable research output.
//
// Artifacts are never hard-deleted. DeletedAt is set by soft-delete and
// hides the artifact from default reads and from graph traversal.
type Artifact struct {
	ID        string         `json:"id"`
	Type      ArtifactType   `json:"type"`
	OrgID     string         `json:"org_id"`
	OwnerID   string         `json:"owner_id"`
	PHIRisk   bool           `json:"phi_risk"`
	Metadata  map[string]any `json:"metadata"`
	Content   string         `json:"content"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the artifact carries the soft-delete marker.
func (a Artifact) Deleted() bool {
	return a.DeletedAt != nil
}

// Edge is a directed, typed link between two artifacts.
//
// Source <relation> Target: an analysis derived_from a dataset is stored as
// analysis -> dataset, making the dataset upstream of the analysis.
type Edge struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Relation  Relation  `json:"relation"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Direction selects which edges a traversal follows.
type Direction string

const (
	// DirectionUpstream follows source -> target (towards inputs).
	DirectionUpstream Direction = "upstream"
	// DirectionDownstream follows target -> source (towards derived outputs).
	DirectionDownstream Direction = "downstream"
	// DirectionBoth follows edges either way.
	DirectionBoth Direction = "both"
)

// ValidDirections defines allowed traversal directions.
var ValidDirections = map[Direction]bool{
	DirectionUpstream:   true,
	DirectionDownstream: true,
	DirectionBoth:       true,
}

// EventType identifies the kind of mutation an audit entry records.
type EventType string

const (
	EventArtifactCreated   EventType = "artifact.created"
	EventArtifactUpdated   EventType = "artifact.updated"
	EventArtifactDeleted   EventType = "artifact.deleted"
	EventEdgeLinked        EventType = "edge.linked"
	EventEdgeUnlinked      EventType = "edge.unlinked"
	EventDocumentUpdated   EventType = "document.updated"
	EventDocumentSnapshot  EventType = "document.snapshot"
	EventDocumentCompacted EventType = "document.compacted"
	EventChainVerified     EventType = "chain.verified"
)

// AuditEntry is one link of a hash chain.
//
// CurrentHash = SHA-256(canonical envelope || PreviousHash). The first entry
// of every scope carries PreviousHash = GenesisHash.
type AuditEntry struct {
	ScopeID       string         `json:"scope_id"`
	Seq           int64          `json:"seq"`
	EventType     EventType      `json:"event_type"`
	Actor         string         `json:"actor"`
	SubjectID     string         `json:"subject_id"`
	Payload       map[string]any `json:"payload"`
	PayloadJSON   string         `json:"-"`
	PayloadDigest string         `json:"payload_digest"`
	PreviousHash  string         `json:"previous_hash"`
	CurrentHash   string         `json:"current_hash"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// DocumentUpdate is one persisted incremental CRDT update.
type DocumentUpdate struct {
	RoomID    string    `json:"room_id"`
	Clock     int64     `json:"clock"`
	Payload   []byte    `json:"payload"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentSnapshot is a full-state checkpoint at a logical clock value.
type DocumentSnapshot struct {
	RoomID    string    `json:"room_id"`
	Clock     int64     `json:"clock"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}
