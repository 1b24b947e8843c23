package models

// NodeType represents the kind of code entity stored as a vertex.
type NodeType string

// Vertex tag constants for code entities.
const (
	NodeProject  NodeType = "Project"
	NodeFile     NodeType = "File"
	NodeFunction NodeType = "Function"
	NodeClass    NodeType = "Class"
	NodeImport   NodeType = "Import"
)

// RelationshipType represents the kind of relationship between code entities.
type RelationshipType string

// Edge type constants for relationships between code entities.
const (
	EdgeBelongsTo  RelationshipType = "BELONGS_TO"
	EdgeContains   RelationshipType = "CONTAINS"
	EdgeImports    RelationshipType = "IMPORTS"
	EdgeCalls      RelationshipType = "CALLS"
	EdgeExtends    RelationshipType = "EXTENDS"
	EdgeImplements RelationshipType = "IMPLEMENTS"
)

// AllNodeTypes lists every vertex tag in schema-creation order.
func AllNodeTypes() []NodeType {
	return []NodeType{NodeProject, NodeFile, NodeFunction, NodeClass, NodeImport}
}

// AllRelationshipTypes lists every edge type in schema-creation order.
func AllRelationshipTypes() []RelationshipType {
	return []RelationshipType{
		EdgeBelongsTo, EdgeContains, EdgeImports,
		EdgeCalls, EdgeExtends, EdgeImplements,
	}
}

// GraphNode represents a code entity vertex. Identity is the ID;
// Properties are free-form and not schema-enforced beyond the type tag.
type GraphNode struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphRelationship represents a directed edge between two nodes.
// Duplicate (type, source, target) triples are tolerated; the engine
// deduplicates logically.
type GraphRelationship struct {
	ID         string           `json:"id"`
	Type       RelationshipType `json:"type"`
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Properties map[string]any   `json:"properties,omitempty"`
}

// ChunkType identifies what kind of code construct a chunk holds.
type ChunkType string

// Chunk type constants produced by the parsing collaborator.
const (
	ChunkFunction  ChunkType = "function"
	ChunkMethod    ChunkType = "method"
	ChunkClass     ChunkType = "class"
	ChunkInterface ChunkType = "interface"
	ChunkImport    ChunkType = "import"
)

// NodeTypeForChunk maps a chunk type to the vertex tag it is stored under.
func NodeTypeForChunk(t ChunkType) NodeType {
	switch t {
	case ChunkClass, ChunkInterface:
		return NodeClass
	case ChunkImport:
		return NodeImport
	default:
		return NodeFunction
	}
}

// CodeChunk is a parsed code construct extracted from a file.
type CodeChunk struct {
	ID        string            `json:"id"`
	Type      ChunkType         `json:"type"`
	Name      string            `json:"name"`
	FilePath  string            `json:"file_path"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Content   string            `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ParsedFile is the unit of persistence produced by the parsing
// collaborator: one source file plus its extracted chunks.
type ParsedFile struct {
	FilePath    string      `json:"file_path"`
	Language    string      `json:"language"`
	ProjectID   string      `json:"project_id,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
	Chunks      []CodeChunk `json:"chunks"`
}
