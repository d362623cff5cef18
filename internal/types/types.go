// Package types defines the core data structures shared across the hybrid
// retrieval and multi-expert interpretation core.
//
// These types model the legal knowledge domain described by the system:
// chunks of retrievable text, graph nodes, the bridge mapping between them,
// and the per-query artifacts (retrieval results, expert responses, routing
// decisions, aggregated responses) produced while answering one query.
package types

import "time"

// SourceType enumerates the kind of legal material a chunk or source
// represents.
type SourceType string

const (
	SourceNorma        SourceType = "norma"
	SourceMassima      SourceType = "massima"
	SourceRatio        SourceType = "ratio"
	SourceSpiegazione  SourceType = "spiegazione"
	SourcePrincipio    SourceType = "principio"
	SourceArticolo     SourceType = "articolo"
	SourceSentenza     SourceType = "sentenza"
)

// ExpertType identifies one of the four interpretive canons.
type ExpertType string

const (
	ExpertLiteral    ExpertType = "literal"
	ExpertSystemic   ExpertType = "systemic"
	ExpertPrinciples ExpertType = "principles"
	ExpertPrecedent  ExpertType = "precedent"
)

// AllExpertTypes lists the four canonical experts in a fixed order, used
// whenever a deterministic iteration order is required (e.g. equal-weight
// fallback, trace serialization).
var AllExpertTypes = []ExpertType{ExpertLiteral, ExpertSystemic, ExpertPrinciples, ExpertPrecedent}

// QueryType is the Router's classification of a natural-language query.
type QueryType string

const (
	QueryDefinitional    QueryType = "definitional"
	QueryInterpretive    QueryType = "interpretive"
	QueryProcedural      QueryType = "procedural"
	QueryConstitutional  QueryType = "constitutional"
	QueryJurisprudential QueryType = "jurisprudential"
	QuerySystemic        QueryType = "systemic"
	QueryGeneral         QueryType = "general"
)

// MappingType distinguishes a chunk's single primary graph mapping from its
// (possibly several) hierarchic ancestor mappings.
type MappingType string

const (
	MappingPrimary    MappingType = "PRIMARY"
	MappingHierarchic MappingType = "HIERARCHIC"
)

// AggregationMethod selects how the Gating stage combines expert responses.
type AggregationMethod string

const (
	AggregationWeightedAverage AggregationMethod = "weighted_average"
	AggregationBestConfidence  AggregationMethod = "best_confidence"
	AggregationConsensus       AggregationMethod = "consensus"
	AggregationEnsemble        AggregationMethod = "ensemble"
)

// Metadata is a free-form JSON-compatible bag attached to most records.
type Metadata map[string]interface{}

// Chunk is a unit of retrievable text owned by the vector store. The core
// consumes read-only copies; it never mutates the owning store.
type Chunk struct {
	ChunkID     string     `json:"chunk_id"`
	Text        string     `json:"text"`
	SourceType  SourceType `json:"source_type"`
	ArticleURN  string     `json:"article_urn,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
}

// GraphNode is a typed record in the graph database, keyed by its URN.
type GraphNode struct {
	URN        string     `json:"urn"`
	Type       string     `json:"type"` // Norma, AttoGiudiziario, Dottrina, Principio, ...
	Properties Metadata   `json:"properties,omitempty"`
}

// GraphEdge is a labelled directed edge between two graph nodes.
type GraphEdge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Type       string   `json:"type"` // contiene, disciplina, definisce, rinvia, ...
	Properties Metadata `json:"properties,omitempty"`
}

// BridgeMapping links a chunk to a graph node. Every chunk has exactly one
// PRIMARY mapping; HIERARCHIC mappings carry lower confidence by level.
type BridgeMapping struct {
	ChunkID      string      `json:"chunk_id"`
	NodeURN      string      `json:"node_urn"`
	MappingType  MappingType `json:"mapping_type"`
	Confidence   float64     `json:"confidence"`
	RelationType string      `json:"relation_type,omitempty"`
}

// Hierarchic mapping confidences by structural level: libro 0.90 <
// titolo 0.92 < capo 0.94 < sezione 0.96 < primary 1.00.
const (
	ConfidenceLibro   = 0.90
	ConfidenceTitolo  = 0.92
	ConfidenceCapo    = 0.94
	ConfidenceSezione = 0.96
	ConfidencePrimary = 1.00
)

// RetrievalResult is one re-ranked candidate returned by the Hybrid
// Retriever. It is transient and owned by the caller.
type RetrievalResult struct {
	ChunkID         string     `json:"chunk_id"`
	Text            string     `json:"text"`
	SimilarityScore float64    `json:"similarity_score"`
	GraphScore      float64    `json:"graph_score"`
	FinalScore      float64    `json:"final_score"`
	LinkedNodes     []string   `json:"linked_nodes,omitempty"`
	SourceType      SourceType `json:"source_type,omitempty"`
	Metadata        Metadata   `json:"metadata,omitempty"`
}

// LegalSource is a citation record. Its SourceID must reference a chunk or
// node actually returned by retrieval (the grounding invariant).
type LegalSource struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Citation   string     `json:"citation"`
	Excerpt    string     `json:"excerpt"`
	Relevance  float64    `json:"relevance"`
}

// Entities bundles the legal entities already extracted from a query
// (either supplied by the caller as a hint, or discovered along the way).
type Entities struct {
	NormReferences []string `json:"norm_references,omitempty"`
	LegalConcepts  []string `json:"legal_concepts,omitempty"`
}

// ExpertContext is the immutable input handed to Expert.Analyze.
type ExpertContext struct {
	QueryText        string            `json:"query_text"`
	QueryEmbedding   []float32         `json:"query_embedding,omitempty"`
	Entities         Entities          `json:"entities"`
	RetrievedChunks  []RetrievalResult `json:"retrieved_chunks,omitempty"`
	Metadata         Metadata          `json:"metadata,omitempty"`
	TraceID          string            `json:"trace_id"`
}

// ConfidenceFactors breaks an expert's confidence into named contributors.
type ConfidenceFactors struct {
	NormClarity             float64 `json:"norm_clarity"`
	JurisprudenceAlignment  float64 `json:"jurisprudence_alignment"`
	ContextualAmbiguity     float64 `json:"contextual_ambiguity"`
	SourceAvailability      float64 `json:"source_availability"`
}

// ExpertResponse is the structured output of one expert's analysis.
type ExpertResponse struct {
	ExpertType        ExpertType        `json:"expert_type"`
	Interpretation    string            `json:"interpretation"`
	LegalBasis        []LegalSource     `json:"legal_basis"`
	ReasoningSteps     []string          `json:"reasoning_steps"`
	Confidence        float64           `json:"confidence"`
	ConfidenceFactors ConfidenceFactors `json:"confidence_factors"`
	Limitations       string            `json:"limitations,omitempty"`
	TraceID           string            `json:"trace_id"`
	ExecutionTimeMs   int64             `json:"execution_time_ms"`
	TokensUsed        int               `json:"tokens_used"`
	Metadata          Metadata          `json:"metadata,omitempty"`
}

// RoutingDecision is the Router's output: which experts to engage and how
// much weight to give each.
type RoutingDecision struct {
	ExpertWeights map[ExpertType]float64 `json:"expert_weights"`
	QueryType     QueryType               `json:"query_type"`
	Confidence    float64                 `json:"confidence"`
	Reasoning     string                  `json:"reasoning"`
	Parallel      bool                    `json:"parallel"`
}

// ConfidenceBreakdown reports each contributing expert's confidence in an
// aggregated response, keyed by expert type.
type ConfidenceBreakdown map[ExpertType]float64

// AggregatedResponse is the Gating stage's combined output.
type AggregatedResponse struct {
	Synthesis           string                        `json:"synthesis"`
	ExpertContributions map[ExpertType]*ExpertResponse `json:"expert_contributions"`
	CombinedLegalBasis  []LegalSource                 `json:"combined_legal_basis"`
	CombinedReasoning   []string                      `json:"combined_reasoning"`
	Confidence          float64                       `json:"confidence"`
	ConfidenceBreakdown ConfidenceBreakdown            `json:"confidence_breakdown"`
	Conflicts           []string                      `json:"conflicts,omitempty"`
	AggregationMethod   AggregationMethod             `json:"aggregation_method"`
	TraceID             string                        `json:"trace_id"`
	ExecutionTimeMs     int64                         `json:"execution_time_ms"`
}

// Caps applied while building an AggregatedResponse.
const (
	MaxCombinedLegalBasis = 10
	MaxCombinedReasoning  = 15
)

// ToolResult is the uniform outcome of a tool invocation; tool failures
// are captured here rather than propagated as Go errors.
type ToolResult struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata Metadata               `json:"metadata,omitempty"`
}

// NewChunkID mints a fresh globally unique chunk identifier. Kept as a
// named constructor (rather than calling uuid.NewString inline everywhere)
// so every ChunkId in the core is visibly produced the same way.
func NewChunkID() string {
	return newUUID()
}

// NewTraceID mints a microsecond-unique trace identifier.
func NewTraceID(now time.Time) string {
	return "trace-" + now.Format("20060102T150405.000000")
}
