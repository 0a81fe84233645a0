package embedding

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// ContentType represents the type of content being embedded.
type ContentType string

const (
	ContentTypeClaim     ContentType = "claim"     // Agent statements checked for consistency
	ContentTypeKnowledge ContentType = "knowledge" // Facts the player learned
	ContentTypeMemory    ContentType = "memory"    // Past conversation excerpts
	ContentTypeQuery     ContentType = "query"     // Memory lookups
	ContentTypeQuestion  ContentType = "question"  // Player questions
)

// SelectTaskType picks the GenAI task type for the content's use.
func SelectTaskType(contentType ContentType, isQuery bool) string {
	switch contentType {
	case ContentTypeClaim:
		return "FACT_VERIFICATION"
	case ContentTypeQuery:
		return "RETRIEVAL_QUERY"
	case ContentTypeQuestion:
		return "QUESTION_ANSWERING"
	case ContentTypeMemory:
		if isQuery {
			return "RETRIEVAL_QUERY"
		}
		return "RETRIEVAL_DOCUMENT"
	case ContentTypeKnowledge:
		return "SEMANTIC_SIMILARITY"
	default:
		return "SEMANTIC_SIMILARITY" // Safe default
	}
}
