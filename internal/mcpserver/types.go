package mcpserver

// AskInput defines inputs for the pdf_ask MCP tool.
type AskInput struct {
	Path     string `json:"path,omitempty" jsonschema:"PDF file path (optional when the server was started with a default document)"`
	Question string `json:"question" jsonschema:"question about the document"`
	Session  string `json:"session,omitempty" jsonschema:"conversation session key (default: default)"`
}

// AskOutput is the output for pdf_ask.
type AskOutput struct {
	Answer      string `json:"answer"`
	Session     string `json:"session"`
	Fingerprint string `json:"fingerprint"`
}

// ExplainInput defines inputs for the pdf_explain MCP tool.
type ExplainInput struct {
	Selected string `json:"selected" jsonschema:"word or phrase to explain"`
	Context  string `json:"context,omitempty" jsonschema:"surrounding text; defaults to the document text when path is set"`
	Mode     string `json:"mode,omitempty" jsonschema:"target (explain in the target language) or mother (explain in the mother tongue)"`
	Path     string `json:"path,omitempty" jsonschema:"PDF file path used as context when context is empty"`
}

// ExplainOutput is the output for pdf_explain.
type ExplainOutput struct {
	TaskID         string `json:"task_id"`
	Mode           string `json:"mode"`
	Language       string `json:"language"`
	AnswerLanguage string `json:"answer_language"`
	Explanation    string `json:"explanation"`
}

// SearchInput defines inputs for the pdf_search MCP tool.
type SearchInput struct {
	Path        string `json:"path,omitempty" jsonschema:"PDF file path"`
	Query       string `json:"query" jsonschema:"search query (natural language or keywords)"`
	TopK        int    `json:"top_k,omitempty" jsonschema:"number of chunks to return"`
	KeywordOnly bool   `json:"keyword_only,omitempty" jsonschema:"use keyword search only"`
}

// SearchScores includes per-signal scores for a result.
type SearchScores struct {
	Vector   float32 `json:"vector"`
	Keyword  float32 `json:"keyword"`
	Combined float32 `json:"combined"`
}

// SearchResultItem is one retrieved chunk.
type SearchResultItem struct {
	Seq     int          `json:"seq"`
	Page    int          `json:"page"`
	Content string       `json:"content"`
	Scores  SearchScores `json:"scores"`
}

// SearchOutput is the output for pdf_search.
type SearchOutput struct {
	Query   string             `json:"query"`
	Count   int                `json:"count"`
	Results []SearchResultItem `json:"results"`
}

// StatusInput defines inputs for the pdf_status MCP tool.
type StatusInput struct {
	Path string `json:"path,omitempty" jsonschema:"PDF file path"`
}

// StatusOutput reports the index state of a document.
type StatusOutput struct {
	Path          string `json:"path"`
	Fingerprint   string `json:"fingerprint"`
	Indexed       bool   `json:"indexed"`
	IndexDir      string `json:"index_dir"`
	Chunks        int64  `json:"chunks,omitempty"`
	Dimension     int    `json:"dimension,omitempty"`
	Model         string `json:"model,omitempty"`
	BuiltAt       string `json:"built_at,omitempty"`
	IndexAge      string `json:"index_age,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
	SizeStr       string `json:"size,omitempty"`
	PipelineState string `json:"pipeline_state,omitempty"`
	IsStale       bool   `json:"is_stale"`
	StaleReason   string `json:"stale_reason,omitempty"`
}
