package mcp

import "time"

// SearchRequest is the search_code tool input.
type SearchRequest struct {
	Query      string  `json:"query"`
	Branch     string  `json:"branch,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Language   string  `json:"language,omitempty"`
	PathPrefix string  `json:"path_prefix,omitempty"`
	MinScore   float64 `json:"min_score,omitempty"`
}

// SearchHit is one ranked chunk. Vectors are never returned.
type SearchHit struct {
	Path      string  `json:"path"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Language  string  `json:"language,omitempty"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
	GitCommit string  `json:"git_commit,omitempty"`
}

// SearchResponse is the search_code tool output.
type SearchResponse struct {
	Branch  string      `json:"branch"`
	Results []SearchHit `json:"results"`
	Total   int         `json:"total"`
}

// BranchInfo summarizes one indexed branch.
type BranchInfo struct {
	Name          string    `json:"name"`
	LastCommit    string    `json:"last_commit,omitempty"`
	FileCount     int       `json:"file_count"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
}

// RunInfo summarizes one indexing run.
type RunInfo struct {
	Mode           string    `json:"mode"`
	Strategy       string    `json:"strategy,omitempty"`
	Branch         string    `json:"branch"`
	Status         string    `json:"status"`
	TriggerReasons []string  `json:"trigger_reasons,omitempty"`
	FilesProcessed int       `json:"files_processed"`
	ChunksEmbedded int       `json:"chunks_embedded"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	Error          string    `json:"error,omitempty"`
}

// StatusResponse is the index_status tool output.
type StatusResponse struct {
	Collection      string       `json:"collection"`
	Branch          string       `json:"branch"`
	Schema          string       `json:"schema"`
	Documents       int          `json:"documents"`
	VisibleOnBranch int          `json:"visible_on_branch"`
	LastSuccess     *time.Time   `json:"last_success,omitempty"`
	Branches        []BranchInfo `json:"branches"`
	RecentRuns      []RunInfo    `json:"recent_runs,omitempty"`
}

// AnalyzeResponse is the analyze_reindex tool output.
type AnalyzeResponse struct {
	Branch           string   `json:"branch"`
	ShouldReindex    bool     `json:"should_reindex"`
	Strategy         string   `json:"strategy"`
	Confidence       float64  `json:"confidence"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Reasons          []string `json:"reasons,omitempty"`
	ChangedFiles     int      `json:"changed_files"`
	TotalFiles       int      `json:"total_files"`
	PercentChanged   float64  `json:"percent_changed"`
	Health           string   `json:"health"`
	QualityScore     float64  `json:"quality_score"`
	Documents        int      `json:"documents"`
	SearchAccuracy   float64  `json:"search_accuracy"`
	IndexAgeDays     int      `json:"index_age_days"`
	Corrupted        bool     `json:"corrupted"`
	MetricsEstimated bool     `json:"metrics_estimated,omitempty"`
}
