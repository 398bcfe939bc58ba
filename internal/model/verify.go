package model

import "time"

// CodeQuality LLM 评审给出的代码质量评级
type CodeQuality string

const (
	CodeQualityExcellent        CodeQuality = "excellent"
	CodeQualityGood             CodeQuality = "good"
	CodeQualityNeedsImprovement CodeQuality = "needs_improvement"
)

// CheckStatus 单项检查的结论
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusPartial CheckStatus = "partial"
	CheckStatusSkipped CheckStatus = "skipped"
	CheckStatusError   CheckStatus = "error"
)

// Verdict 验证结论，LLM 裁决失败时回退为安全失败结论
type Verdict struct {
	Passed             bool        `json:"passed" bson:"passed"`
	OverallFeedback    string      `json:"overall_feedback" bson:"overall_feedback"`
	Hints              []string    `json:"hints,omitempty" bson:"hints,omitempty"`
	IssuesFound        []string    `json:"issues_found,omitempty" bson:"issues_found,omitempty"`
	Suggestions        []string    `json:"suggestions,omitempty" bson:"suggestions,omitempty"`
	CodeQuality        CodeQuality `json:"code_quality" bson:"code_quality"`
	TestStatus         CheckStatus `json:"test_status" bson:"test_status"`
	PatternMatchStatus CheckStatus `json:"pattern_match_status" bson:"pattern_match_status"`
}

// PatternMatch 一条必需结构的匹配结果
type PatternMatch struct {
	Name    string `json:"name" bson:"name"`
	Kind    string `json:"kind" bson:"kind"` // function / class / import / pattern
	Exists  bool   `json:"exists" bson:"exists"`
	Matched bool   `json:"matched" bson:"matched"`
}

// StageResult 流水线单个阶段的执行记录
type StageResult struct {
	Stage      string `json:"stage" bson:"stage"`
	Status     string `json:"status" bson:"status"`
	Detail     string `json:"detail,omitempty" bson:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms" bson:"duration_ms"`
}

// HTTPProbeResult 运行中服务的探活结果
type HTTPProbeResult struct {
	Port       int  `json:"port" bson:"port"`
	Reachable  bool `json:"reachable" bson:"reachable"`
	StatusCode int  `json:"status_code,omitempty" bson:"status_code,omitempty"`
}

// VerifyReport 一次完整验证运行的报告
type VerifyReport struct {
	ID          string  `json:"id" bson:"_id"`
	SessionID   string  `json:"session_id" bson:"session_id"`
	TaskID      string  `json:"task_id" bson:"task_id"`
	WorkspaceID string  `json:"workspace_id" bson:"workspace_id"`
	Verdict     Verdict `json:"verdict" bson:"verdict"`

	Language       string           `json:"language,omitempty" bson:"language,omitempty"`
	FilesCollected []string         `json:"files_collected,omitempty" bson:"files_collected,omitempty"`
	TestOutput     string           `json:"test_output,omitempty" bson:"test_output,omitempty"`
	PatternMatches []PatternMatch   `json:"pattern_matches,omitempty" bson:"pattern_matches,omitempty"`
	HTTPProbe      *HTTPProbeResult `json:"http_probe,omitempty" bson:"http_probe,omitempty"`
	Stages         []StageResult    `json:"stages,omitempty" bson:"stages,omitempty"`

	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	DurationMS int64     `json:"duration_ms" bson:"duration_ms"`
}
