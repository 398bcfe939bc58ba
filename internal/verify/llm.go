package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"gitguide/internal/config"
	"gitguide/internal/model"
)

// VerifyInput 提交给裁决器的全部证据
type VerifyInput struct {
	TaskDescription  string
	TaskRequirements string
	Language         string
	GitDiff          string
	ChangedFiles     []string
	FileContents     map[string]string
	TestSummary      string
	AnalysisSummary  string
	PatternSummary   string
	HTTPSummary      string
}

// Verifier 最终裁决接口
type Verifier interface {
	Verify(ctx context.Context, input *VerifyInput) (*model.Verdict, error)
}

// 提示词里证据的截断上限
const (
	maxPromptDiff  = 5000
	maxPromptFiles = 10000
)

const verdictSystemPrompt = "You are a STRICT code reviewer. " +
	"Assume code is wrong unless proven correct. " +
	"Return ONLY a valid JSON object, no markdown, no extra text."

// OpenAIVerifier OpenAI 兼容 chat completions 端点的裁决实现
type OpenAIVerifier struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewOpenAIVerifier 创建 LLM 裁决器
func NewOpenAIVerifier(cfg config.LLMConfig) *OpenAIVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIVerifier{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Verify 调用 LLM 产出裁决，任何失败都降级为安全失败裁决
//
// 返回的 error 仅用于记录，调用方拿到的 Verdict 始终可用。
func (v *OpenAIVerifier) Verify(ctx context.Context, input *VerifyInput) (*model.Verdict, error) {
	verdict, err := v.verify(ctx, input)
	if err != nil {
		log.Printf("[Verify] LLM verification failed: %v", err)
		return SafeFailVerdict(err), err
	}
	return verdict, nil
}

func (v *OpenAIVerifier) verify(ctx context.Context, input *VerifyInput) (*model.Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: v.model,
		Messages: []chatMessage{
			{Role: "system", Content: verdictSystemPrompt},
			{Role: "user", Content: buildPrompt(input)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("invalid llm response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llm error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	return parseVerdict(parsed.Choices[0].Message.Content)
}

// parseVerdict 解析模型输出的 JSON 裁决，容忍 markdown 代码栅栏
func parseVerdict(content string) (*model.Verdict, error) {
	cleaned := stripCodeFence(strings.TrimSpace(content))

	// 模型偶尔在 JSON 前后夹杂说明文字，截取首尾大括号之间的部分
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var verdict model.Verdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict JSON: %w", err)
	}
	if verdict.OverallFeedback == "" {
		return nil, fmt.Errorf("verdict missing overall_feedback")
	}
	return &verdict, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// SafeFailVerdict 校验系统自身出错时的保底裁决，永远判不通过
func SafeFailVerdict(cause error) *model.Verdict {
	return &model.Verdict{
		Passed:             false,
		OverallFeedback:    fmt.Sprintf("Verification error: %v", cause),
		Hints:              []string{"Please check your code and try again."},
		IssuesFound:        []string{fmt.Sprintf("Verification system error: %v", cause)},
		CodeQuality:        model.CodeQualityNeedsImprovement,
		TestStatus:         model.CheckStatusError,
		PatternMatchStatus: model.CheckStatusError,
	}
}

// buildPrompt 拼装严格评审提示词
func buildPrompt(input *VerifyInput) string {
	var b strings.Builder
	b.WriteString("You are verifying if a student's code fulfills task requirements.\n\n")
	b.WriteString("VERIFICATION PHILOSOPHY:\n")
	b.WriteString("- Assume code is WRONG unless proven correct\n")
	b.WriteString("- Be CRITICAL - find problems, don't overlook them\n")
	b.WriteString("- NO partial credit - either it works or it doesn't\n")
	b.WriteString("- Code must be COMPLETE, CORRECT, and FUNCTIONAL\n\n")

	b.WriteString("Task Description:\n" + input.TaskDescription + "\n\n")
	b.WriteString("Task Requirements:\n" + input.TaskRequirements + "\n\n")
	b.WriteString("Project Language: " + input.Language + "\n\n")

	b.WriteString("Git Changes:\n" + truncate(orDefault(input.GitDiff, "No git diff available"), maxPromptDiff) + "\n\n")

	changed := strings.Join(input.ChangedFiles, "\n")
	b.WriteString("Changed Files:\n" + orDefault(changed, "No files changed") + "\n\n")

	b.WriteString("File Contents:\n" + truncate(formatFileContents(input.FileContents), maxPromptFiles) + "\n\n")
	b.WriteString("Test Results:\n" + orDefault(input.TestSummary, "No test results available") + "\n\n")
	b.WriteString("Code Structure Analysis:\n" + orDefault(input.AnalysisSummary, "No analysis available") + "\n\n")
	b.WriteString("Pattern Match Results:\n" + orDefault(input.PatternSummary, "No pattern matching performed") + "\n\n")
	if input.HTTPSummary != "" {
		b.WriteString("HTTP Probe Results:\n" + input.HTTPSummary + "\n\n")
	}

	b.WriteString(`CRITICAL RULES:
- If tests exist and FAIL, the task MUST fail
- If required functions/classes are missing, the task MUST fail
- If code has syntax errors, the task MUST fail
- Only pass if ALL requirements are met

If FAILED, provide hints that guide the student toward the solution
without giving direct answers.

Return ONLY valid JSON:
{
  "passed": true/false,
  "overall_feedback": "Brief summary explaining if requirements are met",
  "hints": ["hint1"],
  "issues_found": ["issue1"],
  "suggestions": ["suggestion1"],
  "code_quality": "excellent/good/needs_improvement",
  "test_status": "passed/failed/skipped/error",
  "pattern_match_status": "passed/partial/failed/skipped"
}`)

	return b.String()
}

func formatFileContents(files map[string]string) string {
	if len(files) == 0 {
		return "No file contents available"
	}
	var b strings.Builder
	for path, content := range files {
		b.WriteString("=== " + path + " ===\n" + content + "\n\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
