package astscan

import "strings"

// NamedPattern 按名字要求存在的符号
type NamedPattern struct {
	Name string `json:"name"`
}

// CodePattern 要求出现在代码里的文本特征
type CodePattern struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Patterns 任务的校验模式集合
type Patterns struct {
	RequiredFunctions []NamedPattern `json:"required_functions,omitempty"`
	RequiredClasses   []NamedPattern `json:"required_classes,omitempty"`
	RequiredImports   []string       `json:"required_imports,omitempty"`
	CodePatterns      []CodePattern  `json:"code_patterns,omitempty"`
}

// Empty 是否没有任何模式
func (p *Patterns) Empty() bool {
	return p == nil || (len(p.RequiredFunctions) == 0 && len(p.RequiredClasses) == 0 &&
		len(p.RequiredImports) == 0 && len(p.CodePatterns) == 0)
}

// MatchStatus 单个模式的命中情况
type MatchStatus struct {
	Exists  bool   `json:"exists"`
	Matched bool   `json:"matched"`
	Details string `json:"details,omitempty"`
}

// MatchResult 模式匹配结果
type MatchResult struct {
	RequiredFunctions  map[string]MatchStatus `json:"required_functions"`
	RequiredClasses    map[string]MatchStatus `json:"required_classes"`
	RequiredImports    map[string]MatchStatus `json:"required_imports"`
	CodePatterns       map[string]MatchStatus `json:"code_patterns"`
	AllRequiredMatched bool                   `json:"all_required_matched"`
}

// Match 把用户代码和任务模式逐项比对
//
// 函数/类/导入走结构扫描，代码特征退化为大小写不敏感的子串匹配。
// 任何一项缺失都把 AllRequiredMatched 置为 false。
func Match(userCode string, patterns *Patterns, language string) *MatchResult {
	result := &MatchResult{
		RequiredFunctions:  map[string]MatchStatus{},
		RequiredClasses:    map[string]MatchStatus{},
		RequiredImports:    map[string]MatchStatus{},
		CodePatterns:       map[string]MatchStatus{},
		AllRequiredMatched: true,
	}
	if patterns.Empty() {
		return result
	}

	for _, fn := range patterns.RequiredFunctions {
		if fn.Name == "" {
			continue
		}
		exists := FunctionExists(userCode, fn.Name, language)
		result.RequiredFunctions[fn.Name] = MatchStatus{Exists: exists, Matched: exists}
		if !exists {
			result.AllRequiredMatched = false
		}
	}

	for _, cls := range patterns.RequiredClasses {
		if cls.Name == "" {
			continue
		}
		exists := ClassExists(userCode, cls.Name, language)
		result.RequiredClasses[cls.Name] = MatchStatus{Exists: exists, Matched: exists}
		if !exists {
			result.AllRequiredMatched = false
		}
	}

	for _, mod := range patterns.RequiredImports {
		exists := ImportExists(userCode, mod, language)
		result.RequiredImports[mod] = MatchStatus{Exists: exists, Matched: exists}
		if !exists {
			result.AllRequiredMatched = false
		}
	}

	lowerCode := strings.ToLower(userCode)
	for _, cp := range patterns.CodePatterns {
		matched := cp.Description != "" && strings.Contains(lowerCode, strings.ToLower(cp.Description))
		result.CodePatterns[cp.Type] = MatchStatus{
			Exists:  matched,
			Matched: matched,
			Details: cp.Description,
		}
		if !matched {
			result.AllRequiredMatched = false
		}
	}

	return result
}

// Summary 文本化匹配结果，供提示词拼装
func (r *MatchResult) Summary() string {
	var b strings.Builder
	b.WriteString("All required patterns matched: ")
	if r.AllRequiredMatched {
		b.WriteString("true")
	} else {
		b.WriteString("false")
	}

	writeGroup := func(label string, m map[string]MatchStatus) {
		if len(m) == 0 {
			return
		}
		b.WriteString("\n" + label + ": ")
		first := true
		for name, status := range m {
			if !first {
				b.WriteString(", ")
			}
			first = false
			mark := "missing"
			if status.Matched {
				mark = "ok"
			}
			b.WriteString(name + "=" + mark)
		}
	}
	writeGroup("Required functions", r.RequiredFunctions)
	writeGroup("Required classes", r.RequiredClasses)
	writeGroup("Required imports", r.RequiredImports)
	writeGroup("Code patterns", r.CodePatterns)
	return b.String()
}
