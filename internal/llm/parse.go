package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Judge output is parsed strictly at this boundary. A response that does not
// validate is an error; callers map it to their defined default rather than
// letting loose model output propagate.

type TopicDecision struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
}

type CriterionJudgment struct {
	Score       float64 `json:"score"`
	Comment     string  `json:"comment"`
	Strength    string  `json:"strength"`
	Improvement string  `json:"improvement"`
}

type InsightProposal struct {
	Category   string `json:"category"`
	Text       string `json:"text"`
	Importance int    `json:"importance"`
}

type InsightSummary struct {
	ID         string
	Text       string
	Importance int
}

type MergeGroup struct {
	IDs  []string `json:"ids"`
	Text string   `json:"text"`
}

func parseTopicDecision(content string) (TopicDecision, error) {
	raw, err := extractJSON(content, '{')
	if err != nil {
		return TopicDecision{}, err
	}

	var d TopicDecision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return TopicDecision{}, fmt.Errorf("malformed topic decision: %w", err)
	}

	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 1 {
		d.Confidence = 1
	}

	return d, nil
}

func parseCriterionJudgment(content string) (CriterionJudgment, error) {
	raw, err := extractJSON(content, '{')
	if err != nil {
		return CriterionJudgment{}, err
	}

	var j CriterionJudgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return CriterionJudgment{}, fmt.Errorf("malformed criterion judgment: %w", err)
	}

	if j.Score == 0 {
		return CriterionJudgment{}, fmt.Errorf("criterion judgment missing score")
	}

	return j, nil
}

func parseInsightProposals(content string, max int) ([]InsightProposal, error) {
	raw, err := extractJSON(content, '[')
	if err != nil {
		return nil, err
	}

	var proposals []InsightProposal
	if err := json.Unmarshal([]byte(raw), &proposals); err != nil {
		return nil, fmt.Errorf("malformed insight proposals: %w", err)
	}

	valid := make([]InsightProposal, 0, len(proposals))
	for _, p := range proposals {
		p.Text = strings.TrimSpace(p.Text)
		if p.Text == "" {
			continue
		}
		if !validCategory(p.Category) {
			continue
		}
		if p.Importance < 1 {
			p.Importance = 1
		}
		if p.Importance > 10 {
			p.Importance = 10
		}
		valid = append(valid, p)
		if max > 0 && len(valid) == max {
			break
		}
	}

	return valid, nil
}

func parseMergeGroups(content string) ([]MergeGroup, error) {
	raw, err := extractJSON(content, '[')
	if err != nil {
		return nil, err
	}

	var groups []MergeGroup
	if err := json.Unmarshal([]byte(raw), &groups); err != nil {
		return nil, fmt.Errorf("malformed merge groups: %w", err)
	}

	valid := make([]MergeGroup, 0, len(groups))
	for _, g := range groups {
		g.Text = strings.TrimSpace(g.Text)
		if len(g.IDs) < 2 || g.Text == "" {
			continue
		}
		valid = append(valid, g)
	}

	return valid, nil
}

func validCategory(c string) bool {
	switch c {
	case "best_practice", "improvement", "avoid_pattern":
		return true
	}
	return false
}

// extractJSON pulls the first JSON value opening with the given delimiter
// out of a model response, tolerating markdown fences and surrounding prose.
func extractJSON(content string, open byte) (string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	start := strings.IndexByte(content, open)
	end := strings.LastIndexByte(content, close)
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON value found in judge output")
	}

	return content[start : end+1], nil
}
