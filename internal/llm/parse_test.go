package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopicDecision(t *testing.T) {
	d, err := parseTopicDecision(`{"accepted": true, "confidence": 0.92}`)
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, 0.92, d.Confidence)
}

func TestParseTopicDecision_ToleratesFencesAndProse(t *testing.T) {
	content := "```json\n{\"accepted\": false, \"confidence\": 0.8}\n```"
	d, err := parseTopicDecision(content)
	require.NoError(t, err)
	assert.False(t, d.Accepted)
}

func TestParseTopicDecision_ClampsConfidence(t *testing.T) {
	d, err := parseTopicDecision(`{"accepted": true, "confidence": 3.5}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Confidence)

	d, err = parseTopicDecision(`{"accepted": true, "confidence": -1}`)
	require.NoError(t, err)
	assert.Zero(t, d.Confidence)
}

func TestParseTopicDecision_Malformed(t *testing.T) {
	_, err := parseTopicDecision("I think it's fine")
	assert.Error(t, err)
}

func TestParseCriterionJudgment(t *testing.T) {
	j, err := parseCriterionJudgment(`{"score": 4, "comment": "solid", "strength": "s", "improvement": "i"}`)
	require.NoError(t, err)
	assert.Equal(t, 4.0, j.Score)
	assert.Equal(t, "solid", j.Comment)
}

func TestParseCriterionJudgment_MissingScore(t *testing.T) {
	_, err := parseCriterionJudgment(`{"comment": "no score here"}`)
	assert.Error(t, err)
}

func TestParseInsightProposals(t *testing.T) {
	content := `[
		{"category": "improvement", "text": "Be specific", "importance": 15},
		{"category": "made_up", "text": "dropped", "importance": 5},
		{"category": "avoid_pattern", "text": "  ", "importance": 5},
		{"category": "best_practice", "text": "Cite sources", "importance": -2}
	]`

	proposals, err := parseInsightProposals(content, 3)
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, "Be specific", proposals[0].Text)
	assert.Equal(t, 10, proposals[0].Importance)
	assert.Equal(t, 1, proposals[1].Importance)
}

func TestParseInsightProposals_HonorsMax(t *testing.T) {
	content := `[
		{"category": "improvement", "text": "one", "importance": 5},
		{"category": "improvement", "text": "two", "importance": 5},
		{"category": "improvement", "text": "three", "importance": 5}
	]`

	proposals, err := parseInsightProposals(content, 2)
	require.NoError(t, err)
	assert.Len(t, proposals, 2)
}

func TestParseMergeGroups(t *testing.T) {
	content := `[
		{"ids": ["a", "b"], "text": "merged"},
		{"ids": ["c"], "text": "singleton dropped"},
		{"ids": ["d", "e"], "text": "  "}
	]`

	groups, err := parseMergeGroups(content)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b"}, groups[0].IDs)
}

func TestExtractJSON_ObjectWithSurroundingProse(t *testing.T) {
	raw, err := extractJSON(`Sure! Here you go: {"a": 1} hope that helps`, '{')
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, raw)
}

func TestExtractJSON_NoValue(t *testing.T) {
	_, err := extractJSON("nothing here", '[')
	assert.Error(t, err)
}
