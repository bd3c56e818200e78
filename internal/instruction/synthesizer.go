package instruction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

const basePreamble = `You are the assistant on Nick's personal portfolio site. You answer
visitor questions about Nick's work, projects, skills, and background,
grounded in the reference material you are given.

Tone: friendly, professional, and direct. Speak about Nick in the third
person. If the reference material does not cover a question, say so honestly
rather than guessing.

Do not engage with content that is hateful, sexually explicit, or seeks help
with illegal activity; politely steer the conversation back to Nick's work.`

const defaultFormattingRules = `Formatting: answer in plain prose. Use short paragraphs. Only use a
bulleted list when the visitor asks for an enumeration.`

const closingGuidelines = `Keep answers grounded in the reference material, cite specifics when they
help, and invite a follow-up question when it is natural to do so.`

type Store interface {
	ListInsights(activeOnly bool) ([]models.Insight, error)
	GetInstructionState() (*models.InstructionState, error)
	SetInstructionOverride(text string) error
	ClearInstructionOverride() error
	SetInstructionSuggestion(text, state string) error
}

type Suggester interface {
	SuggestInstruction(ctx context.Context, current, insightDigest string) (string, error)
}

type Cache interface {
	GetInstruction(ctx context.Context) (string, bool, error)
	SetInstruction(ctx context.Context, text string, ttl time.Duration) error
	InvalidateInstruction(ctx context.Context) error
}

var ErrNoPendingSuggestion = fmt.Errorf("no instruction suggestion is pending")
var ErrSuggestionPending = fmt.Errorf("an instruction suggestion is already pending review")

// Synthesizer assembles the live system instruction from the base template
// and the active insight set. An operator override, when set, is exposed
// verbatim instead.
type Synthesizer struct {
	store           Store
	suggester       Suggester
	cache           Cache
	formattingRules string
	cacheTTL        time.Duration
}

func NewSynthesizer(store Store, suggester Suggester, cache Cache, formattingRules string) *Synthesizer {
	if formattingRules == "" {
		formattingRules = defaultFormattingRules
	}

	return &Synthesizer{
		store:           store,
		suggester:       suggester,
		cache:           cache,
		formattingRules: formattingRules,
		cacheTTL:        time.Hour,
	}
}

// Synthesize returns the live instruction text. Pure function of the
// override, the base template, and the active insight set.
func (s *Synthesizer) Synthesize(ctx context.Context) (string, error) {
	if s.cache != nil {
		if text, ok, err := s.cache.GetInstruction(ctx); err == nil && ok {
			return text, nil
		}
	}

	state, err := s.store.GetInstructionState()
	if err != nil {
		return "", fmt.Errorf("failed to load instruction state: %w", err)
	}

	var text string
	if state.HasOverride {
		text = state.OverrideText
	} else {
		insights, err := s.store.ListInsights(true)
		if err != nil {
			return "", fmt.Errorf("failed to load insights: %w", err)
		}
		text = s.assemble(insights)
	}

	if s.cache != nil {
		if err := s.cache.SetInstruction(ctx, text, s.cacheTTL); err != nil {
			logger.Warn("Failed to cache instruction", zap.Error(err))
		}
	}

	return text, nil
}

// Fallback is the instruction used when the store cannot be read; the
// conversation proceeds on the base template alone.
func (s *Synthesizer) Fallback() string {
	return s.assemble(nil)
}

func (s *Synthesizer) assemble(insights []models.Insight) string {
	var sb strings.Builder
	sb.WriteString(basePreamble)
	sb.WriteString("\n\n")
	sb.WriteString(s.formattingRules)

	writeSection(&sb, "Best practices to follow:", insights, models.CategoryBestPractice)
	writeSection(&sb, "Known areas to improve on:", insights, models.CategoryImprovement)
	writeSection(&sb, "Patterns to avoid:", insights, models.CategoryAvoidPattern)

	sb.WriteString("\n\n")
	sb.WriteString(closingGuidelines)

	return sb.String()
}

// writeSection emits one bulleted block. Insights arrive sorted by
// descending importance from the store, so order is preserved as-is.
func writeSection(sb *strings.Builder, title string, insights []models.Insight, category string) {
	var lines []string
	for _, in := range insights {
		if in.Category == category {
			lines = append(lines, fmt.Sprintf("- %s", in.Text))
		}
	}

	if len(lines) == 0 {
		return
	}

	sb.WriteString("\n\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(lines, "\n"))
}

// RequestSuggestion asks the judge for a candidate instruction and parks it
// for operator review. The live instruction is untouched until approval.
func (s *Synthesizer) RequestSuggestion(ctx context.Context) (string, error) {
	state, err := s.store.GetInstructionState()
	if err != nil {
		return "", fmt.Errorf("failed to load instruction state: %w", err)
	}

	if state.SuggestionState == models.SuggestionStateSuggested {
		return "", ErrSuggestionPending
	}

	insights, err := s.store.ListInsights(true)
	if err != nil {
		return "", fmt.Errorf("failed to load insights: %w", err)
	}

	current := state.OverrideText
	if !state.HasOverride {
		current = s.assemble(insights)
	}

	candidate, err := s.suggester.SuggestInstruction(ctx, current, digest(insights))
	if err != nil {
		return "", fmt.Errorf("failed to generate instruction suggestion: %w", err)
	}

	if err := s.store.SetInstructionSuggestion(candidate, models.SuggestionStateSuggested); err != nil {
		return "", err
	}

	logger.Info("Instruction suggestion generated", zap.Int("length", len(candidate)))

	return candidate, nil
}

// Approve installs text as the live override. Only valid while a suggestion
// is pending; the operator may have edited the candidate before approving.
func (s *Synthesizer) Approve(ctx context.Context, text string) error {
	state, err := s.store.GetInstructionState()
	if err != nil {
		return fmt.Errorf("failed to load instruction state: %w", err)
	}

	if state.SuggestionState != models.SuggestionStateSuggested {
		return ErrNoPendingSuggestion
	}

	if strings.TrimSpace(text) == "" {
		text = state.SuggestionText
	}

	if err := s.store.SetInstructionOverride(text); err != nil {
		return err
	}
	if err := s.store.SetInstructionSuggestion(state.SuggestionText, models.SuggestionStateApproved); err != nil {
		return err
	}

	s.invalidate(ctx)

	logger.Info("Instruction suggestion approved")
	return nil
}

func (s *Synthesizer) Reject(ctx context.Context) error {
	state, err := s.store.GetInstructionState()
	if err != nil {
		return fmt.Errorf("failed to load instruction state: %w", err)
	}

	if state.SuggestionState != models.SuggestionStateSuggested {
		return ErrNoPendingSuggestion
	}

	if err := s.store.SetInstructionSuggestion(state.SuggestionText, models.SuggestionStateRejected); err != nil {
		return err
	}

	logger.Info("Instruction suggestion rejected")
	return nil
}

// SetOverride installs a manually edited instruction outside the
// suggestion flow.
func (s *Synthesizer) SetOverride(ctx context.Context, text string) error {
	if err := s.store.SetInstructionOverride(text); err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

func (s *Synthesizer) ClearOverride(ctx context.Context) error {
	if err := s.store.ClearInstructionOverride(); err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Invalidate drops any cached instruction. Called by whoever mutates the
// insight set.
func (s *Synthesizer) Invalidate(ctx context.Context) {
	s.invalidate(ctx)
}

func (s *Synthesizer) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateInstruction(ctx); err != nil {
		logger.Warn("Failed to invalidate instruction cache", zap.Error(err))
	}
}

func digest(insights []models.Insight) string {
	if len(insights) == 0 {
		return "(no lessons recorded yet)"
	}

	var sb strings.Builder
	for _, in := range insights {
		fmt.Fprintf(&sb, "- [%s, importance %d] %s\n", in.Category, in.Importance, in.Text)
	}
	return sb.String()
}
