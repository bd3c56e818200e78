package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		content TEXT NOT NULL,
		ingested_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_name);

	CREATE TABLE IF NOT EXISTS training_pairs (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		category TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_question TEXT NOT NULL,
		bot_response TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, created_at);

	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		criterion_scores TEXT NOT NULL,
		overall_score REAL NOT NULL,
		feedback_text TEXT,
		strengths TEXT,
		improvements TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (turn_id) REFERENCES conversation_turns(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_turn ON evaluations(turn_id);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);

	CREATE TABLE IF NOT EXISTS user_feedback (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		session_id TEXT,
		rating TEXT NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (turn_id) REFERENCES conversation_turns(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_turn ON user_feedback(turn_id);

	CREATE TABLE IF NOT EXISTS insights (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		text TEXT NOT NULL,
		examples TEXT,
		source_evaluation_id TEXT,
		source_feedback_id TEXT,
		importance INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_category ON insights(category, is_active);
	CREATE INDEX IF NOT EXISTS idx_insights_source_eval ON insights(source_evaluation_id);
	CREATE INDEX IF NOT EXISTS idx_insights_source_feedback ON insights(source_feedback_id);

	CREATE TABLE IF NOT EXISTS instruction_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		override_text TEXT NOT NULL DEFAULT '',
		has_override INTEGER NOT NULL DEFAULT 0,
		suggestion_text TEXT NOT NULL DEFAULT '',
		suggestion_state TEXT NOT NULL DEFAULT 'idle',
		updated_at INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO instruction_state (id, updated_at) VALUES (1, strftime('%s','now'));
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `INSERT INTO documents (id, source_name, content, ingested_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, doc.ID, doc.SourceName, doc.Content, doc.IngestedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("source", doc.SourceName))
	return nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	query := `SELECT id, source_name, content, ingested_at FROM documents ORDER BY ingested_at`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		var ingestedAt int64

		if err := rows.Scan(&d.ID, &d.SourceName, &d.Content, &ingestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.IngestedAt = time.Unix(ingestedAt, 0)
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

func (c *Client) DeleteDocument(id string) error {
	res, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) InsertTrainingPair(pair *models.TrainingPair) error {
	query := `INSERT INTO training_pairs (id, question, answer, category, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, pair.ID, pair.Question, pair.Answer, pair.Category, pair.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert training pair: %w", err)
	}

	return nil
}

func (c *Client) ListTrainingPairs() ([]models.TrainingPair, error) {
	query := `SELECT id, question, answer, category, created_at FROM training_pairs ORDER BY created_at`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list training pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.TrainingPair
	for rows.Next() {
		var p models.TrainingPair
		var createdAt int64

		if err := rows.Scan(&p.ID, &p.Question, &p.Answer, &p.Category, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.CreatedAt = time.Unix(createdAt, 0)
		pairs = append(pairs, p)
	}

	return pairs, rows.Err()
}

func (c *Client) InsertTurn(turn *models.ConversationTurn) error {
	query := `INSERT INTO conversation_turns (id, session_id, user_question, bot_response, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, turn.ID, turn.SessionID, turn.UserQuestion, turn.BotResponse, turn.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert conversation turn: %w", err)
	}

	logger.Info("Conversation turn recorded",
		zap.String("turn_id", turn.ID),
		zap.String("session_id", turn.SessionID),
	)

	return nil
}

func (c *Client) GetTurn(id string) (*models.ConversationTurn, error) {
	query := `SELECT id, session_id, user_question, bot_response, created_at FROM conversation_turns WHERE id = ?`

	var t models.ConversationTurn
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&t.ID, &t.SessionID, &t.UserQuestion, &t.BotResponse, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation turn: %w", err)
	}

	t.CreatedAt = time.Unix(createdAt, 0)
	return &t, nil
}

// ListSessionTurns returns a session's most recent turns in chronological
// order, oldest first. A non-positive limit returns the whole session.
func (c *Client) ListSessionTurns(sessionID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, session_id, user_question, bot_response, created_at FROM (
			SELECT id, session_id, user_question, bot_response, created_at
			FROM conversation_turns
			WHERE session_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var createdAt int64

		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserQuestion, &t.BotResponse, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}

	return turns, rows.Err()
}

func (c *Client) InsertEvaluation(eval *models.Evaluation) error {
	scoresJSON, err := json.Marshal(eval.CriterionScores)
	if err != nil {
		return fmt.Errorf("failed to marshal criterion scores: %w", err)
	}
	strengthsJSON, _ := json.Marshal(eval.Strengths)
	improvementsJSON, _ := json.Marshal(eval.Improvements)

	query := `
		INSERT INTO evaluations (id, turn_id, criterion_scores, overall_score, feedback_text, strengths, improvements, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		eval.ID,
		eval.TurnID,
		string(scoresJSON),
		eval.OverallScore,
		eval.FeedbackText,
		string(strengthsJSON),
		string(improvementsJSON),
		eval.Status,
		eval.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	logger.Info("Evaluation recorded",
		zap.String("evaluation_id", eval.ID),
		zap.String("turn_id", eval.TurnID),
		zap.String("status", eval.Status),
		zap.Float64("overall_score", eval.OverallScore),
	)

	return nil
}

func (c *Client) ListEvaluations(limit int) ([]models.Evaluation, error) {
	query := `
		SELECT id, turn_id, criterion_scores, overall_score, feedback_text, strengths, improvements, status, created_at
		FROM evaluations
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

// ListUnminedPoorEvaluations returns scored evaluations below threshold that
// no insight references yet.
func (c *Client) ListUnminedPoorEvaluations(threshold float64) ([]models.Evaluation, error) {
	query := `
		SELECT e.id, e.turn_id, e.criterion_scores, e.overall_score, e.feedback_text, e.strengths, e.improvements, e.status, e.created_at
		FROM evaluations e
		WHERE e.status = ?
		  AND e.overall_score < ?
		  AND NOT EXISTS (SELECT 1 FROM insights i WHERE i.source_evaluation_id = e.id)
		ORDER BY e.created_at
	`

	rows, err := c.db.Query(query, models.EvaluationStatusScored, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to list poor evaluations: %w", err)
	}
	defer rows.Close()

	return scanEvaluations(rows)
}

func scanEvaluations(rows *sql.Rows) ([]models.Evaluation, error) {
	var evals []models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		var scoresJSON, strengthsJSON, improvementsJSON string
		var createdAt int64

		err := rows.Scan(&e.ID, &e.TurnID, &scoresJSON, &e.OverallScore, &e.FeedbackText,
			&strengthsJSON, &improvementsJSON, &e.Status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(scoresJSON), &e.CriterionScores)
		json.Unmarshal([]byte(strengthsJSON), &e.Strengths)
		json.Unmarshal([]byte(improvementsJSON), &e.Improvements)
		e.CreatedAt = time.Unix(createdAt, 0)
		evals = append(evals, e)
	}

	return evals, rows.Err()
}

func (c *Client) InsertFeedback(fb *models.UserFeedback) error {
	query := `INSERT INTO user_feedback (id, turn_id, session_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, fb.ID, fb.TurnID, fb.SessionID, fb.Rating, fb.Comment, fb.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	logger.Info("Feedback recorded",
		zap.String("feedback_id", fb.ID),
		zap.String("turn_id", fb.TurnID),
		zap.String("rating", fb.Rating),
	)

	return nil
}

// ListUnminedDisapprovals returns disapprove feedback with a non-empty
// comment that no insight references yet.
func (c *Client) ListUnminedDisapprovals() ([]models.UserFeedback, error) {
	query := `
		SELECT f.id, f.turn_id, f.session_id, f.rating, f.comment, f.created_at
		FROM user_feedback f
		WHERE f.rating = ?
		  AND f.comment IS NOT NULL AND f.comment != ''
		  AND NOT EXISTS (SELECT 1 FROM insights i WHERE i.source_feedback_id = f.id)
		ORDER BY f.created_at
	`

	rows, err := c.db.Query(query, models.RatingDisapprove)
	if err != nil {
		return nil, fmt.Errorf("failed to list disapprovals: %w", err)
	}
	defer rows.Close()

	var items []models.UserFeedback
	for rows.Next() {
		var f models.UserFeedback
		var createdAt int64

		if err := rows.Scan(&f.ID, &f.TurnID, &f.SessionID, &f.Rating, &f.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, f)
	}

	return items, rows.Err()
}

func (c *Client) InsertInsight(in *models.Insight) error {
	examplesJSON, _ := json.Marshal(in.Examples)

	query := `
		INSERT INTO insights (id, category, text, examples, source_evaluation_id, source_feedback_id, importance, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	active := 0
	if in.IsActive {
		active = 1
	}

	_, err := c.db.Exec(
		query,
		in.ID,
		in.Category,
		in.Text,
		string(examplesJSON),
		nullable(in.SourceEvaluationID),
		nullable(in.SourceFeedbackID),
		in.Importance,
		active,
		in.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}

	logger.Info("Insight recorded",
		zap.String("insight_id", in.ID),
		zap.String("category", in.Category),
		zap.Int("importance", in.Importance),
	)

	return nil
}

func (c *Client) ListInsights(activeOnly bool) ([]models.Insight, error) {
	query := `
		SELECT id, category, text, examples, source_evaluation_id, source_feedback_id, importance, is_active, created_at
		FROM insights
	`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY importance DESC, created_at ASC, id ASC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		var in models.Insight
		var examplesJSON string
		var sourceEval, sourceFeedback sql.NullString
		var active int
		var createdAt int64

		err := rows.Scan(&in.ID, &in.Category, &in.Text, &examplesJSON,
			&sourceEval, &sourceFeedback, &in.Importance, &active, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		json.Unmarshal([]byte(examplesJSON), &in.Examples)
		in.SourceEvaluationID = sourceEval.String
		in.SourceFeedbackID = sourceFeedback.String
		in.IsActive = active == 1
		in.CreatedAt = time.Unix(createdAt, 0)
		insights = append(insights, in)
	}

	return insights, rows.Err()
}

// MergeInsight overwrites an insight's text and importance in place. Used by
// the deduplicator for the surviving member of a merge group.
func (c *Client) MergeInsight(id, text string, importance int) error {
	res, err := c.db.Exec(`UPDATE insights SET text = ?, importance = ? WHERE id = ?`, text, importance, id)
	if err != nil {
		return fmt.Errorf("failed to merge insight: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) SetInsightActive(id string, active bool) error {
	v := 0
	if active {
		v = 1
	}

	res, err := c.db.Exec(`UPDATE insights SET is_active = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update insight: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) DeleteInsight(id string) error {
	res, err := c.db.Exec(`DELETE FROM insights WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete insight: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) GetInstructionState() (*models.InstructionState, error) {
	query := `SELECT override_text, has_override, suggestion_text, suggestion_state, updated_at FROM instruction_state WHERE id = 1`

	var s models.InstructionState
	var hasOverride int
	var updatedAt int64

	err := c.db.QueryRow(query).Scan(&s.OverrideText, &hasOverride, &s.SuggestionText, &s.SuggestionState, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get instruction state: %w", err)
	}

	s.HasOverride = hasOverride == 1
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

func (c *Client) SetInstructionOverride(text string) error {
	_, err := c.db.Exec(
		`UPDATE instruction_state SET override_text = ?, has_override = 1, updated_at = ? WHERE id = 1`,
		text, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set instruction override: %w", err)
	}
	return nil
}

func (c *Client) ClearInstructionOverride() error {
	_, err := c.db.Exec(
		`UPDATE instruction_state SET override_text = '', has_override = 0, updated_at = ? WHERE id = 1`,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to clear instruction override: %w", err)
	}
	return nil
}

func (c *Client) SetInstructionSuggestion(text, state string) error {
	_, err := c.db.Exec(
		`UPDATE instruction_state SET suggestion_text = ?, suggestion_state = ?, updated_at = ? WHERE id = 1`,
		text, state, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set instruction suggestion: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
