package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/storage"
)

// Store is a SQLite implementation of ClaimStore.
type Store struct {
	db *sql.DB
}

var _ storage.ClaimStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and ensures the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS claims (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			stage TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			claim_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			draft TEXT,
			decision TEXT,
			stage_tag TEXT,
			pending_decision TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (claim_id) REFERENCES claims(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_claim_id ON messages(claim_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateClaim(ctx context.Context, rec *storage.ClaimRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, title, stage, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, string(rec.Stage), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id string) (*storage.ClaimRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, stage, created_at, updated_at FROM claims WHERE id = ?`, id)

	var rec storage.ClaimRecord
	var stage string
	if err := row.Scan(&rec.ID, &rec.Title, &stage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query claim: %w", err)
	}
	rec.Stage = domain.Stage(stage)
	return &rec, nil
}

func (s *Store) ListClaims(ctx context.Context) ([]*storage.ClaimRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, stage, created_at, updated_at FROM claims ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var result []*storage.ClaimRecord
	for rows.Next() {
		var rec storage.ClaimRecord
		var stage string
		if err := rows.Scan(&rec.ID, &rec.Title, &stage, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		rec.Stage = domain.Stage(stage)
		result = append(result, &rec)
	}
	return result, rows.Err()
}

func (s *Store) UpdateClaim(ctx context.Context, id string, patch storage.ClaimPatch) error {
	query := `UPDATE claims SET updated_at = ?`
	args := []any{time.Now()}
	if patch.Title != nil {
		query += `, title = ?`
		args = append(args, *patch.Title)
	}
	if patch.Stage != nil {
		query += `, stage = ?`
		args = append(args, string(*patch.Stage))
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteClaim(ctx context.Context, id string) error {
	// Messages cascade, but delete them explicitly so the behavior does not
	// depend on the foreign_keys pragma surviving reconnects.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE claim_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("claim %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, claimID string, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	draftJSON, err := marshalNullable(msg.Draft)
	if err != nil {
		return fmt.Errorf("failed to encode draft: %w", err)
	}
	decisionJSON, err := marshalNullable(msg.Decision)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	pendingJSON, err := marshalNullable(msg.PendingDecision)
	if err != nil {
		return fmt.Errorf("failed to encode pending decision meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE claims SET updated_at = ? WHERE id = ?`, time.Now(), claimID)
	if err != nil {
		return fmt.Errorf("failed to touch claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("claim %s: %w", claimID, domain.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, claim_id, role, content, draft, decision, stage_tag, pending_decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, claimID, msg.Role, msg.Content, draftJSON, decisionJSON,
		nullableString(string(msg.StageTag)), pendingJSON, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, claimID string) ([]domain.Message, error) {
	if _, err := s.GetClaim(ctx, claimID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, draft, decision, stage_tag, pending_decision, created_at
		 FROM messages WHERE claim_id = ? ORDER BY created_at ASC, id ASC`, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		var draftJSON, decisionJSON, stageTag, pendingJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &draftJSON, &decisionJSON, &stageTag, &pendingJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if draftJSON.Valid {
			if err := json.Unmarshal([]byte(draftJSON.String), &msg.Draft); err != nil {
				return nil, fmt.Errorf("failed to decode draft: %w", err)
			}
		}
		if decisionJSON.Valid {
			if err := json.Unmarshal([]byte(decisionJSON.String), &msg.Decision); err != nil {
				return nil, fmt.Errorf("failed to decode decision: %w", err)
			}
		}
		if pendingJSON.Valid {
			if err := json.Unmarshal([]byte(pendingJSON.String), &msg.PendingDecision); err != nil {
				return nil, fmt.Errorf("failed to decode pending decision meta: %w", err)
			}
		}
		if stageTag.Valid {
			msg.StageTag = domain.StageTag(stageTag.String)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func marshalNullable(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *domain.Draft:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *domain.DecisionPayload:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *domain.PendingDecisionMeta:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
