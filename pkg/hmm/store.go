package hmm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the model registry table in the provided
// database. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {
	const schemaModels = `
CREATE TABLE IF NOT EXISTS hmm_models (
    model_id    INTEGER PRIMARY KEY,
    model_name  TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    params      TEXT NOT NULL
);
`
	if _, err := db.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create model schema: %w", err)
	}
	return nil
}

// ModelInfo holds the registry metadata for a stored model.
type ModelInfo struct {
	Id          int
	Name        string
	Description string
}

// StoreStats holds aggregate statistics for the model registry.
type StoreStats struct {
	ModelCount int // The number of named models in the registry.
}

// ExportedModel is the serializable representation of a stored model,
// used for JSON-based import and export.
type ExportedModel struct {
	Name        string                         `json:"name"`
	Description string                         `json:"description"`
	Transitions [NumStates][NumStates]float64  `json:"transitions"`
	Initial     [NumStates]float64             `json:"initial"`
	Emissions   [NumStates][NumSymbols]float64 `json:"emissions"`
}

// storedParams is the JSON shape persisted in the params column.
type storedParams struct {
	A  [NumStates][NumStates]float64  `json:"a"`
	Pi [NumStates]float64             `json:"pi"`
	B  [NumStates][NumSymbols]float64 `json:"b"`
}

// Store is a registry of named models persisted in a SQLite database.
// It holds the database connection and prepared SQL statements for
// efficient access.
type Store struct {
	db              *sql.DB
	stmtGetInfo     *sql.Stmt
	stmtGetInfos    *sql.Stmt
	stmtGetParams   *sql.Stmt
	stmtInsert      *sql.Stmt
	stmtUpsert      *sql.Stmt
	stmtDelete      *sql.Stmt
	stmtCountModels *sql.Stmt
	logger          *slog.Logger
}

// NewStore creates a Store over the given database connection,
// pre-compiling all statements it needs. The schema must already exist;
// see SetupSchema.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetInfo, err := db.Prepare(`SELECT model_id, description FROM hmm_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetInfos, err := db.Prepare(`SELECT model_id, model_name, description FROM hmm_models;`)
	if err != nil {
		return nil, err
	}

	stmtGetParams, err := db.Prepare(`SELECT params FROM hmm_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtInsert, err := db.Prepare(`INSERT INTO hmm_models (model_name, description, params) VALUES (?, ?, ?);`)
	if err != nil {
		return nil, err
	}

	stmtUpsert, err := db.Prepare(`INSERT INTO hmm_models (model_name, description, params) VALUES (?, ?, ?)
ON CONFLICT(model_name) DO UPDATE SET description = excluded.description, params = excluded.params;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM hmm_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtCountModels, err := db.Prepare(`SELECT COUNT(*) FROM hmm_models;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:              db,
		stmtGetInfo:     stmtGetInfo,
		stmtGetInfos:    stmtGetInfos,
		stmtGetParams:   stmtGetParams,
		stmtInsert:      stmtInsert,
		stmtUpsert:      stmtUpsert,
		stmtDelete:      stmtDelete,
		stmtCountModels: stmtCountModels,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. It
// should be called when the Store is no longer needed.
func (s *Store) Close() {
	_ = s.stmtGetInfo.Close()
	_ = s.stmtGetInfos.Close()
	_ = s.stmtGetParams.Close()
	_ = s.stmtInsert.Close()
	_ = s.stmtUpsert.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtCountModels.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are
// discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SaveModel validates and persists a model under the given name. Saving
// under an existing name is an error; use ImportModel to replace.
func (s *Store) SaveModel(ctx context.Context, name, description string, m Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	params, err := json.Marshal(storedParams{A: m.A, Pi: m.Pi, B: m.B})
	if err != nil {
		return fmt.Errorf("could not encode model parameters: %w", err)
	}
	if _, err = s.stmtInsert.ExecContext(ctx, name, description, string(params)); err != nil {
		return fmt.Errorf("could not save model '%s': %w", name, err)
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", name),
	)
	return nil
}

// GetModel loads a stored model by name. The stored parameters are
// passed back through NewModel, so a row edited outside this API cannot
// hand an invalid model to the engine. A missing name returns
// sql.ErrNoRows.
func (s *Store) GetModel(ctx context.Context, name string) (Model, error) {
	var raw string
	if err := s.stmtGetParams.QueryRowContext(ctx, name).Scan(&raw); err != nil {
		return Model{}, err
	}
	var p storedParams
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Model{}, fmt.Errorf("could not decode stored parameters for '%s': %w", name, err)
	}
	m, err := NewModel(p.A, p.Pi, p.B)
	if err != nil {
		return Model{}, fmt.Errorf("stored model '%s' is invalid: %w", name, err)
	}
	return m, nil
}

// GetModelInfo retrieves the registry metadata for a single model by
// name. A missing name returns sql.ErrNoRows.
func (s *Store) GetModelInfo(ctx context.Context, name string) (ModelInfo, error) {
	info := ModelInfo{Name: name}
	if err := s.stmtGetInfo.QueryRowContext(ctx, name).Scan(&info.Id, &info.Description); err != nil {
		return ModelInfo{}, err
	}
	return info, nil
}

// GetModelInfos retrieves metadata for all stored models, keyed by name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetInfos.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	infos := make(map[string]ModelInfo)
	for rows.Next() {
		var info ModelInfo
		if err = rows.Scan(&info.Id, &info.Name, &info.Description); err != nil {
			return nil, err
		}
		infos[info.Name] = info
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// DeleteModel removes a stored model by name. Deleting a name that does
// not exist returns sql.ErrNoRows.
func (s *Store) DeleteModel(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("could not delete model '%s': %w", name, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}

	s.logger.InfoContext(ctx, "Model deleted",
		slog.String("model_name", name),
	)
	return nil
}

// Stats returns a snapshot of registry-wide statistics.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	var stats StoreStats
	if err := s.stmtCountModels.QueryRowContext(ctx).Scan(&stats.ModelCount); err != nil {
		return StoreStats{}, err
	}
	return stats, nil
}

// ExportModel serializes a stored model into JSON and writes it to the
// provided io.Writer. This is useful for backups or for copying models
// between registries.
func (s *Store) ExportModel(ctx context.Context, name string, w io.Writer) error {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("could not load model '%s' for export: %w", name, err)
	}
	m, err := s.GetModel(ctx, name)
	if err != nil {
		return fmt.Errorf("could not load model '%s' for export: %w", name, err)
	}

	exported := ExportedModel{
		Name:        info.Name,
		Description: info.Description,
		Transitions: m.A,
		Initial:     m.Pi,
		Emissions:   m.B,
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", name),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportModel reads a JSON model representation from an io.Reader,
// validates it, and writes it into the registry. If the name already
// exists, its parameters and description are replaced.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) error {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Name == "" {
		return fmt.Errorf("imported model is missing a name")
	}

	m, err := NewModel(imported.Transitions, imported.Initial, imported.Emissions)
	if err != nil {
		return fmt.Errorf("imported model '%s' is invalid: %w", imported.Name, err)
	}

	params, err := json.Marshal(storedParams{A: m.A, Pi: m.Pi, B: m.B})
	if err != nil {
		return fmt.Errorf("could not encode model parameters: %w", err)
	}
	if _, err = s.stmtUpsert.ExecContext(ctx, imported.Name, imported.Description, string(params)); err != nil {
		return fmt.Errorf("could not import model '%s': %w", imported.Name, err)
	}

	s.logger.InfoContext(ctx, "Model imported",
		slog.String("model_name", imported.Name),
	)
	return nil
}
