package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/shape"
)

var (
	// ErrRelationNotFound is returned when a relation name is not in the
	// catalog.
	ErrRelationNotFound = errors.New("relation does not exist")

	// ErrRelationExists is returned by CreateRelation for a taken name.
	ErrRelationExists = errors.New("relation already exists")

	// ErrInvalidName is returned for empty relation names.
	ErrInvalidName = errors.New("invalid relation name")
)

// Relation is a catalog entry.
type Relation struct {
	ID             int64
	Name           string
	Shape          shape.Descriptor
	TuplesPerBlock int
}

// normalizeName trims and NFC-normalizes a relation name so that
// differently composed spellings of the same name resolve to one relation.
func normalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if n == "" {
		return "", ErrInvalidName
	}
	return n, nil
}

// CreateRelation adds a relation with the given row type.
func (s *Store) CreateRelation(ctx context.Context, name string, cols []shape.Column) (Relation, error) {
	n, err := normalizeName(name)
	if err != nil {
		return Relation{}, fmt.Errorf("create relation: %w", err)
	}
	colsJSON, err := marshalColumns(cols)
	if err != nil {
		return Relation{}, fmt.Errorf("create relation %q: %w", n, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (name, columns, tuples_per_block)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, n, colsJSON, s.tuplesPerBlock)
	if err != nil {
		return Relation{}, fmt.Errorf("create relation %q: %w", n, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Relation{}, fmt.Errorf("create relation %q: %w", n, err)
	}
	if affected == 0 {
		return Relation{}, fmt.Errorf("create relation %q: %w", n, ErrRelationExists)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Relation{}, fmt.Errorf("create relation %q: %w", n, err)
	}

	s.logger.Debug("relation created", "relation", n, "columns", len(cols))
	return Relation{
		ID:             id,
		Name:           n,
		Shape:          shape.Descriptor{Name: n, Columns: cols},
		TuplesPerBlock: s.tuplesPerBlock,
	}, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LookupRelation returns the catalog entry for name.
func (s *Store) LookupRelation(ctx context.Context, name string) (Relation, error) {
	n, err := normalizeName(name)
	if err != nil {
		return Relation{}, err
	}
	return lookupRelation(ctx, s.db, n)
}

func lookupRelation(ctx context.Context, q queryer, name string) (Relation, error) {
	var (
		rel      Relation
		colsJSON string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, columns, tuples_per_block
		FROM relations
		WHERE name = ?
	`, name).Scan(&rel.ID, &rel.Name, &colsJSON, &rel.TuplesPerBlock)
	if errors.Is(err, sql.ErrNoRows) {
		return Relation{}, fmt.Errorf("%w: %q", ErrRelationNotFound, name)
	}
	if err != nil {
		return Relation{}, fmt.Errorf("lookup relation %q: %w", name, err)
	}

	cols, err := unmarshalColumns(colsJSON)
	if err != nil {
		return Relation{}, fmt.Errorf("lookup relation %q: %w", name, err)
	}
	rel.Shape = shape.Descriptor{Name: rel.Name, Columns: cols}
	return rel, nil
}

// ListRelations returns every relation ordered by name.
func (s *Store) ListRelations(ctx context.Context) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, columns, tuples_per_block
		FROM relations
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var (
			rel      Relation
			colsJSON string
		)
		if err := rows.Scan(&rel.ID, &rel.Name, &colsJSON, &rel.TuplesPerBlock); err != nil {
			return nil, fmt.Errorf("list relations: scan: %w", err)
		}
		cols, err := unmarshalColumns(colsJSON)
		if err != nil {
			return nil, fmt.Errorf("list relations: %w", err)
		}
		rel.Shape = shape.Descriptor{Name: rel.Name, Columns: cols}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relations: iterate: %w", err)
	}
	return out, nil
}

// DropRelation removes a relation and all of its tuples. It takes the
// relation's exclusive lock and so waits for every open scan to close.
func (s *Store) DropRelation(ctx context.Context, name string) error {
	n, err := normalizeName(name)
	if err != nil {
		return fmt.Errorf("drop relation: %w", err)
	}

	h, err := s.locks.Acquire(ctx, n, locks.Exclusive)
	if err != nil {
		return fmt.Errorf("drop relation %q: %w", n, err)
	}
	defer h.Release()

	res, err := s.db.ExecContext(ctx, `DELETE FROM relations WHERE name = ?`, n)
	if err != nil {
		return fmt.Errorf("drop relation %q: %w", n, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drop relation %q: %w", n, err)
	}
	if affected == 0 {
		return fmt.Errorf("drop relation: %w: %q", ErrRelationNotFound, n)
	}

	s.logger.Debug("relation dropped", "relation", n)
	return nil
}
