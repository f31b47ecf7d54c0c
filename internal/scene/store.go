package scene

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/units"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Attribute names matched against object columns rather than properties.
const (
	AttrCategory = "Category"
	AttrName     = "Name"
)

const metaUnit = "unit"

// maxBatchIDs bounds the ids bound into one IN clause. SQLite rejects
// statements with more than 32766 variables.
const maxBatchIDs = 500

// Store is the sqlite-backed model database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over a migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type objectRow struct {
	ext, name string
	hidden    bool
}

// ObjectBounds pairs a visible-candidate object with its bounds.
type ObjectBounds struct {
	ID     viewer.ObjectID
	Hidden bool
	Box    geometry.Box
}

// Import replaces the stored model with sc.
func (s *Store) Import(ctx context.Context, sc *Scene) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid scene: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM model_properties`,
		`DELETE FROM model_fragments`,
		`DELETE FROM model_objects`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear model: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, metaUnit, sc.Unit); err != nil {
		return fmt.Errorf("store unit: %w", err)
	}

	objStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_objects (db_id, external_id, name, category, hidden)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare object insert: %w", err)
	}
	defer objStmt.Close()
	fragStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_fragments (db_id, min_x, min_y, min_z, max_x, max_y, max_z)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare fragment insert: %w", err)
	}
	defer fragStmt.Close()
	propStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_properties (db_id, ordinal, display_name, display_category, display_value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare property insert: %w", err)
	}
	defer propStmt.Close()

	for _, o := range sc.Objects {
		hidden := 0
		if o.Hidden {
			hidden = 1
		}
		if _, err := objStmt.ExecContext(ctx, o.ID, o.ExternalID, o.Name, o.Category, hidden); err != nil {
			return fmt.Errorf("insert object %d: %w", o.ID, err)
		}
		for _, f := range o.Fragments {
			if _, err := fragStmt.ExecContext(ctx, o.ID, f.Min[0], f.Min[1], f.Min[2], f.Max[0], f.Max[1], f.Max[2]); err != nil {
				return fmt.Errorf("insert fragment of %d: %w", o.ID, err)
			}
		}
		for i, p := range o.Properties {
			if _, err := propStmt.ExecContext(ctx, o.ID, i, p.Name, p.Category, p.Value); err != nil {
				return fmt.Errorf("insert property of %d: %w", o.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	monitoring.Logf("[Scene] imported %d objects (unit %q)", len(sc.Objects), sc.Unit)
	return nil
}

// Unit returns the stored model unit, meters when none was imported.
func (s *Store) Unit(ctx context.Context) (string, error) {
	var unit string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM model_meta WHERE key = ?`, metaUnit).Scan(&unit)
	if errors.Is(err, sql.ErrNoRows) {
		return units.Meters, nil
	}
	if err != nil {
		return "", fmt.Errorf("read unit: %w", err)
	}
	return unit, nil
}

// FindObjectsByCategory returns ids, ascending, whose searched attributes
// equal value. Category and Name match object columns; any other attribute
// matches a property of that display name. With no attributes every one of
// those is tried.
func (s *Store) FindObjectsByCategory(ctx context.Context, value string, opts viewer.SearchOptions) ([]viewer.ObjectID, error) {
	var attrs []string
	for _, a := range opts.Attributes {
		if a != "" {
			attrs = append(attrs, a)
		}
	}
	var clauses []string
	var args []any
	if len(attrs) == 0 {
		clauses = append(clauses, "o.category = ?", "o.name = ?",
			"EXISTS (SELECT 1 FROM model_properties p WHERE p.db_id = o.db_id AND p.display_value = ?)")
		args = append(args, value, value, value)
	}
	for _, a := range attrs {
		switch a {
		case AttrCategory:
			clauses = append(clauses, "o.category = ?")
			args = append(args, value)
		case AttrName:
			clauses = append(clauses, "o.name = ?")
			args = append(args, value)
		default:
			clauses = append(clauses, "EXISTS (SELECT 1 FROM model_properties p WHERE p.db_id = o.db_id AND p.display_name = ? AND p.display_value = ?)")
			args = append(args, a, value)
		}
	}

	query := `SELECT o.db_id FROM model_objects o WHERE (` + strings.Join(clauses, " OR ") + `)`
	if !opts.SearchHidden {
		query += ` AND o.hidden = 0`
	}
	query += ` ORDER BY o.db_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", value, err)
	}
	defer rows.Close()

	var ids []viewer.ObjectID
	for rows.Next() {
		var id viewer.ObjectID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetProperties returns the metadata of one object.
func (s *Store) GetProperties(ctx context.Context, id viewer.ObjectID) (viewer.Properties, error) {
	out := viewer.Properties{DbID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT external_id, name FROM model_objects WHERE db_id = ?
	`, id).Scan(&out.ExternalID, &out.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return viewer.Properties{}, viewer.NotFoundError(fmt.Sprintf("dbId %d", id))
	}
	if err != nil {
		return viewer.Properties{}, fmt.Errorf("get object %d: %w", id, err)
	}

	props, err := s.properties(ctx, []viewer.ObjectID{id})
	if err != nil {
		return viewer.Properties{}, err
	}
	out.Properties = props[id]
	if out.Properties == nil {
		out.Properties = []viewer.Property{}
	}
	return out, nil
}

// GetWorldBoundingBox returns the union of an object's fragment bounds. An
// object without fragments has an empty box.
func (s *Store) GetWorldBoundingBox(ctx context.Context, id viewer.ObjectID) (geometry.Box, error) {
	var n int
	var minX, minY, minZ, maxX, maxY, maxZ sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM model_objects WHERE db_id = ?),
			MIN(min_x), MIN(min_y), MIN(min_z), MAX(max_x), MAX(max_y), MAX(max_z)
		FROM model_fragments
		WHERE db_id = ?
	`, id, id).Scan(&n, &minX, &minY, &minZ, &maxX, &maxY, &maxZ)
	if err != nil {
		return geometry.Box{}, fmt.Errorf("bounds of %d: %w", id, err)
	}
	if n == 0 {
		return geometry.Box{}, viewer.NotFoundError(fmt.Sprintf("dbId %d", id))
	}
	if !minX.Valid {
		return geometry.EmptyBox(), nil
	}
	return geometry.Box{
		Min: r3.Vec{X: minX.Float64, Y: minY.Float64, Z: minZ.Float64},
		Max: r3.Vec{X: maxX.Float64, Y: maxY.Float64, Z: maxZ.Float64},
	}, nil
}

// BulkGetProperties resolves many objects in input order. Unknown ids are
// dropped.
func (s *Store) BulkGetProperties(ctx context.Context, ids []viewer.ObjectID, opts viewer.BulkOptions) ([]viewer.PropertyRecord, error) {
	out := make([]viewer.PropertyRecord, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	unique := uniqueIDs(ids)
	found := make(map[viewer.ObjectID]objectRow, len(unique))
	for _, batch := range chunkIDs(unique, maxBatchIDs) {
		if err := s.lookupObjects(ctx, batch, found); err != nil {
			return nil, err
		}
	}

	props, err := s.properties(ctx, unique)
	if err != nil {
		return nil, err
	}

	seen := make(map[viewer.ObjectID]bool, len(ids))
	for _, id := range ids {
		r, ok := found[id]
		if !ok || seen[id] || (r.hidden && opts.IgnoreHidden) {
			continue
		}
		seen[id] = true
		rec := viewer.PropertyRecord{DbID: id, Name: r.name, Properties: filterProperties(props[id], opts.PropFilter)}
		if opts.NeedsExternalID {
			rec.ExternalID = r.ext
		}
		out = append(out, rec)
	}
	return out, nil
}

// Candidates lists every object with at least one fragment, for visibility
// tests.
func (s *Store) Candidates(ctx context.Context) ([]ObjectBounds, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.db_id, o.hidden,
			MIN(f.min_x), MIN(f.min_y), MIN(f.min_z), MAX(f.max_x), MAX(f.max_y), MAX(f.max_z)
		FROM model_objects o
		JOIN model_fragments f ON f.db_id = o.db_id
		GROUP BY o.db_id
		ORDER BY o.db_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []ObjectBounds
	for rows.Next() {
		var ob ObjectBounds
		if err := rows.Scan(&ob.ID, &ob.Hidden,
			&ob.Box.Min.X, &ob.Box.Min.Y, &ob.Box.Min.Z,
			&ob.Box.Max.X, &ob.Box.Max.Y, &ob.Box.Max.Z); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func (s *Store) lookupObjects(ctx context.Context, ids []viewer.ObjectID, found map[viewer.ObjectID]objectRow) error {
	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT db_id, external_id, name, hidden FROM model_objects WHERE db_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("bulk lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id viewer.ObjectID
		var r objectRow
		if err := rows.Scan(&id, &r.ext, &r.name, &r.hidden); err != nil {
			return fmt.Errorf("scan object: %w", err)
		}
		found[id] = r
	}
	return rows.Err()
}

// properties returns the ordered properties of each id. ids must not repeat.
func (s *Store) properties(ctx context.Context, ids []viewer.ObjectID) (map[viewer.ObjectID][]viewer.Property, error) {
	out := make(map[viewer.ObjectID][]viewer.Property)
	for _, batch := range chunkIDs(ids, maxBatchIDs) {
		if err := s.propertyBatch(ctx, batch, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) propertyBatch(ctx context.Context, ids []viewer.ObjectID, out map[viewer.ObjectID][]viewer.Property) error {
	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT db_id, display_name, display_category, display_value
		FROM model_properties
		WHERE db_id IN (`+placeholders+`)
		ORDER BY db_id, ordinal
	`, args...)
	if err != nil {
		return fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id viewer.ObjectID
		var p viewer.Property
		if err := rows.Scan(&id, &p.DisplayName, &p.DisplayCategory, &p.DisplayValue); err != nil {
			return fmt.Errorf("scan property: %w", err)
		}
		out[id] = append(out[id], p)
	}
	return rows.Err()
}

func filterProperties(props []viewer.Property, filter []string) []viewer.Property {
	out := make([]viewer.Property, 0, len(props))
	for _, p := range props {
		if len(filter) == 0 || containsString(filter, p.DisplayName) {
			out = append(out, p)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []viewer.ObjectID) []viewer.ObjectID {
	seen := make(map[viewer.ObjectID]bool, len(ids))
	out := make([]viewer.ObjectID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// chunkIDs splits ids into consecutive batches of at most size.
func chunkIDs(ids []viewer.ObjectID, size int) [][]viewer.ObjectID {
	var out [][]viewer.ObjectID
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func inClause(ids []viewer.ObjectID) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int(id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
