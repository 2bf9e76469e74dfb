package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// Identifier-map cache tuning. Entries are small (two strings); the TTL
// only bounds staleness after an external restore of the database file.
const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// SQLiteStore implements Store on SQLite. The connection is expected to be
// the single-writer connection opened by infrastructure/database, which
// provides the per-resource-ID mutation serialization the dispatch core
// relies on.
type SQLiteStore struct {
	db *sql.DB

	// pathCache maps srn -> ri; riCache maps ri -> srn.
	pathCache *gocache.Cache
	riCache   *gocache.Cache
}

// NewSQLiteStore creates a store over an open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:        db,
		pathCache: gocache.New(cacheTTL, cacheCleanup),
		riCache:   gocache.New(cacheTTL, cacheCleanup),
	}
}

// Get loads a resource by resource-ID.
func (s *SQLiteStore) Get(ctx context.Context, ri string) (*resource.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.doc, m.srn FROM resources r JOIN identifier_map m ON m.ri = r.ri WHERE r.ri = ?`, ri)
	return scanResource(row, ri)
}

// GetByPath loads a resource via the identifier mapping.
func (s *SQLiteStore) GetByPath(ctx context.Context, srn string) (*resource.Resource, error) {
	if cached, ok := s.pathCache.Get(srn); ok {
		res, err := s.Get(ctx, cached.(string))
		if err == nil {
			return res, nil
		}
		// Stale entry; fall through to the indexed lookup.
		s.pathCache.Delete(srn)
	}

	var ri string
	err := s.db.QueryRowContext(ctx, `SELECT ri FROM identifier_map WHERE srn = ?`, srn).Scan(&ri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("structured path %q: %w", srn, onem2m.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving structured path: %w", err)
	}

	s.pathCache.Set(srn, ri, gocache.DefaultExpiration)
	s.riCache.Set(ri, srn, gocache.DefaultExpiration)
	return s.Get(ctx, ri)
}

// Create persists the resource, its identifier mapping, and its child-index
// entry in one transaction.
func (s *SQLiteStore) Create(ctx context.Context, res *resource.Resource) error {
	doc, err := json.Marshal(res.Attributes)
	if err != nil {
		return fmt.Errorf("encoding resource document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO resources (ri, pi, ty, rn, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.RI(), res.ParentID(), int(res.Type()), res.Name(), string(doc), now, now)
	if err != nil {
		return mapConstraintError(err, res.RI())
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identifier_map (ri, srn) VALUES (?, ?)`, res.RI(), res.SRN)
	if err != nil {
		return mapConstraintError(err, res.SRN)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO child_index (pi, ri, ty) VALUES (?, ?, ?)`,
		res.ParentID(), res.RI(), int(res.Type()))
	if err != nil {
		return mapConstraintError(err, res.RI())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing create: %w", err)
	}

	s.pathCache.Set(res.SRN, res.RI(), gocache.DefaultExpiration)
	s.riCache.Set(res.RI(), res.SRN, gocache.DefaultExpiration)
	return nil
}

// Update replaces the stored document.
func (s *SQLiteStore) Update(ctx context.Context, res *resource.Resource) error {
	doc, err := json.Marshal(res.Attributes)
	if err != nil {
		return fmt.Errorf("encoding resource document: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE resources SET doc = ?, updated_at = ? WHERE ri = ?`,
		string(doc), time.Now().UTC(), res.RI())
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("resource %q: %w", res.RI(), onem2m.ErrNotFound)
	}
	return nil
}

// Delete removes the resource and both index rows in one transaction.
func (s *SQLiteStore) Delete(ctx context.Context, ri string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var srn string
	err = tx.QueryRowContext(ctx, `SELECT srn FROM identifier_map WHERE ri = ?`, ri).Scan(&srn)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("looking up identifier mapping: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM resources WHERE ri = ?`,
		`DELETE FROM identifier_map WHERE ri = ?`,
		`DELETE FROM child_index WHERE ri = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ri); err != nil {
			return fmt.Errorf("deleting resource: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.pathCache.Delete(srn)
	s.riCache.Delete(ri)
	return nil
}

// ChildrenOf lists direct children in creation order via the child index.
func (s *SQLiteStore) ChildrenOf(ctx context.Context, pi string, types ...onem2m.ResourceType) ([]ChildRef, error) {
	query := `SELECT ri, ty FROM child_index WHERE pi = ?`
	args := []any{pi}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, ty := range types {
			placeholders[i] = "?"
			args = append(args, int(ty))
		}
		query += ` AND ty IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var refs []ChildRef
	for rows.Next() {
		var ref ChildRef
		var ty int
		if err := rows.Scan(&ref.RI, &ty); err != nil {
			return nil, fmt.Errorf("scanning child reference: %w", err)
		}
		ref.Type = onem2m.ResourceType(ty)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// attrNamePattern restricts searchable attribute names to plain short
// names, keeping the json_extract path safe to interpolate.
var attrNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// Search finds resources whose document attribute equals value.
func (s *SQLiteStore) Search(ctx context.Context, attr, value string) ([]*resource.Resource, error) {
	if !attrNamePattern.MatchString(attr) {
		return nil, fmt.Errorf("unsearchable attribute name %q: %w", attr, onem2m.ErrBadRequest)
	}
	query := fmt.Sprintf(
		`SELECT r.doc, m.srn FROM resources r JOIN identifier_map m ON m.ri = r.ri
		 WHERE json_extract(r.doc, '$.%s') = ?`, attr)

	rows, err := s.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("searching resources: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []*resource.Resource
	for rows.Next() {
		var doc, srn string
		if err := rows.Scan(&doc, &srn); err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		res, err := decodeResource(doc, srn)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// scanResource decodes a single-row lookup result.
func scanResource(row *sql.Row, ri string) (*resource.Resource, error) {
	var doc, srn string
	err := row.Scan(&doc, &srn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %q: %w", ri, onem2m.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading resource: %w", err)
	}
	return decodeResource(doc, srn)
}

// decodeResource unmarshals a stored document.
func decodeResource(doc, srn string) (*resource.Resource, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(doc), &attrs); err != nil {
		return nil, fmt.Errorf("decoding resource document: %w", err)
	}
	return &resource.Resource{Attributes: attrs, SRN: srn}, nil
}

// mapConstraintError turns SQLite unique-constraint violations into the
// conflict sentinel; anything else passes through wrapped.
func mapConstraintError(err error, key string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("duplicate %q: %w", key, onem2m.ErrConflict)
	}
	return fmt.Errorf("persisting resource: %w", err)
}
