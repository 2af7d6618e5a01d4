// Package registry provides the SQLite-backed persistence for disaster and
// resource records. Records are stored as JSON blobs with the columns the
// queries filter on broken out alongside.
package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/reliefops/aidchain/core/model"
	coreregistry "github.com/reliefops/aidchain/core/registry"
)

// SQLiteStore implements coreregistry.Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS disasters (
        id TEXT PRIMARY KEY,
        record TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS resources (
        id TEXT PRIMARY KEY,
        type TEXT NOT NULL,
        status TEXT NOT NULL,
        assigned_disaster TEXT NOT NULL DEFAULT '',
        record TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_resources_type_status ON resources (type, status);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutDisaster(d model.Disaster) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO disasters (id, record) VALUES (?, ?)
         ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		d.ID, string(b))
	return err
}

func (s *SQLiteStore) GetDisaster(id string) (model.Disaster, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM disasters WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Disaster{}, coreregistry.ErrNotFound
	}
	if err != nil {
		return model.Disaster{}, err
	}
	var d model.Disaster
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return model.Disaster{}, fmt.Errorf("unmarshal disaster %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteStore) PutResource(r model.Resource) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO resources (id, type, status, assigned_disaster, record) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             type = excluded.type,
             status = excluded.status,
             assigned_disaster = excluded.assigned_disaster,
             record = excluded.record`,
		r.ID, string(r.Type), string(r.Status), r.AssignedDisaster, string(b))
	return err
}

func (s *SQLiteStore) GetResource(id string) (model.Resource, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM resources WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resource{}, coreregistry.ErrNotFound
	}
	if err != nil {
		return model.Resource{}, err
	}
	return unmarshalResource(id, data)
}

func (s *SQLiteStore) ListResources() ([]model.Resource, error) {
	return s.queryResources(`SELECT id, record FROM resources ORDER BY id`)
}

func (s *SQLiteStore) FindAllocatable(disasterID string, rt model.ResourceType) ([]model.Resource, error) {
	return s.queryResources(
		`SELECT id, record FROM resources
         WHERE type = ? AND (status = ? OR assigned_disaster = ?)
         ORDER BY id`,
		string(rt), string(model.StatusAvailable), disasterID)
}

func (s *SQLiteStore) queryResources(query string, args ...any) ([]model.Resource, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Resource
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		r, err := unmarshalResource(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalResource(id, data string) (model.Resource, error) {
	var r model.Resource
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Resource{}, fmt.Errorf("unmarshal resource %s: %w", id, err)
	}
	return r, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
