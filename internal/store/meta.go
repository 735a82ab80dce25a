package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// MetaStore reads and writes the build facts of an index.
type MetaStore struct {
	db *DB
}

// NewMetaStore creates a new meta store.
func NewMetaStore(db *DB) *MetaStore {
	return &MetaStore{db: db}
}

const (
	metaSourcePath    = "source_path"
	metaSourceSize    = "source_size"
	metaSourceModTime = "source_mod_time"
	metaModel         = "model"
	metaDimension     = "dimension"
	metaChunkSize     = "chunk_size"
	metaChunkOverlap  = "chunk_overlap"
	metaChunkCount    = "chunk_count"
	metaBuiltAt       = "built_at"
)

// Get returns the value for key and whether it was present.
func (m *MetaStore) Get(key string) (string, bool, error) {
	var value string
	err := m.db.sqlDB.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value for key.
func (m *MetaStore) Set(key, value string) error {
	if _, err := m.db.sqlDB.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// Save writes all fields of meta in one transaction.
func (m *MetaStore) Save(meta *IndexMeta) error {
	tx, err := m.db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	values := map[string]string{
		metaSourcePath:    meta.SourcePath,
		metaSourceSize:    strconv.FormatInt(meta.SourceSize, 10),
		metaSourceModTime: formatTime(meta.SourceModTime),
		metaModel:         meta.Model,
		metaDimension:     strconv.Itoa(meta.Dimension),
		metaChunkSize:     strconv.Itoa(meta.ChunkSize),
		metaChunkOverlap:  strconv.Itoa(meta.ChunkOverlap),
		metaChunkCount:    strconv.Itoa(meta.ChunkCount),
		metaBuiltAt:       formatTime(meta.BuiltAt),
	}
	for key, value := range values {
		if _, err := tx.Exec(
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value,
		); err != nil {
			return fmt.Errorf("failed to save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit meta: %w", err)
	}
	return nil
}

// Load reads the index meta. It returns nil when nothing was saved.
func (m *MetaStore) Load() (*IndexMeta, error) {
	rows, err := m.db.sqlDB.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("failed to query meta: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meta: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	meta := &IndexMeta{
		SourcePath: values[metaSourcePath],
		Model:      values[metaModel],
	}
	meta.SourceSize, _ = strconv.ParseInt(values[metaSourceSize], 10, 64)
	meta.Dimension, _ = strconv.Atoi(values[metaDimension])
	meta.ChunkSize, _ = strconv.Atoi(values[metaChunkSize])
	meta.ChunkOverlap, _ = strconv.Atoi(values[metaChunkOverlap])
	meta.ChunkCount, _ = strconv.Atoi(values[metaChunkCount])

	if meta.SourceModTime, err = parseTimeString(values[metaSourceModTime]); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metaSourceModTime, err)
	}
	if meta.BuiltAt, err = parseTimeString(values[metaBuiltAt]); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", metaBuiltAt, err)
	}
	return meta, nil
}
