// Package metastore implements the persistent catalog mapping logical tables
// to sets of immutable data files, together with the access tracker and the
// reference-counted deferred-deletion protocol that lets DROP TABLE run
// concurrently with in-flight queries.
//
// # Locking
//
// Catalog state sits behind an exclusive-writer/shared-reader lock; the
// access tracker behind its own mutex. When both are needed the catalog lock
// is taken first; the tracker lock is never held while acquiring the catalog
// lock. Neither lock is held across file I/O except the directory and unlink
// operations that are part of create/delete themselves.
//
// # Deferred deletion
//
// DeleteTable immediately removes the table from the logical view. Physical
// files are unlinked right away only when no query holds access; otherwise
// the file list moves to pending_deletions and the last releasing query (or
// the next startup, when no queries exist) reclaims it. The invariant: every
// file referenced by a running query remains readable until that query
// releases access.
package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arloliu/mimdb/errs"
)

const metastoreFilename = "metastore.json"

// Metastore is the thread-safe persistent catalog.
type Metastore struct {
	mu    sync.RWMutex
	state metastoreState

	trackerMu sync.Mutex
	tracker   accessTracker

	storagePath   string
	dataDirectory string
	logger        *zap.Logger
}

// Open creates or loads a metastore rooted at storageDirectory.
//
// Loading runs cleanup of pending deletions from previous runs: no queries
// exist at startup, so every tombstone left by a crash is reclaimed. A
// metastore.json that exists but cannot be parsed is a fatal error.
//
// Parameters:
//   - storageDirectory: Root directory; created if missing
//   - logger: Structured logger (nil for no logging)
//
// Returns:
//   - *Metastore: Ready catalog
//   - error: Directory creation failure or errs.ErrCorruptMetastore
func Open(storageDirectory string, logger *zap.Logger) (*Metastore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDirectory := filepath.Join(storageDirectory, "tables")
	if err := os.MkdirAll(dataDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	state := newMetastoreState()

	metastoreFile := filepath.Join(storageDirectory, metastoreFilename)
	content, err := os.ReadFile(metastoreFile)
	switch {
	case err == nil:
		if err := json.Unmarshal(content, &state); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrCorruptMetastore, metastoreFile, err)
		}
		if state.Tables == nil {
			state.Tables = make(map[string]TableMetadata)
		}
		if state.NameToID == nil {
			state.NameToID = make(map[string]string)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fresh directory; start empty.
	default:
		return nil, fmt.Errorf("read metastore file: %w", err)
	}

	m := &Metastore{
		state:         state,
		tracker:       newAccessTracker(),
		storagePath:   storageDirectory,
		dataDirectory: dataDirectory,
		logger:        logger,
	}

	// Reclaim tombstones from previous runs before serving anything.
	if err := m.CleanupPendingDeletions(); err != nil {
		return nil, err
	}

	return m, nil
}

// persist serializes the current state to metastore.json, atomically via a
// temp file and rename. Callers must not hold the state lock.
func (m *Metastore) persist() error {
	m.mu.RLock()
	content, err := json.MarshalIndent(&m.state, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("serialize metastore: %w", err)
	}

	metastoreFile := filepath.Join(m.storagePath, metastoreFilename)
	tmp := metastoreFile + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write metastore file: %w", err)
	}
	if err := os.Rename(tmp, metastoreFile); err != nil {
		return fmt.Errorf("replace metastore file: %w", err)
	}

	return nil
}

// persistLogged persists and logs a failure instead of propagating it: the
// in-memory state stays authoritative for the process lifetime and the next
// successful persist or startup recovery restores durability.
func (m *Metastore) persistLogged() {
	if err := m.persist(); err != nil {
		m.logger.Error("metastore persist failed", zap.Error(err))
	}
}

// ListTables returns (id, name) pairs for currently-visible tables. Tables
// pending deletion are not listed.
func (m *Metastore) ListTables() []TableRef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]TableRef, 0, len(m.state.Tables))
	for _, t := range m.state.Tables {
		refs = append(refs, TableRef{TableID: t.TableID, Name: t.Name})
	}

	return refs
}

// TableRef is the shallow (id, name) listing entry.
type TableRef struct {
	TableID string
	Name    string
}

// GetTable returns a snapshot of a table by ID.
func (m *Metastore) GetTable(tableID string) (TableMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.state.Tables[tableID]
	if !ok {
		return TableMetadata{}, false
	}

	return t.clone(), true
}

// GetTableByName returns a snapshot of a table by name.
func (m *Metastore) GetTableByName(name string) (TableMetadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.state.NameToID[name]
	if !ok {
		return TableMetadata{}, false
	}

	t, ok := m.state.Tables[id]
	if !ok {
		return TableMetadata{}, false
	}

	return t.clone(), true
}

// TableExists reports whether a visible table with the given name exists.
func (m *Metastore) TableExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.state.NameToID[name]

	return ok
}

// CreateTable registers a new table: assigns a UUID, creates the table
// directory, inserts the catalog entry, and persists.
//
// Parameters:
//   - name: Table name, unique among visible tables
//   - columns: Schema columns in order
//
// Returns:
//   - TableMetadata: The created entry
//   - error: errs.ErrTableExists on a name conflict, errs.ErrDuplicateColumn
//     on a duplicated column name
func (m *Metastore) CreateTable(name string, columns []ColumnMetadata) (TableMetadata, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if _, dup := seen[col.Name]; dup {
			return TableMetadata{}, fmt.Errorf("%w: %q", errs.ErrDuplicateColumn, col.Name)
		}
		seen[col.Name] = struct{}{}
	}

	tbl := TableMetadata{
		TableID:   uuid.NewString(),
		Name:      name,
		Columns:   append([]ColumnMetadata(nil), columns...),
		CreatedAt: nowUTC(),
	}

	m.mu.Lock()
	if _, exists := m.state.NameToID[name]; exists {
		m.mu.Unlock()
		return TableMetadata{}, fmt.Errorf("%w: %q", errs.ErrTableExists, name)
	}

	tableDir := filepath.Join(m.dataDirectory, tbl.TableID)
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		m.mu.Unlock()
		return TableMetadata{}, fmt.Errorf("create table directory: %w", err)
	}

	m.state.Tables[tbl.TableID] = tbl
	m.state.NameToID[name] = tbl.TableID
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return TableMetadata{}, err
	}

	m.logger.Info("table created", zap.String("table_id", tbl.TableID), zap.String("name", name))

	return tbl.clone(), nil
}

// DeleteTable removes a table from the logical view. Files are unlinked
// immediately when no query holds access; otherwise they move to
// pending_deletions and are reclaimed by the last releasing query.
//
// Returns errs.ErrTableNotFound for an unknown id.
func (m *Metastore) DeleteTable(tableID string) (TableMetadata, error) {
	m.mu.Lock()

	tbl, ok := m.state.Tables[tableID]
	if !ok {
		m.mu.Unlock()
		return TableMetadata{}, fmt.Errorf("%w: %s", errs.ErrTableNotFound, tableID)
	}

	delete(m.state.Tables, tableID)
	delete(m.state.NameToID, tbl.Name)

	tableDir := filepath.Join(m.dataDirectory, tableID)

	// Visibility is already gone; the tracker decides immediate versus
	// deferred reclaim.
	m.trackerMu.Lock()
	hasActiveQueries := m.tracker.hasActiveAccesses(tableID)
	m.trackerMu.Unlock()

	if hasActiveQueries {
		m.state.PendingDeletions = append(m.state.PendingDeletions, PendingDeletion{
			TableID:   tableID,
			DataFiles: append([]string(nil), tbl.DataFiles...),
			TableDir:  tableDir,
		})
	}
	m.mu.Unlock()

	if hasActiveQueries {
		m.logger.Info("table deletion deferred",
			zap.String("table_id", tableID), zap.Int("data_files", len(tbl.DataFiles)))
	} else {
		// Unlink outside the lock; the table is already invisible, so no new
		// access can be acquired against it.
		removeTableFiles(tbl.DataFiles, tableDir)
		m.logger.Info("table deleted", zap.String("table_id", tableID))
	}

	m.persistLogged()

	return tbl.clone(), nil
}

// AddDataFile appends a data file path to a table and persists. The caller
// must have fully written the file to disk first: this call is what makes it
// visible to subsequent queries.
//
// Returns errs.ErrTableNotFound for an unknown id.
func (m *Metastore) AddDataFile(tableID, filePath string) error {
	m.mu.Lock()

	tbl, ok := m.state.Tables[tableID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", errs.ErrTableNotFound, tableID)
	}

	tbl.DataFiles = append(tbl.DataFiles, filePath)
	m.state.Tables[tableID] = tbl
	m.mu.Unlock()

	return m.persist()
}

// GenerateDataFilePath returns a fresh path for a new data file of the given
// table. Pure: no disk effect, a new UUID on every call.
func (m *Metastore) GenerateDataFilePath(tableID string) string {
	return filepath.Join(m.dataDirectory, tableID, uuid.NewString()+".mimdb")
}

// AcquireTableAccess registers a query as a reader of a table. It must be
// called before planning begins, so a DROP racing with a submission is
// resolved by whichever wins the catalog lock: if the DROP wins, the table
// is no longer visible and acquisition fails; if the acquire wins, the DROP
// observes the access and defers file reclaim.
//
// Returns errs.ErrTableNotFound if the table is not visible.
func (m *Metastore) AcquireTableAccess(tableID, queryID string) error {
	// The existence check and the tracker insertion are one atomic step with
	// respect to DeleteTable: the catalog lock is held across both. Dropping
	// it in between would let a concurrent drop observe zero accesses and
	// unlink files this acquire is about to rely on. Catalog lock before
	// tracker lock, the same order as DeleteTable.
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.state.Tables[tableID]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrTableNotFound, tableID)
	}

	m.trackerMu.Lock()
	m.tracker.acquire(tableID, queryID)
	m.trackerMu.Unlock()

	return nil
}

// ReleaseTableAccess removes a query's access to a table. When the last
// access goes away, any pending deletion for the table is reclaimed. Must be
// called exactly once on every query exit path.
func (m *Metastore) ReleaseTableAccess(tableID, queryID string) {
	m.trackerMu.Lock()
	m.tracker.release(tableID, queryID)
	hasActive := m.tracker.hasActiveAccesses(tableID)
	m.trackerMu.Unlock()

	if !hasActive {
		m.tryCleanupTable(tableID)
	}
}

// tryCleanupTable reclaims the pending deletion for tableID, if one exists.
func (m *Metastore) tryCleanupTable(tableID string) {
	m.mu.Lock()

	idx := -1
	for i, p := range m.state.PendingDeletions {
		if p.TableID == tableID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}

	pending := m.state.PendingDeletions[idx]
	m.state.PendingDeletions = append(
		m.state.PendingDeletions[:idx], m.state.PendingDeletions[idx+1:]...)
	m.mu.Unlock()

	removeTableFiles(pending.DataFiles, pending.TableDir)
	m.logger.Info("pending deletion reclaimed", zap.String("table_id", tableID))
	m.persistLogged()
}

// CleanupPendingDeletions reclaims every pending deletion whose table has no
// active readers. Called on startup, and safe to call at any time.
func (m *Metastore) CleanupPendingDeletions() error {
	// Catalog lock before tracker lock, same order as DeleteTable.
	m.mu.Lock()
	m.trackerMu.Lock()

	var remaining, reclaimed []PendingDeletion
	for _, pending := range m.state.PendingDeletions {
		if m.tracker.hasActiveAccesses(pending.TableID) {
			remaining = append(remaining, pending)
		} else {
			reclaimed = append(reclaimed, pending)
		}
	}
	m.trackerMu.Unlock()

	m.state.PendingDeletions = remaining
	m.mu.Unlock()

	for _, pending := range reclaimed {
		removeTableFiles(pending.DataFiles, pending.TableDir)
		m.logger.Info("pending deletion reclaimed", zap.String("table_id", pending.TableID))
	}

	return m.persist()
}

// IsPendingDeletion reports whether a table has a pending deletion entry.
func (m *Metastore) IsPendingDeletion(tableID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.state.PendingDeletions {
		if p.TableID == tableID {
			return true
		}
	}

	return false
}

// ActiveAccessCount returns the number of queries currently reading a table.
func (m *Metastore) ActiveAccessCount(tableID string) int {
	m.trackerMu.Lock()
	defer m.trackerMu.Unlock()

	return m.tracker.accessCount(tableID)
}

// removeTableFiles unlinks a table's data files and directory. Unlink
// failures are ignored: a leftover file is garbage, not an inconsistency.
// Callers drop the table's catalog or pending entry first, so no later
// cleanup retries a failed unlink.
func removeTableFiles(dataFiles []string, tableDir string) {
	for _, file := range dataFiles {
		_ = os.Remove(file)
	}
	_ = os.RemoveAll(tableDir)
}
