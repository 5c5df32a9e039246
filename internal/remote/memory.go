package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"submission-sync/internal/common/errors"
)

// MemoryTable is an in-process Table, used for local runs and tests.
type MemoryTable struct {
	mu          sync.Mutex
	rows        map[string][]Row
	appendErrs  []error
	existingErr error
	updateErr   error
	appendCalls int
	updateCalls int
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: map[string][]Row{}}
}

func (t *MemoryTable) AppendRow(ctx context.Context, table string, row Row) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendCalls++
	if len(t.appendErrs) > 0 {
		err := t.appendErrs[0]
		t.appendErrs = t.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	t.rows[table] = append(t.rows[table], Row{
		Columns: append([]string(nil), row.Columns...),
		Values:  append([]string(nil), row.Values...),
	})
	return nil
}

func (t *MemoryTable) ExistingIDs(ctx context.Context, table, idColumn string) (map[string]struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.existingErr != nil {
		return nil, t.existingErr
	}
	ids := map[string]struct{}{}
	for _, row := range t.rows[table] {
		if id, ok := row.Get(idColumn); ok && id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (t *MemoryTable) UpdateCells(ctx context.Context, table, idColumn, id string, cells map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateCalls++
	if t.updateErr != nil {
		return t.updateErr
	}
	for i, row := range t.rows[table] {
		if v, ok := row.Get(idColumn); !ok || v != id {
			continue
		}
		for col, val := range cells {
			found := false
			for j, c := range row.Columns {
				if c == col {
					t.rows[table][i].Values[j] = val
					found = true
				}
			}
			if !found {
				return fmt.Errorf("%w: column %s", errors.ErrSchemaMismatch, col)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: row %s", errors.ErrNotFound, id)
}

// FailAppends queues errors returned by the next AppendRow calls, in order.
// A nil entry lets that call succeed.
func (t *MemoryTable) FailAppends(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendErrs = append(t.appendErrs, errs...)
}

func (t *MemoryTable) FailExistingIDs(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.existingErr = err
}

func (t *MemoryTable) FailUpdates(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateErr = err
}

// Rows returns a copy of the rows of table.
func (t *MemoryTable) Rows(table string) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, len(t.rows[table]))
	for i, r := range t.rows[table] {
		out[i] = Row{
			Columns: append([]string(nil), r.Columns...),
			Values:  append([]string(nil), r.Values...),
		}
	}
	return out
}

// CountID returns how many rows of table carry id in idColumn.
func (t *MemoryTable) CountID(table, idColumn, id string) int {
	n := 0
	for _, r := range t.Rows(table) {
		if v, ok := r.Get(idColumn); ok && v == id {
			n++
		}
	}
	return n
}

func (t *MemoryTable) AppendCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendCalls
}

func (t *MemoryTable) UpdateCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateCalls
}

// MemoryFileStore is an in-process FileStore.
type MemoryFileStore struct {
	mu         sync.Mutex
	files      map[string]memoryFile
	uploadErrs map[string]error
	deleteErrs map[string]error
	now        func() time.Time
}

type memoryFile struct {
	handle  FileHandle
	content []byte
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{
		files:      map[string]memoryFile{},
		uploadErrs: map[string]error{},
		deleteErrs: map[string]error{},
		now:        time.Now,
	}
}

func (s *MemoryFileStore) Upload(ctx context.Context, folder, name string, content io.Reader, size int64) (FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return FileHandle{}, fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	s.mu.Lock()
	failErr := s.uploadErrs[name]
	s.mu.Unlock()
	if failErr != nil {
		return FileHandle{}, failErr
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return FileHandle{}, fmt.Errorf("%w: read content: %v", errors.ErrTransient, err)
	}
	handle := FileHandle{Folder: folder, Name: name, Size: int64(len(data)), CreatedAt: s.now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Join(folder, name)] = memoryFile{handle: handle, content: data}
	return handle, nil
}

func (s *MemoryFileStore) ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-age)
	var out []FileHandle
	for _, f := range s.files {
		if f.handle.Folder == folder && f.handle.CreatedAt.Before(cutoff) {
			out = append(out, f.handle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryFileStore) Delete(ctx context.Context, file FileHandle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErrs[file.Name]; err != nil {
		return false, err
	}
	key := path.Join(file.Folder, file.Name)
	if _, ok := s.files[key]; !ok {
		return false, nil
	}
	delete(s.files, key)
	return true, nil
}

// Put stores a file with an explicit creation time.
func (s *MemoryFileStore) Put(handle FileHandle, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle.Size = int64(len(content))
	s.files[path.Join(handle.Folder, handle.Name)] = memoryFile{handle: handle, content: content}
}

// FailUpload makes uploads of name fail with err.
func (s *MemoryFileStore) FailUpload(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErrs[name] = err
}

// FailDelete makes deletes of name fail with err.
func (s *MemoryFileStore) FailDelete(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErrs[name] = err
}

// Content returns the stored bytes of folder/name.
func (s *MemoryFileStore) Content(folder, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path.Join(folder, name)]
	return f.content, ok
}

// Names returns the names of every file in folder, sorted.
func (s *MemoryFileStore) Names(folder string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.files {
		if f.handle.Folder == folder {
			out = append(out, f.handle.Name)
		}
	}
	sort.Strings(out)
	return out
}
