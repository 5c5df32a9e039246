package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"submission-sync/internal/common/errors"
)

// LocalFileStore keeps attachments in a directory tree, for single-host
// deployments and development. File modification time stands in for the
// creation time.
type LocalFileStore struct {
	root string
	now  func() time.Time
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local file store requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file store root: %w", err)
	}
	return &LocalFileStore{root: root, now: time.Now}, nil
}

func (s *LocalFileStore) Upload(ctx context.Context, folder, name string, content io.Reader, size int64) (FileHandle, error) {
	dst, err := s.resolve(folder, name)
	if err != nil {
		return FileHandle{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return FileHandle{}, fmt.Errorf("%w: upload %s: %v", errors.ErrTransient, name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return FileHandle{}, fmt.Errorf("%w: upload %s: %v", errors.ErrTransient, name, err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, content)
	if err == nil {
		err = tmp.Close()
	} else {
		tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmpName, dst)
	}
	if err != nil {
		os.Remove(tmpName)
		return FileHandle{}, fmt.Errorf("%w: upload %s: %v", errors.ErrTransient, name, err)
	}
	return FileHandle{Folder: folder, Name: name, Size: written, CreatedAt: s.now().UTC()}, nil
}

func (s *LocalFileStore) ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]FileHandle, error) {
	dir, err := s.resolve(folder, "")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", errors.ErrTransient, folder, err)
	}

	cutoff := s.now().Add(-age)
	var out []FileHandle
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			out = append(out, FileHandle{
				Folder:    folder,
				Name:      entry.Name(),
				Size:      info.Size(),
				CreatedAt: info.ModTime().UTC(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *LocalFileStore) Delete(ctx context.Context, file FileHandle) (bool, error) {
	target, err := s.resolve(file.Folder, file.Name)
	if err != nil {
		return false, err
	}
	err = os.Remove(target)
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", file.Name, err)
	}
	return true, nil
}

// resolve joins folder and name under the root and refuses paths that
// would escape it.
func (s *LocalFileStore) resolve(folder, name string) (string, error) {
	joined := filepath.Join(s.root, filepath.FromSlash(folder), name)
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes the file store", errors.ErrSchemaMismatch, filepath.Join(folder, name))
	}
	return joined, nil
}
