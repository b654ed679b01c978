package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local 以 root 为根的本地文件系统存储.
type Local struct {
	root string
}

// NewLocal 创建本地存储.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Kind 实现名称.
func (l *Local) Kind() string { return "local" }

// Root 返回存储根目录.
func (l *Local) Root() string { return l.root }

func (l *Local) full(path, name string) string {
	return filepath.Join(l.root, filepath.FromSlash(path), name)
}

func mapErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}

	return err
}

// Exists 文件是否存在.
func (l *Local) Exists(_ context.Context, path, name string) (bool, error) {
	_, err := os.Stat(l.full(path, name))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	return false, err
}

// Stat 返回文件信息.
func (l *Local) Stat(_ context.Context, path, name string) (Info, error) {
	fi, err := os.Stat(l.full(path, name))
	if err != nil {
		return Info{}, mapErr(err)
	}

	return Info{Path: path, Name: name, Size: fi.Size(), LastMod: fi.ModTime().UTC()}, nil
}

// Open 打开文件.
func (l *Local) Open(_ context.Context, path, name string) (io.ReadCloser, error) {
	f, err := os.Open(l.full(path, name))
	if err != nil {
		return nil, mapErr(err)
	}

	return f, nil
}

// OpenRange 范围读取.
func (l *Local) OpenRange(_ context.Context, path, name string, off, length int64) (io.ReadCloser, error) {
	f, err := os.Open(l.full(path, name))
	if err != nil {
		return nil, mapErr(err)
	}

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek %s: %w", name, err)
	}

	if length < 0 {
		return f, nil
	}

	return &readCloser{Reader: io.LimitReader(f, length), closers: []io.Closer{f}}, nil
}

// Put 先写临时文件再原子改名，读者不会看到半截文件.
func (l *Local) Put(_ context.Context, path, name string, r io.Reader, _ int64) error {
	dst := l.full(path, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", name, err)
	}

	return nil
}

// Delete 删除文件.
func (l *Local) Delete(_ context.Context, path, name string) error {
	err := os.Remove(l.full(path, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// List 列出目录下的普通文件，按名称排序.
func (l *Local) List(_ context.Context, path, prefix string) ([]Info, error) {
	entries, err := os.ReadDir(l.full(path, ""))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	out := make([]Info, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		fi, err := e.Info()
		if err != nil {
			continue
		}

		out = append(out, Info{Path: path, Name: e.Name(), Size: fi.Size(), LastMod: fi.ModTime().UTC()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}
