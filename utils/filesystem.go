package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is the file capability backup and restore work through.
type FileSystem interface {
	// CopyDir copies src into dst. skip is called with slash-separated paths
	// relative to src; a skipped directory is not descended into.
	CopyDir(src, dst string, skip func(rel string, d fs.DirEntry) bool) error
	// ClearDir removes every entry of dir for which keep returns false.
	ClearDir(dir string, keep func(name string) bool) error
	Zip(ctx context.Context, srcDir, archivePath string) error
	Unzip(ctx context.Context, archivePath, destDir string) error
	Exists(path string) bool
	MkdirAll(path string) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(from, to string) error
	ReadDir(path string) ([]fs.DirEntry, error)
	MkdirTemp(dir, pattern string) (string, error)
}

// LocalFileSystem implements FileSystem on the local disk.
type LocalFileSystem struct{}

var _ FileSystem = LocalFileSystem{}

func (LocalFileSystem) CopyDir(src, dst string, skip func(rel string, d fs.DirEntry) bool) error {
	src = filepath.Clean(src)
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel != "." && skip != nil && skip(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

func (LocalFileSystem) ClearDir(dir string, keep func(name string) bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if keep != nil && keep(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (LocalFileSystem) Zip(ctx context.Context, srcDir, archivePath string) error {
	return ZipDir(ctx, srcDir, archivePath)
}

func (LocalFileSystem) Unzip(ctx context.Context, archivePath, destDir string) error {
	return Unzip(ctx, archivePath, destDir)
}

func (LocalFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (LocalFileSystem) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }

func (LocalFileSystem) Remove(path string) error { return os.Remove(path) }

func (LocalFileSystem) RemoveAll(path string) error { return os.RemoveAll(path) }

func (LocalFileSystem) Rename(from, to string) error { return os.Rename(from, to) }

func (LocalFileSystem) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }

func (LocalFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}
