package utils

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"go.uber.org/zap"

	"github.com/camden-git/collectionstore/logging"
)

// ZipDir writes every regular file below srcDir into a zip archive at
// destPath, named by its slash-separated path relative to srcDir.
func ZipDir(ctx context.Context, srcDir, destPath string) error {
	srcDir = filepath.Clean(srcDir)
	names := make(map[string]string)
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		names[p] = filepath.ToSlash(rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", srcDir, err)
	}

	files, err := archives.FilesFromDisk(ctx, nil, names)
	if err != nil {
		return fmt.Errorf("failed to collect files of %s: %w", srcDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create zip save directory for %s: %w", destPath, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create zip file %s: %w", destPath, err)
	}
	if err := (archives.Zip{}).Archive(ctx, out, files); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to write zip file %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to finalize zip file %s: %w", destPath, err)
	}

	logging.Log.Named("zipper").Info("created archive",
		zap.String("source", srcDir), zap.String("archive", destPath), zap.Int("files", len(files)))
	return nil
}

// Unzip extracts archivePath into destDir. Entries that would land outside
// destDir are rejected.
func Unzip(ctx context.Context, archivePath, destDir string) error {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	destDir = filepath.Clean(destDir)

	count := 0
	err = fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		clean := path.Clean(name)
		if strings.HasPrefix(clean, "../") || clean == ".." || path.IsAbs(clean) {
			return fmt.Errorf("archive entry %q escapes the target directory", name)
		}
		target := filepath.Join(destDir, filepath.FromSlash(clean))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if err := extractFile(fsys, name, target); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	logging.Log.Named("zipper").Info("extracted archive",
		zap.String("archive", archivePath), zap.String("target", destDir), zap.Int("files", count))
	return nil
}

func extractFile(fsys fs.FS, name, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	in, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}
