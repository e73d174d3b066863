package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// relocateMu serializes the free-name probe and the rename, so two workers
// moving same-named files into one folder cannot pick the same target.
var relocateMu sync.Mutex

// Relocate moves src into dir and returns the new path. When dir already
// holds a file of the same name, "_1", "_2", ... is inserted before the
// extension until the name is free. A file already inside dir stays put.
func Relocate(src, dir string) (string, error) {
	if samePath(filepath.Dir(src), dir) {
		return src, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	relocateMu.Lock()
	defer relocateMu.Unlock()

	dst, err := freeName(dir, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if err := moveFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func freeName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for n := 1; ; n++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, stem+"_"+strconv.Itoa(n)+ext)
	}
}

// moveFile renames src to dst, falling back to copy and remove when the two
// live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}

// canonical resolves symlinks in path. A missing leaf is tolerated so a
// vanished file can still be checked against the allowed roots.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return filepath.Clean(abs), nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// guardPath canonicalizes path and rejects it unless it lies under one of roots.
func guardPath(path string, roots ...string) (string, error) {
	resolved, err := canonical(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		r, err := canonical(root)
		if err != nil {
			continue
		}
		if within(r, resolved) {
			return resolved, nil
		}
	}
	return "", common.NewAppError("PATH_ESCAPE", fmt.Sprintf("%s is outside the pipeline folders", path), common.ErrPathEscape)
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func samePath(a, b string) bool {
	ca, err1 := canonical(a)
	cb, err2 := canonical(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}
