package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// CopyOptions controls CopyTree
type CopyOptions struct {
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the source root. A matching directory is skipped
	// with everything below it.
	Exclude []string

	// Checksums records a SHA-256 digest for every regular file copied
	Checksums bool
}

// Stats summarizes a copied tree
type Stats struct {
	Files     int
	Bytes     int64
	Checksums map[string]string
}

// CopyTree copies the directory src into dst, creating dst. File modes and
// symlinks are preserved. A missing src yields an empty dst.
func CopyTree(src, dst string, opts CopyOptions) (*Stats, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	stats := &Stats{}
	if opts.Checksums {
		stats.Checksums = make(map[string]string)
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(opts.Exclude, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			sum, n, err := copyFile(path, target, info.Mode().Perm(), opts.Checksums)
			if err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += n
			if opts.Checksums {
				stats.Checksums[filepath.ToSlash(rel)] = sum
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return stats, nil
}

func excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, perm fs.FileMode, checksum bool) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return "", 0, err
	}

	var w io.Writer = out
	h := sha256.New()
	if checksum {
		w = io.MultiWriter(out, h)
	}

	n, err := io.Copy(w, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	if !checksum {
		return "", n, nil
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// CopyFile copies a single regular file, creating parent directories
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	_, _, err = copyFile(src, dst, info.Mode().Perm(), false)
	return err
}

// Checksums computes SHA-256 digests of every regular file below dir
func Checksums(dir string) (map[string]string, error) {
	sums := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sums[filepath.ToSlash(rel)] = hex.EncodeToString(h.Sum(nil))
		return nil
	})
	return sums, err
}

// VerifyChecksums compares the files below dir against want
func VerifyChecksums(dir string, want map[string]string) error {
	got, err := Checksums(dir)
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", dir, err)
	}

	var mismatched []string
	for rel, sum := range want {
		if got[rel] != sum {
			mismatched = append(mismatched, rel)
		}
	}
	for rel := range got {
		if _, ok := want[rel]; !ok {
			mismatched = append(mismatched, rel)
		}
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return fmt.Errorf("checksum mismatch in %d file(s): %v", len(mismatched), mismatched)
	}
	return nil
}

// Swap moves staged into place at live. The previous live directory is
// removed after the swap. If staged cannot be renamed (different
// filesystem) it is copied next to live first.
func Swap(staged, live string) error {
	if err := os.MkdirAll(filepath.Dir(live), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", live, err)
	}

	next := live + ".next"
	if err := os.RemoveAll(next); err != nil {
		return fmt.Errorf("failed to clear %s: %w", next, err)
	}
	if err := os.Rename(staged, next); err != nil {
		if _, cerr := CopyTree(staged, next, CopyOptions{}); cerr != nil {
			return fmt.Errorf("failed to stage %s: %w", staged, cerr)
		}
		_ = os.RemoveAll(staged)
	}

	prev := fmt.Sprintf("%s.prev-%d", live, time.Now().UnixNano())
	hadLive := true
	if err := os.Rename(live, prev); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to move aside %s: %w", live, err)
		}
		hadLive = false
	}

	if err := os.Rename(next, live); err != nil {
		if hadLive {
			_ = os.Rename(prev, live)
		}
		return fmt.Errorf("failed to activate %s: %w", live, err)
	}

	if hadLive {
		if err := os.RemoveAll(prev); err != nil {
			return fmt.Errorf("failed to remove previous tree %s: %w", prev, err)
		}
	}
	return nil
}

// WriteJSON writes v as indented JSON to path via a temp file and rename
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadJSON decodes the JSON file at path into v
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
