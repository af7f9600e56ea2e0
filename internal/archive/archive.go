// Package archive unpacks browsertime result bundles.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafePath is returned when an archive entry would be written outside
// the destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ExtractTarGz unpacks the gzip-compressed tarball at src into dst and
// returns the number of regular files written. Symlinks, hard links and
// device entries are skipped.
func ExtractTarGz(ctx context.Context, src, dst string) (int, error) {
	f, err := os.Open(src) //nolint:gosec // archive path is provided by the caller
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	return Extract(ctx, f, dst)
}

// Extract unpacks a gzip-compressed tar stream into dst.
func Extract(ctx context.Context, r io.Reader, dst string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("reading gzip header: %w", err)
	}
	defer gz.Close()

	root, err := filepath.Abs(dst)
	if err != nil {
		return 0, fmt.Errorf("resolving destination: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, fmt.Errorf("creating destination: %w", err)
	}

	tr := tar.NewReader(gz)
	written := 0

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return written, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("creating directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return written, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			written++
		default:
			continue
		}
	}
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) //nolint:gosec // target is checked by safeJoin
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // bundles are produced by our own CI
		out.Close()
		return err
	}

	return out.Close()
}

func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return target, nil
}

// FindFiles walks root and returns the sorted paths of regular files whose
// extension matches ext (including the dot).
func FindFiles(root, ext string) ([]string, error) {
	var found []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(path), ext) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(found)

	return found, nil
}
