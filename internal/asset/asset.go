// Package asset fingerprints and packages the compute function's code
// directory so the template can point at a content-addressed archive.
package asset

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

// ErrEmptyAsset is returned when the asset directory holds no files.
var ErrEmptyAsset = errors.New("asset directory is empty")

// epoch is stamped on every archive entry so bundles are reproducible.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Fingerprint returns a hex digest over the relative paths and contents of
// every regular file under dir.
func Fingerprint(dir string) (string, error) {
	h := blake3.New()
	n := 0
	err := walk(dir, func(rel string, f *os.File) error {
		n++
		if _, err := io.WriteString(h, rel); err != nil {
			return err
		}
		if _, err := h.Write([]byte{0}); err != nil {
			return err
		}
		_, err := io.Copy(h, f)
		return err
	})
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyAsset, dir)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key returns the object key of the bundle for the given fingerprint.
func Key(fingerprint string) string {
	return fingerprint + ".zip"
}

// Bundle writes a deflated zip archive of dir to w.
func Bundle(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)
	err := walk(dir, func(rel string, f *os.File) error {
		hdr := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   zip.Deflate,
			Modified: epoch,
		}
		hdr.SetMode(0o644)
		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", rel, err)
		}
		_, err = io.Copy(entry, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// walk visits regular files in lexical order.
func walk(dir string, visit func(rel string, f *os.File) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
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
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return visit(rel, f)
	})
}
