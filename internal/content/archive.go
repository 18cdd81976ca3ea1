package content

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// ExtractArchive unpacks the zip archive at src into dest. Entries that would
// land outside dest, and symbolic links, are rejected.
func ExtractArchive(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, filepath.FromSlash(f.Name))
		if fpath != dest && !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return fmt.Errorf("symbolic link in archive: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, dirPermissions); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, fpath string) error {
	if err := os.MkdirAll(filepath.Dir(fpath), dirPermissions); err != nil {
		return err
	}
	out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		_ = out.Close()
		return err
	}
	_, err = io.Copy(out, rc)
	_ = rc.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// FindEntry returns the slash-separated path, relative to root, of the
// shallowest file named index.htm*. Ties at the same depth resolve to the
// lexically first path.
func FindEntry(root string) (string, error) {
	best, bestDepth := "", -1
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := path.Match("index.htm*", d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")
		if bestDepth < 0 || depth < bestDepth {
			best, bestDepth = rel, depth
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("no index.html found in archive")
	}
	return best, nil
}
