package output

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"git.home.luguber.info/inful/webapk/internal/logfields"
)

const (
	// IconFilename is the name of the icon copy in an app directory.
	IconFilename = "icon.png"
	// DescriptorFilename is the name of the app descriptor in an app directory.
	DescriptorFilename = "webapk.conf"
	// APKContentType is served for published artifacts.
	APKContentType = "application/vnd.android.package-archive"
)

// Artifact is a published build artifact.
type Artifact struct {
	AppID  string `json:"app_id"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// DownloadName is the filename offered to clients downloading the artifact.
func (a Artifact) DownloadName() string {
	return a.AppID + "_release.apk"
}

// Metadata accompanies an artifact into the app directory.
type Metadata struct {
	DisplayName string
	IconPath    string
}

// Mirror receives a copy of every published file.
type Mirror interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

// Store publishes artifacts under a base directory.
type Store struct {
	dir    string
	mirror Mirror
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// SetMirror attaches a mirror. A nil mirror disables mirroring.
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

// AppDir returns the directory holding an app's published files.
func (s *Store) AppDir(appID string) string {
	return filepath.Join(s.dir, appID)
}

// ArtifactPath returns where the app's APK is published.
func (s *Store) ArtifactPath(appID string) string {
	return filepath.Join(s.AppDir(appID), appID+".apk")
}

// Publish copies the built APK into the store, replacing any previous one,
// and writes the icon copy and app descriptor next to it.
func (s *Store) Publish(ctx context.Context, appID, apkPath string, meta Metadata) (Artifact, error) {
	appDir := s.AppDir(appID)
	if err := os.MkdirAll(appDir, 0o750); err != nil {
		return Artifact{}, fmt.Errorf("create app directory: %w", err)
	}

	target := s.ArtifactPath(appID)
	digest, size, err := copyWithDigest(apkPath, target)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{AppID: appID, Path: target, Digest: digest, Size: size}

	files := []mirrorFile{{target, APKContentType}}
	if meta.IconPath != "" {
		iconTarget := filepath.Join(appDir, IconFilename)
		if _, _, err := copyWithDigest(meta.IconPath, iconTarget); err != nil {
			return art, fmt.Errorf("copy icon: %w", err)
		}
		files = append(files, mirrorFile{iconTarget, "image/png"})
	}
	confTarget := filepath.Join(appDir, DescriptorFilename)
	if err := writeAtomic(confTarget, []byte(Descriptor(appID, meta.DisplayName))); err != nil {
		return art, fmt.Errorf("write app descriptor: %w", err)
	}
	files = append(files, mirrorFile{confTarget, "text/plain; charset=utf-8"})

	slog.InfoContext(ctx, "Published artifact",
		logfields.AppID(appID),
		logfields.Path(target),
		slog.String("digest", digest),
		slog.Int64("size", size))

	s.mirrorFiles(ctx, appID, files)
	return art, nil
}

type mirrorFile struct {
	path        string
	contentType string
}

func (s *Store) mirrorFiles(ctx context.Context, appID string, files []mirrorFile) {
	if s.mirror == nil {
		return
	}
	for _, f := range files {
		key := appID + "/" + filepath.Base(f.path)
		if err := s.mirror.Upload(ctx, key, f.path, f.contentType); err != nil {
			slog.WarnContext(ctx, "Artifact mirror upload failed",
				logfields.AppID(appID),
				slog.String("key", key),
				logfields.Error(err))
			continue
		}
		slog.DebugContext(ctx, "Mirrored artifact file", slog.String("key", key))
	}
}

// Descriptor renders the webapk.conf content for an app.
func Descriptor(appID, name string) string {
	name = strings.ReplaceAll(name, "\n", " ")
	return fmt.Sprintf("id = %s\nname = %s\nicon = %s\n", appID, name, IconFilename)
}

// copyWithDigest copies src to dst through a temp file in dst's directory,
// returning the BLAKE3 hex digest and byte count of what was written.
func copyWithDigest(src, dst string) (string, int64, error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", 0, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", 0, fmt.Errorf("rename into place: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
