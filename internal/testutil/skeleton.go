package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/project"
)

const (
	testDirPermissions  = 0o750
	testFilePermissions = 0o644
)

// TemplateAppID is the app id the skeleton is created with.
const TemplateAppID = "template"

var skeletonFiles = map[string]string{
	"app/build.gradle": `apply plugin: 'com.android.application'

android {
    namespace 'com.APP_ID.htpk'
    compileSdkVersion 33

    defaultConfig {
        applicationId "com.APP_ID.htpk"
        minSdkVersion 21
        targetSdkVersion 33
        versionCode 1
        versionName "1.0"
    }
}
`,
	"app/proguard-rules.pro": "-keep class com.APP_ID.htpk.** { *; }\n",
	"app/src/main/AndroidManifest.xml": `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android"
    package="com.APP_ID.htpk">
    <application android:label="@string/app_name" android:icon="@mipmap/ic_launcher">
        <activity android:name="com.APP_ID.htpk.MainActivity" android:exported="true" />
    </application>
</manifest>
`,
	"app/src/main/java/com/APP_ID/htpk/MainActivity.java": `package com.APP_ID.htpk;

import android.app.Activity;

public class MainActivity extends Activity {
    private static final String MAIN_URL = "https://example.invalid/index.html"; // replaced per build
    private static final boolean isOfflineMode = false;
    private final String docs = "org.com.APP_ID.htpk.docs";

    boolean matches(String url) {
        return url == MAIN_URL;
    }
}
`,
	"app/src/main/java/com/APP_ID/htpk/Settings.java": `package com.APP_ID.htpk;

final class Settings {
    static final String USER_AGENT = "webapk";
    static final boolean isOfflineMode = true;
}
`,
	"app/src/main/res/values/strings.xml": `<?xml version="1.0" encoding="utf-8"?>
<resources>
    <!-- launcher label -->
    <string name="app_name">Template</string>
    <string name="loading">Loading&#8230;</string>
</resources>
`,
	"app/src/main/res/values-de/strings.xml": `<resources>
    <string name="app_name" />
</resources>
`,
	"app/src/main/res/values-fr/strings.xml": `<resources>
    <string name="loading">Chargement</string>
</resources>
`,
	"app/src/main/res/mipmap/ic_launcher.png": "placeholder",
	"app/src/main/assets/index.html":           "<html><head><title>Template</title></head></html>",
}

// NewSkeleton creates an Android project patched to TemplateAppID and returns its root.
func NewSkeleton(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "android_source")
	for rel, body := range skeletonFiles {
		rel = strings.ReplaceAll(rel, "APP_ID", TemplateAppID)
		body = strings.ReplaceAll(body, "APP_ID", TemplateAppID)
		WriteFile(t, root, rel, body)
	}
	return root
}

// OpenSkeleton creates a skeleton and opens it with the default layout.
func OpenSkeleton(t *testing.T) *project.Tree {
	t.Helper()
	cfg := config.Default()
	cfg.Project.Root = NewSkeleton(t)
	tree, err := project.Open(project.LayoutFromConfig(cfg.Project))
	if err != nil {
		t.Fatalf("open skeleton: %v", err)
	}
	return tree
}

// WriteFile writes body to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, body string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), testDirPermissions); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(body), testFilePermissions); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// WritePNG writes a small PNG whose pixels depend on shade and returns its path.
func WritePNG(t *testing.T, dir, name string, shade uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create icon: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode icon: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close icon: %v", err)
	}
	return path
}

// Snapshot maps every file below root to a digest of its content; directories
// are recorded with the value "dir". Two equal snapshots mean identical trees.
func Snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	snap := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			snap[rel] = "dir"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		snap[rel] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", root, err)
	}
	return snap
}
