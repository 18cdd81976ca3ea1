package toolchain

import (
	"strings"
	"unicode/utf8"
)

// BuildBaseProgress is the overall progress at which the build step starts.
const BuildBaseProgress = 50

const (
	buildCeilingProgress = 95
	maxTaskNameLength    = 50
)

// gradleTasks maps Gradle output fragments to their completion weight. The
// first matching entry wins.
var gradleTasks = []struct {
	pattern string
	weight  int
}{
	{"preBuild", 5},
	{"preReleaseBuild", 8},
	{"compileReleaseAidl", 10},
	{"compileReleaseRenderscript", 12},
	{"generateReleaseBuildConfig", 15},
	{"generateReleaseResValues", 18},
	{"generateReleaseResources", 20},
	{"mergeReleaseResources", 25},
	{"processReleaseResources", 30},
	{"compileReleaseJavaWithJavac", 45},
	{"compileReleaseSources", 50},
	{"mergeReleaseJavaResource", 55},
	{"dexBuilderRelease", 60},
	{"mergeDexRelease", 70},
	{"mergeReleaseJniLibFolders", 72},
	{"mergeReleaseNativeLibs", 75},
	{"packageRelease", 85},
	{"assembleRelease", 90},
	{"signReleaseBundle", 92},
	{"BUILD SUCCESSFUL", 95},
}

// progressTracker turns build output lines into monotonic progress updates.
type progressTracker struct {
	base   int
	last   int
	report func(percent int, message string)
}

func newProgressTracker(base int, report func(int, string)) *progressTracker {
	return &progressTracker{base: base, last: base, report: report}
}

func (p *progressTracker) observe(line string) {
	if p.report == nil {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	for _, task := range gradleTasks {
		if !strings.Contains(line, task.pattern) {
			continue
		}
		scaled := p.base + task.weight*(buildCeilingProgress-p.base)/100
		if scaled > p.last {
			p.last = scaled
			p.report(p.last, "Building: "+taskName(line, task.pattern))
		}
		break
	}

	switch {
	case strings.Contains(line, "Download"):
		p.report(p.last, "Downloading dependencies...")
	case strings.Contains(line, "Compiling"):
		p.report(p.last, "Compiling source code...")
	}
}

// taskName extracts the readable part of a "> Task :app:foo" line.
func taskName(line, fallback string) string {
	idx := strings.LastIndex(line, ">")
	if idx < 0 {
		return fallback
	}
	name := strings.TrimSpace(line[idx+1:])
	if utf8.RuneCountInString(name) > maxTaskNameLength {
		name = string([]rune(name)[:maxTaskNameLength])
	}
	return name
}
