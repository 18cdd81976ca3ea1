package toolchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type progressUpdate struct {
	percent int
	message string
}

func collect(lines ...string) []progressUpdate {
	var got []progressUpdate
	tracker := newProgressTracker(BuildBaseProgress, func(p int, m string) {
		got = append(got, progressUpdate{p, m})
	})
	for _, line := range lines {
		tracker.observe(line)
	}
	return got
}

func TestProgressScalesGradleTasks(t *testing.T) {
	got := collect(
		"> Task :app:preBuild UP-TO-DATE",
		"> Task :app:mergeReleaseResources",
		"> Task :app:packageRelease",
		"BUILD SUCCESSFUL in 41s",
	)

	assert.Equal(t, []progressUpdate{
		{52, "Building: Task :app:preBuild UP-TO-DATE"},
		{61, "Building: Task :app:mergeReleaseResources"},
		{88, "Building: Task :app:packageRelease"},
		{92, "Building: BUILD SUCCESSFUL"},
	}, got)
}

func TestProgressNeverGoesBackwards(t *testing.T) {
	got := collect(
		"> Task :app:mergeDexRelease",
		"> Task :app:preBuild",
	)
	assert.Len(t, got, 1)
	assert.Equal(t, 81, got[0].percent)
}

func TestProgressDownloadAndCompileMessages(t *testing.T) {
	got := collect(
		"Download https://repo.maven.apache.org/maven2/foo.pom",
		"Compiling with JDK Java compiler API.",
	)
	assert.Equal(t, []progressUpdate{
		{50, "Downloading dependencies..."},
		{50, "Compiling source code..."},
	}, got)
}

func TestProgressTruncatesTaskName(t *testing.T) {
	long := "> Task :app:compileReleaseJavaWithJavac " + strings.Repeat("x", 80)
	got := collect(long)
	assert.Len(t, got, 1)
	assert.Len(t, strings.TrimPrefix(got[0].message, "Building: "), maxTaskNameLength)
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	b := newTailBuffer(3)
	assert.Empty(t, b.snapshot())
	for _, l := range []string{"a", "b"} {
		b.add(l)
	}
	assert.Equal(t, []string{"a", "b"}, b.snapshot())
	for _, l := range []string{"c", "d", "e"} {
		b.add(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, b.snapshot())
}
