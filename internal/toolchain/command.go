package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/webapk/internal/config"
	"git.home.luguber.info/inful/webapk/internal/logfields"
)

// DefaultWaitDelay is how long an interrupted build may take to exit before it is killed.
const DefaultWaitDelay = 10 * time.Second

const maxLineSize = 1 << 20

// CommandToolchain runs the configured build script as a subprocess.
type CommandToolchain struct {
	Command      []string
	CleanCommand []string
	// WorkDir is the script's working directory; it defaults to the parent
	// of the project root.
	WorkDir string
	// ArtifactPath is the artifact location relative to the project root.
	ArtifactPath string
	TailLines    int
	WaitDelay    time.Duration
}

// NewCommandToolchain builds a toolchain from the build and project configuration.
func NewCommandToolchain(cfg *config.Config) *CommandToolchain {
	return &CommandToolchain{
		Command:      cfg.Build.Command,
		CleanCommand: cfg.Build.CleanCommand,
		WorkDir:      cfg.Build.WorkDir,
		ArtifactPath: cfg.Project.ArtifactPath,
		TailLines:    cfg.Build.TailLines,
		WaitDelay:    DefaultWaitDelay,
	}
}

// RunBuild runs the build command and reports its outcome.
func (c *CommandToolchain) RunBuild(ctx context.Context, inv Invocation) (Outcome, error) {
	if len(c.Command) == 0 {
		return Outcome{}, errors.New("no build command configured")
	}
	start := time.Now()
	tail := newTailBuffer(c.TailLines)
	tracker := newProgressTracker(BuildBaseProgress, inv.Progress)

	exitCode, err := c.run(ctx, c.Command, inv, func(line string) {
		tail.add(line)
		tracker.observe(line)
	})
	out := Outcome{ExitCode: exitCode, Tail: tail.snapshot(), Duration: time.Since(start)}
	if err != nil {
		return out, err
	}
	if c.ArtifactPath != "" {
		if info, statErr := os.Stat(filepath.Join(inv.ProjectPath, c.ArtifactPath)); statErr == nil && info.Mode().IsRegular() {
			out.ArtifactPresent = true
		}
	}
	slog.DebugContext(ctx, "Build command finished",
		slog.Int("exit_code", out.ExitCode),
		slog.Bool("artifact_present", out.ArtifactPresent),
		logfields.DurationMS(float64(out.Duration.Milliseconds())))
	return out, nil
}

// Clean runs the clean command, if one is configured.
func (c *CommandToolchain) Clean(ctx context.Context, inv Invocation) error {
	if len(c.CleanCommand) == 0 {
		return nil
	}
	tail := newTailBuffer(c.TailLines)
	exitCode, err := c.run(ctx, c.CleanCommand, inv, tail.add)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("clean command exited with code %d", exitCode)
	}
	return nil
}

// run executes argv with stdout and stderr merged, feeding each line to
// onLine. The command runs in its own process group; when ctx ends the group
// gets SIGINT, and whatever is still alive after WaitDelay is killed. It
// returns the exit code; err is set only when the process could not be
// started or ctx ended first.
func (c *CommandToolchain) run(ctx context.Context, argv []string, inv Invocation, onLine func(string)) (int, error) {
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.workDir(inv.ProjectPath)
	cmd.Env = append(os.Environ(),
		"ANDROID_PROJECT_ROOT="+inv.ProjectPath,
		"CACHE_DIR="+inv.CacheDir,
	)
	if inv.OutputDir != "" {
		cmd.Env = append(cmd.Env, "OUTPUT_DIR="+inv.OutputDir)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return interruptGroup(cmd.Process) }
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			onLine(scanner.Text())
		}
		// Keep the writer unblocked if the scanner gave up on an oversized line.
		_, _ = io.Copy(io.Discard, pr)
	}()

	runErr := cmd.Run()
	if ctx.Err() != nil && cmd.Process != nil {
		// Children of the script may outlive it; none may touch the tree
		// once this returns.
		stopGroup(cmd.Process, cmd.WaitDelay)
	}
	_ = pw.Close()
	<-done

	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", argv[0], runErr)
}

func (c *CommandToolchain) workDir(projectPath string) string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Dir(projectPath)
}
