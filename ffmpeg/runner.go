package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vidgen/config"
	"vidgen/logging"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const stderrTailSize = 4096

// Runner executes ffmpeg and ffprobe. Every media operation of the pipeline goes through it.
type Runner struct {
	cfg         *config.Config
	log         zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	encodeArgs  []string
}

func NewRunner(cfg *config.Config, logger zerolog.Logger) (*Runner, error) {
	ffmpegPath, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	ffprobePath, err := exec.LookPath(cfg.FFProbeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	encodeArgs, err := SplitCommand(cfg.FFEncodeArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(encodeArgs); err != nil {
		return nil, fmt.Errorf("FF_ENCODE_ARGS: %w", err)
	}

	return &Runner{
		cfg:         cfg,
		log:         logging.WithComponent(logger, "ffmpeg"),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		encodeArgs:  encodeArgs,
	}, nil
}

// Exec runs ffmpeg with the given arguments. The last argument is treated as the output
// file and removed if the command fails.
func (r *Runner) Exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no arguments provided")
	}
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)

	r.log.Debug().Strs("args", full).Msg("executing ffmpeg")
	start := time.Now()

	err := r.run(ctx, r.ffmpegPath, full, nil)
	if err != nil {
		os.Remove(args[len(args)-1])
		return err
	}

	r.log.Debug().Dur("took", time.Since(start)).Str("output", args[len(args)-1]).Msg("ffmpeg finished")
	return nil
}

func (r *Runner) run(ctx context.Context, bin string, args []string, stdout *bytes.Buffer) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	tail := &tailWriter{limit: stderrTailSize}
	cmd.Stderr = tail
	if stdout != nil {
		cmd.Stdout = stdout
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	exitErr := &ExitError{Tool: filepath.Base(bin), ExitCode: -1, StderrTail: strings.TrimSpace(tail.String()), Err: err}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		exitErr.ExitCode = ee.ExitCode()
	}
	return exitErr
}

// CheckResources verifies that the host has enough idle CPU, memory and disk to start a render.
func (r *Runner) CheckResources(ctx context.Context) error {
	p, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		r.log.Warn().Err(err).Msg("could not get CPU usage")
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("could not get memory usage")
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	dir := r.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	d, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		r.log.Warn().Err(err).Str("dir", dir).Msg("could not get disk usage")
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}

// tailWriter keeps only the last limit bytes written to it.
type tailWriter struct {
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = w.buf[over:]
	}
	return n, nil
}

func (w *tailWriter) String() string { return string(w.buf) }
