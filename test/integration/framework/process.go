// Package framework runs the feed-consumer binary as a separate process
// for end-to-end tests.
package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ConsumerProcess manages one run of the feed-consumer binary.
type ConsumerProcess struct {
	packagePath string
	args        []string
	logFile     string

	cmd           *exec.Cmd
	started       bool
	mu            sync.Mutex
	stdout        *logWriter
	stderr        *logWriter
	logFileHandle *os.File
	done          chan struct{}
	exitCode      int
	ctx           context.Context
	cancelFunc    context.CancelFunc
}

// ConsumerProcessConfig holds configuration for a consumer process.
type ConsumerProcessConfig struct {
	// PackagePath is the directory of the consumer main package
	// (e.g., "../../cmd/feed-consumer").
	PackagePath string

	// Host and Port address the provider.
	Host string
	Port string

	// RunTime is the run time in seconds (default: 2).
	RunTime int

	// Service is the service name (default: DIRECT_FEED).
	Service string

	// DictionaryDir holds local dictionary files (default: temp dir).
	DictionaryDir string

	// LogFile is an optional path to write output to (in addition to test output)
	LogFile string

	// ExtraArgs are additional command-line arguments
	ExtraArgs []string
}

// NewConsumerProcess creates a new consumer process manager.
func NewConsumerProcess(config ConsumerProcessConfig) *ConsumerProcess {
	if config.RunTime == 0 {
		config.RunTime = 2
	}
	if config.Service == "" {
		config.Service = "DIRECT_FEED"
	}

	args := []string{"-r", strconv.Itoa(config.RunTime), "-s", config.Service}
	if config.Host != "" {
		args = append(args, "-h", config.Host)
	}
	if config.Port != "" {
		args = append(args, "-p", config.Port)
	}
	if config.DictionaryDir != "" {
		args = append(args, "--dict-dir", config.DictionaryDir)
	}
	args = append(args, config.ExtraArgs...)

	ctx, cancel := context.WithCancel(context.Background())

	return &ConsumerProcess{
		packagePath: config.PackagePath,
		args:        args,
		logFile:     config.LogFile,
		done:        make(chan struct{}),
		exitCode:    -1,
		ctx:         ctx,
		cancelFunc:  cancel,
	}
}

// Start starts the consumer using `go run`.
func (p *ConsumerProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("consumer process already started")
	}

	absPath, err := filepath.Abs(p.packagePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	name := filepath.Base(p.packagePath)

	cmdArgs := append([]string{"run", "."}, p.args...)
	p.cmd = exec.CommandContext(p.ctx, "go", cmdArgs...)
	p.cmd.Dir = absPath

	if p.logFile != "" {
		f, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		p.logFileHandle = f
	}

	p.stdout = newLogWriter(fmt.Sprintf("[%s stdout]", name), p.logFileHandle)
	p.stderr = newLogWriter(fmt.Sprintf("[%s stderr]", name), p.logFileHandle)
	p.cmd.Stdout = p.stdout
	p.cmd.Stderr = p.stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	p.started = true

	go func() {
		defer close(p.done)
		err := p.cmd.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
	}()

	return nil
}

// Wait blocks until the process exits or timeout passes and returns its
// exit code.
func (p *ConsumerProcess) Wait(timeout time.Duration) (int, error) {
	select {
	case <-p.done:
	case <-time.After(timeout):
		return -1, fmt.Errorf("consumer still running after %s", timeout)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

// Stop terminates the process if it is still running.
func (p *ConsumerProcess) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		select {
		case <-p.done:
		default:
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	p.cancelFunc()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFileHandle != nil {
		p.logFileHandle.Close()
		p.logFileHandle = nil
	}
	p.started = false
	return nil
}

// Stdout returns everything the process wrote to stdout.
func (p *ConsumerProcess) Stdout() string {
	return p.stdout.String()
}

// Stderr returns everything the process wrote to stderr.
func (p *ConsumerProcess) Stderr() string {
	return p.stderr.String()
}

// IsRunning returns true if the consumer process is currently running.
func (p *ConsumerProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// logWriter prefixes each write with a label, echoes it to stdout and
// optionally a file, and keeps a copy.
type logWriter struct {
	prefix  string
	logFile *os.File
	mu      sync.Mutex
	buf     bytes.Buffer
}

func newLogWriter(prefix string, logFile *os.File) *logWriter {
	return &logWriter{
		prefix:  prefix,
		logFile: logFile,
	}
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	line := strings.TrimRight(string(p), "\n")
	fmt.Printf("%s %s\n", w.prefix, line)
	if w.logFile != nil {
		fmt.Fprintf(w.logFile, "%s %s\n", w.prefix, line)
	}
	return len(p), nil
}

func (w *logWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
