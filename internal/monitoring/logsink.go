package monitoring

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogSink captures console output written by the process, including output
// of code that writes to os.Stdout and os.Stderr directly.
type LogSink interface {
	Start() error
	Stop() error
}

// ConsoleSink leaves console output alone.
type ConsoleSink struct{}

func (ConsoleSink) Start() error { return nil }
func (ConsoleSink) Stop() error  { return nil }

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// PipeSink swaps os.Stdout and os.Stderr for pipes. Every captured line is
// echoed to the original stream and written to the log as
// "<time> - INFO: <line>" or "<time> - ERROR: <line>".
type PipeSink struct {
	log io.Writer
	// Stdout and Stderr receive the echo. They default to the streams
	// replaced by Start.
	Stdout io.Writer
	Stderr io.Writer
	now    func() time.Time

	mu      sync.Mutex
	running bool
	origOut *os.File
	origErr *os.File
	outW    *os.File
	errW    *os.File
	wg      sync.WaitGroup
}

// NewPipeSink returns a sink writing captured lines to log.
func NewPipeSink(log io.Writer) *PipeSink {
	return &PipeSink{log: &syncWriter{w: log}, now: time.Now}
}

// Start redirects the process streams.
func (s *PipeSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	s.origOut, s.origErr = os.Stdout, os.Stderr
	stdout, stderr := s.Stdout, s.Stderr
	if stdout == nil {
		stdout = s.origOut
	}
	if stderr == nil {
		stderr = s.origErr
	}
	s.outW, s.errW = outW, errW
	os.Stdout, os.Stderr = outW, errW

	s.wg.Add(2)
	go s.pump(outR, stdout, "INFO")
	go s.pump(errR, stderr, "ERROR")
	s.running = true
	return nil
}

func (s *PipeSink) pump(r *os.File, echo io.Writer, level string) {
	defer s.wg.Done()
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintln(echo, line)
		fmt.Fprintf(s.log, "%s - %s: %s\n", s.now().Format(TimeLayout), level, line)
	}
}

// Stop restores the process streams and waits until every captured line
// has been written.
func (s *PipeSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	os.Stdout, os.Stderr = s.origOut, s.origErr
	errOut := s.outW.Close()
	errErr := s.errW.Close()
	s.wg.Wait()
	s.running = false
	if errOut != nil {
		return errOut
	}
	return errErr
}

// Capture starts a PipeSink writing to log. If the streams cannot be
// redirected it logs why and returns a ConsoleSink.
func Capture(log io.Writer) LogSink {
	s := NewPipeSink(log)
	if err := s.Start(); err != nil {
		Logf("console capture unavailable, logging to console only: %v", err)
		return ConsoleSink{}
	}
	return s
}
