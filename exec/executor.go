// Package exec provides an abstraction over command execution for testability.
// It allows production code to use real exec.Command while tests
// can inject mock executors that return pre-recorded responses.
//
// Besides run-to-completion execution it supports line streaming, which the
// scheduler and session layers use to react to confirmation lines (salloc
// progress, vncserver startup) before the remote command finishes.
package exec

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
)

// CommandExecutor abstracts command execution for testability.
// Production code uses RealExecutor, while tests use MockExecutor.
type CommandExecutor interface {
	// Run executes a command and returns stdout, stderr, and any error.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

	// Output executes a command and returns stdout, or an error.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// CombinedOutput executes a command and returns combined stdout+stderr.
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream starts a command and returns a LineStream over its combined
	// output. The command is killed when ctx is cancelled or the stream
	// is closed.
	Stream(ctx context.Context, name string, args ...string) (LineStream, error)
}

// LineStream iterates over the lines of a running command's combined output.
type LineStream interface {
	// Next returns the next output line. ok is false once the stream has
	// ended (process exit, read error, or cancellation).
	Next() (line string, ok bool)

	// Err returns the first error encountered while reading, or nil on a
	// clean end of stream.
	Err() error

	// Close terminates the underlying command if still running and
	// releases the stream's resources. Safe to call more than once.
	Close() error
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Run executes a command and returns stdout, stderr, and any error.
func (e *RealExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), err
}

// Output executes a command and returns stdout.
func (e *RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

// CombinedOutput executes a command and returns combined stdout+stderr.
func (e *RealExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Stream starts a command and returns a stream over its combined output.
func (e *RealExecutor) Stream(ctx context.Context, name string, args ...string) (LineStream, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &realLineStream{
		cmd:     cmd,
		scanner: bufio.NewScanner(pipe),
	}, nil
}

// realLineStream reads lines from a running command.
type realLineStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	err     error
	closed  bool
}

func (s *realLineStream) Next() (string, bool) {
	if s.closed {
		return "", false
	}
	if s.scanner.Scan() {
		return s.scanner.Text(), true
	}
	if err := s.scanner.Err(); err != nil && err != io.EOF {
		s.err = err
	}
	return "", false
}

func (s *realLineStream) Err() error {
	return s.err
}

func (s *realLineStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// Reap the child; the exit status after a kill is not interesting.
	s.cmd.Wait()
	return nil
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(name string, args []string) bool

// MockRule defines a matching rule and its response.
type MockRule struct {
	Match    CommandMatcher
	Response MockResponse
}

// MockExecutor returns pre-recorded responses for commands.
// Commands are matched in order of rule registration.
type MockExecutor struct {
	mu       sync.RWMutex
	rules    []MockRule
	calls    []MockCall
	fallback CommandExecutor
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// NewMockExecutor creates a new MockExecutor.
// If fallback is provided, unmatched commands will be delegated to it.
func NewMockExecutor(fallback CommandExecutor) *MockExecutor {
	return &MockExecutor{
		fallback: fallback,
	}
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, MockRule{Match: match, Response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		if n != name {
			return false
		}
		if len(a) != len(args) {
			return false
		}
		for i, arg := range args {
			if a[i] != arg {
				return false
			}
		}
		return true
	}, response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		if n != name {
			return false
		}
		if len(a) < len(prefixArgs) {
			return false
		}
		for i, arg := range prefixArgs {
			if a[i] != arg {
				return false
			}
		}
		return true
	}, response)
}

// AddContainsMatch adds a rule that matches when any single argument equals
// needle. Useful for ssh invocations where the remote command is one
// argument.
func (e *MockExecutor) AddContainsMatch(name string, needle string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		if n != name {
			return false
		}
		for _, arg := range a {
			if arg == needle {
				return true
			}
		}
		return false
	}, response)
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	calls := make([]MockCall, len(e.calls))
	copy(calls, e.calls)
	return calls
}

// ClearCalls clears the recorded command invocations.
func (e *MockExecutor) ClearCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

func (e *MockExecutor) findMatch(name string, args []string) *MockResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, rule := range e.rules {
		if rule.Match(name, args) {
			return &rule.Response
		}
	}
	return nil
}

func (e *MockExecutor) recordCall(name string, args []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, MockCall{Name: name, Args: args})
}

// Run executes a mocked command.
func (e *MockExecutor) Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	e.recordCall(name, args)

	if resp := e.findMatch(name, args); resp != nil {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if e.fallback != nil {
		return e.fallback.Run(ctx, name, args...)
	}

	// Default: return empty success
	return nil, nil, nil
}

// Output executes a mocked command.
func (e *MockExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.recordCall(name, args)

	if resp := e.findMatch(name, args); resp != nil {
		return resp.Stdout, resp.Err
	}

	if e.fallback != nil {
		return e.fallback.Output(ctx, name, args...)
	}

	return nil, nil
}

// CombinedOutput executes a mocked command.
func (e *MockExecutor) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.recordCall(name, args)

	if resp := e.findMatch(name, args); resp != nil {
		// Copy so appending stderr never scribbles into the rule's
		// stdout backing array between replays.
		combined := append(append([]byte{}, resp.Stdout...), resp.Stderr...)
		return combined, resp.Err
	}

	if e.fallback != nil {
		return e.fallback.CombinedOutput(ctx, name, args...)
	}

	return nil, nil
}

// Stream returns a stream over the mocked response's combined output lines.
func (e *MockExecutor) Stream(ctx context.Context, name string, args ...string) (LineStream, error) {
	e.recordCall(name, args)

	if resp := e.findMatch(name, args); resp != nil {
		return newMockLineStream(*resp), nil
	}

	if e.fallback != nil {
		return e.fallback.Stream(ctx, name, args...)
	}

	return newMockLineStream(MockResponse{}), nil
}

// mockLineStream replays a mock response line by line.
type mockLineStream struct {
	scanner *bufio.Scanner
	err     error
	closed  bool
}

func newMockLineStream(resp MockResponse) *mockLineStream {
	combined := append(append([]byte{}, resp.Stdout...), resp.Stderr...)
	return &mockLineStream{
		scanner: bufio.NewScanner(bytes.NewReader(combined)),
		err:     resp.Err,
	}
}

func (s *mockLineStream) Next() (string, bool) {
	if s.closed {
		return "", false
	}
	if s.scanner.Scan() {
		return s.scanner.Text(), true
	}
	return "", false
}

func (s *mockLineStream) Err() error {
	return s.err
}

func (s *mockLineStream) Close() error {
	s.closed = true
	return nil
}

// Ensure implementations satisfy the interfaces.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
var _ LineStream = (*realLineStream)(nil)
var _ LineStream = (*mockLineStream)(nil)
