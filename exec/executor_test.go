package exec

import (
	"context"
	"errors"
	"testing"
)

func TestRealExecutor_Run(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	stdout, stderr, err := executor.Run(ctx, "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRealExecutor_Output(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	output, err := executor.Output(ctx, "echo", "world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "world\n" {
		t.Errorf("expected 'world\\n', got %q", string(output))
	}
}

func TestRealExecutor_Stream(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	stream, err := executor.Stream(ctx, "printf", "one\ntwo\nthree\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var lines []string
	for {
		line, ok := stream.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	if stream.Err() != nil {
		t.Fatalf("unexpected stream error: %v", stream.Err())
	}
	if len(lines) != 3 || lines[0] != "one" || lines[2] != "three" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestRealExecutor_StreamCloseEarly(t *testing.T) {
	executor := NewRealExecutor()
	ctx := context.Background()

	// A command that would run forever; closing the stream must kill it.
	stream, err := executor.Stream(ctx, "sleep", "60")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Second close is a no-op.
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := stream.Next(); ok {
		t.Error("Next after Close should report end of stream")
	}
}

func TestMockExecutor_Run(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddExactMatch("scancel", []string{"864875"}, MockResponse{
		Stdout: nil,
		Stderr: nil,
		Err:    nil,
	})

	ctx := context.Background()
	_, _, err := mock.Run(ctx, "scancel", "864875")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "scancel" {
		t.Errorf("expected name 'scancel', got %q", calls[0].Name)
	}
}

func TestMockExecutor_PrefixMatch(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddPrefixMatch("squeue", []string{"--noheader"}, MockResponse{
		Stdout: []byte("864875 R n3000"),
	})

	ctx := context.Background()

	stdout, _, err := mock.Run(ctx, "squeue", "--noheader", "--user", "someone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "864875 R n3000" {
		t.Errorf("expected queue row, got %q", string(stdout))
	}

	// Different prefix shouldn't match
	stdout, _, err = mock.Run(ctx, "squeue", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "" {
		t.Errorf("expected empty response for unmatched command, got %q", string(stdout))
	}
}

func TestMockExecutor_ContainsMatch(t *testing.T) {
	mock := NewMockExecutor(nil)

	// ssh invocations carry the remote command as a single argument.
	mock.AddContainsMatch("ssh", "vncserver -list", MockResponse{
		Stdout: []byte("TigerVNC server sessions:"),
	})

	ctx := context.Background()
	stdout, _, err := mock.Run(ctx, "ssh", "n3000.hyak.local", "vncserver -list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "TigerVNC server sessions:" {
		t.Errorf("expected match on remote command, got %q", string(stdout))
	}

	stdout, _, _ = mock.Run(ctx, "ssh", "n3000.hyak.local", "vncserver -kill :1")
	if string(stdout) != "" {
		t.Errorf("expected no match for different remote command, got %q", string(stdout))
	}
}

func TestMockExecutor_Error(t *testing.T) {
	mock := NewMockExecutor(nil)

	expectedErr := errors.New("command failed")
	mock.AddExactMatch("salloc", []string{"-J", "vnc"}, MockResponse{
		Stderr: []byte("salloc: error: invalid partition"),
		Err:    expectedErr,
	})

	ctx := context.Background()
	_, stderr, err := mock.Run(ctx, "salloc", "-J", "vnc")

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if string(stderr) != "salloc: error: invalid partition" {
		t.Errorf("unexpected stderr %q", string(stderr))
	}
}

func TestMockExecutor_CombinedOutputRepeatedReplay(t *testing.T) {
	mock := NewMockExecutor(nil)

	// Stdout with spare capacity, so an in-place append would overwrite
	// the backing array.
	stdout := make([]byte, 0, 16)
	stdout = append(stdout, "out"...)
	mock.AddExactMatch("vncserver", []string{"-list"}, MockResponse{
		Stdout: stdout,
		Stderr: []byte("err"),
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		combined, err := mock.CombinedOutput(ctx, "vncserver", "-list")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(combined) != "outerr" {
			t.Errorf("replay %d: expected \"outerr\", got %q", i, string(combined))
		}
	}

	out, err := mock.Output(ctx, "vncserver", "-list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "out" {
		t.Errorf("rule stdout mutated between replays: %q", string(out))
	}
}

func TestMockExecutor_Stream(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddPrefixMatch("salloc", []string{"-J"}, MockResponse{
		Stdout: []byte("salloc: Pending job allocation 864875\nsalloc: Nodes n3000 are ready for job\n"),
	})

	ctx := context.Background()
	stream, err := mock.Stream(ctx, "salloc", "-J", "vnc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	line1, ok := stream.Next()
	if !ok || line1 != "salloc: Pending job allocation 864875" {
		t.Errorf("unexpected first line %q ok=%v", line1, ok)
	}
	line2, ok := stream.Next()
	if !ok || line2 != "salloc: Nodes n3000 are ready for job" {
		t.Errorf("unexpected second line %q ok=%v", line2, ok)
	}
	if _, ok := stream.Next(); ok {
		t.Error("expected end of stream")
	}
}

func TestMockExecutor_Fallback(t *testing.T) {
	real := NewRealExecutor()
	mock := NewMockExecutor(real)

	mock.AddPrefixMatch("squeue", []string{}, MockResponse{
		Stdout: []byte("mocked"),
	})

	ctx := context.Background()

	stdout, _, err := mock.Run(ctx, "squeue")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "mocked" {
		t.Errorf("expected 'mocked', got %q", string(stdout))
	}

	// "echo hello" should fall through to real executor
	stdout, _, err = mock.Run(ctx, "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("expected 'hello\\n', got %q", string(stdout))
	}
}

func TestMockExecutor_RuleOrder(t *testing.T) {
	mock := NewMockExecutor(nil)

	mock.AddExactMatch("squeue", []string{"--noheader", "--user", "u1"}, MockResponse{
		Stdout: []byte("specific"),
	})
	mock.AddPrefixMatch("squeue", []string{"--noheader"}, MockResponse{
		Stdout: []byte("general"),
	})

	ctx := context.Background()

	stdout, _, _ := mock.Run(ctx, "squeue", "--noheader", "--user", "u1")
	if string(stdout) != "specific" {
		t.Errorf("expected 'specific', got %q", string(stdout))
	}

	stdout, _, _ = mock.Run(ctx, "squeue", "--noheader", "--user", "u2")
	if string(stdout) != "general" {
		t.Errorf("expected 'general', got %q", string(stdout))
	}
}

func TestMockExecutor_GetCallsClearCalls(t *testing.T) {
	mock := NewMockExecutor(nil)
	ctx := context.Background()

	mock.Run(ctx, "cmd1", "arg1")
	mock.Run(ctx, "cmd2", "arg2")

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}

	mock.ClearCalls()

	calls = mock.GetCalls()
	if len(calls) != 0 {
		t.Errorf("expected 0 calls after clear, got %d", len(calls))
	}
}
