package slurm

import (
	"context"
	"errors"
	"testing"

	"github.com/uw-psych/hyakvnc/cluster"
	"github.com/uw-psych/hyakvnc/config"
	"github.com/uw-psych/hyakvnc/exec"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.User = "testuser"
	return cfg
}

func TestReserve_GrantedViaStream(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("salloc", []string{"--no-shell"}, exec.MockResponse{
		Stdout: []byte(
			"salloc: Pending job allocation 864875\n" +
				"salloc: job 864875 queued and waiting for resources\n" +
				"salloc: job 864875 has been allocated resources\n" +
				"salloc: Granted job allocation 864875\n" +
				"salloc: Waiting for resource configuration\n" +
				"salloc: Nodes n3000 are ready for job\n"),
	})

	m := NewManager(testConfig(), mock)
	alloc, err := m.Reserve(context.Background(), SpecFromConfig(testConfig()))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if alloc.ID != "864875" {
		t.Errorf("expected job 864875, got %q", alloc.ID)
	}
	if alloc.Node != "n3000" {
		t.Errorf("expected node n3000, got %q", alloc.Node)
	}
	if alloc.State != StateGranted {
		t.Errorf("expected granted state, got %v", alloc.State)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 || calls[0].Name != "salloc" {
		t.Fatalf("expected a single salloc call, got %v", calls)
	}
	args := calls[0].Args
	want := map[string]bool{"--no-shell": false, "--mem=16G": false, "--time=4:00:00": false}
	for _, a := range args {
		if _, ok := want[a]; ok {
			want[a] = true
		}
	}
	for a, seen := range want {
		if !seen {
			t.Errorf("salloc args missing %q: %v", a, args)
		}
	}
}

func TestReserve_GrantedViaQueueFallback(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	// salloc detaches right after acknowledging the request.
	mock.AddPrefixMatch("salloc", []string{"--no-shell"}, exec.MockResponse{
		Stdout: []byte("salloc: Granted job allocation 864875\n"),
	})
	mock.AddPrefixMatch("squeue", nil, exec.MockResponse{
		Stdout: []byte("864875 R 3:59:40 n3000\n"),
	})

	m := NewManager(testConfig(), mock)
	alloc, err := m.Reserve(context.Background(), SpecFromConfig(testConfig()))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if alloc.Node != "n3000" || alloc.State != StateGranted {
		t.Errorf("expected granted on n3000, got %+v", alloc)
	}
}

func TestReserve_TimeoutCancelsRequest(t *testing.T) {
	cfg := testConfig()
	cfg.AllocTimeoutS = 0 // expire immediately

	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("salloc", []string{"--no-shell"}, exec.MockResponse{
		Stdout: []byte("salloc: Pending job allocation 864875\n"),
	})
	mock.AddPrefixMatch("squeue", nil, exec.MockResponse{
		Stdout: []byte("864875 PD 4:00:00 (Resources)\n"),
	})

	m := NewManager(cfg, mock)
	_, err := m.Reserve(context.Background(), SpecFromConfig(cfg))
	if !errors.Is(err, cluster.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The timed-out request must have been cancelled.
	cancelled := false
	for _, c := range mock.GetCalls() {
		if c.Name == "scancel" && len(c.Args) == 1 && c.Args[0] == "864875" {
			cancelled = true
		}
	}
	if !cancelled {
		t.Error("expected scancel for the timed-out allocation")
	}
}

func TestReserve_UnrecognizedOutput(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("salloc", []string{"--no-shell"}, exec.MockResponse{
		Stdout: []byte("something entirely different\n"),
	})

	m := NewManager(testConfig(), mock)
	_, err := m.Reserve(context.Background(), SpecFromConfig(testConfig()))
	if !errors.Is(err, cluster.ErrParseMismatch) {
		t.Fatalf("expected ErrParseMismatch, got %v", err)
	}
}

func TestReserve_InterruptIsCancellation(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("salloc", []string{"--no-shell"}, exec.MockResponse{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(testConfig(), mock)
	_, err := m.Reserve(ctx, SpecFromConfig(testConfig()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, cluster.ErrParseMismatch) {
		t.Errorf("an interrupt must not read as a parse mismatch: %v", err)
	}
}

func TestQueue_IncludesPlaceholderRows(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("squeue", nil, exec.MockResponse{
		Stdout: []byte(
			"864875 R 3:59:40 n3000\n" +
				"864880 PD 4:00:00 (QOSGrpCpuLimit)\n"),
	})

	m := NewManager(testConfig(), mock)
	entries, err := m.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Pending() {
		t.Error("running job should not be pending")
	}
	if !entries[1].Pending() || entries[1].Reason != "QOSGrpCpuLimit" {
		t.Errorf("expected QOSGrpCpuLimit placeholder, got %+v", entries[1])
	}
}

func TestTimeLeft(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("squeue", nil, exec.MockResponse{
		Stdout: []byte("864875 R 1:23:45 n3000\n"),
	})

	m := NewManager(testConfig(), mock)
	left, err := m.TimeLeft(context.Background(), "864875")
	if err != nil {
		t.Fatalf("TimeLeft failed: %v", err)
	}
	if left != "1:23:45" {
		t.Errorf("expected 1:23:45, got %q", left)
	}

	if _, err := m.TimeLeft(context.Background(), "999999"); !errors.Is(err, cluster.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown job, got %v", err)
	}
}

func TestCancel_UnknownJobIsNotAnError(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddExactMatch("scancel", []string{"864875"}, exec.MockResponse{
		Stderr: []byte("scancel: error: Invalid job id specified\n"),
		Err:    errors.New("exit status 1"),
	})

	m := NewManager(testConfig(), mock)
	if err := m.Cancel(context.Background(), "864875"); err != nil {
		t.Errorf("Cancel of unknown job should succeed, got %v", err)
	}
	// Cancelling again behaves the same.
	if err := m.Cancel(context.Background(), "864875"); err != nil {
		t.Errorf("repeated Cancel should succeed, got %v", err)
	}
}

func TestCancel_OtherFailuresPropagate(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddExactMatch("scancel", []string{"864875"}, exec.MockResponse{
		Stderr: []byte("scancel: error: Kill job error\n"),
		Err:    errors.New("exit status 1"),
	})

	m := NewManager(testConfig(), mock)
	if err := m.Cancel(context.Background(), "864875"); err == nil {
		t.Error("expected error for real scancel failure")
	}
}

func TestListPIDs(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddContainsMatch("ssh", "scontrol listpids 864875", exec.MockResponse{
		Stdout: []byte(
			"PID      JOBID    STEPID   LOCALID GLOBALID\n" +
				"7280     864875   4294967290 0     0\n" +
				"7295     864875   4294967290 1     1\n"),
	})

	m := NewManager(testConfig(), mock)
	pids, err := m.ListPIDs(context.Background(), "n3000", "864875")
	if err != nil {
		t.Fatalf("ListPIDs failed: %v", err)
	}
	if len(pids) != 2 {
		t.Fatalf("expected 2 pids, got %d: %v", len(pids), pids)
	}
	if !pids[7280] || !pids[7295] {
		t.Errorf("expected pids 7280 and 7295, got %v", pids)
	}
}
