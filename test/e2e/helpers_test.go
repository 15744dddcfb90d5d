package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	readyTimeout = 10 * time.Second
	exitTimeout  = 15 * time.Second
)

// cohortBinary builds ./cmd/cohort once per test binary.
var cohortBinary = sync.OnceValues(func() (string, error) {
	dir, err := os.MkdirTemp("", "cohort-e2e-*")
	if err != nil {
		return "", err
	}
	bin := filepath.Join(dir, "cohort")
	build := exec.Command("go", "build", "-o", bin, "./cmd/cohort")
	build.Dir = filepath.Join("..", "..")
	if out, err := build.CombinedOutput(); err != nil {
		return "", fmt.Errorf("build cohort: %w\n%s", err, out)
	}
	return bin, nil
})

// logSink collects the daemon's combined output.
type logSink struct {
	sync.Mutex
	b bytes.Buffer
}

func (s *logSink) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	return s.b.Write(p)
}

func (s *logSink) String() string {
	s.Lock()
	defer s.Unlock()
	return s.b.String()
}

// daemon is a cohort server process started from a groups file.
type daemon struct {
	proc   *exec.Cmd
	logs   *logSink
	base   string
	traces string
	done   chan error
}

// launch starts cohort with groupsFile loaded and waits for /healthz.
func launch(t *testing.T) *daemon {
	t.Helper()
	bin, err := cohortBinary()
	if err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	dir := t.TempDir()
	groups := filepath.Join(dir, "groups.yaml")
	if err := os.WriteFile(groups, []byte(groupsFile), 0o644); err != nil {
		t.Fatalf("write groups file: %v", err)
	}

	d := &daemon{
		proc:   exec.Command(bin),
		logs:   &logSink{},
		base:   "http://" + addr,
		traces: filepath.Join(dir, "trace.json"),
		done:   make(chan error, 1),
	}
	d.proc.Env = append(os.Environ(),
		"COHORT_LISTEN_ADDR="+addr,
		"COHORT_LOG_LEVEL=info",
		"COHORT_STEP_MS=20",
		"COHORT_POLL_MS=2",
		"COHORT_GROUPS_FILE="+groups,
		"COHORT_TRACE_FILE="+d.traces,
	)
	d.proc.Stdout, d.proc.Stderr = d.logs, d.logs
	if err := d.proc.Start(); err != nil {
		t.Fatalf("start cohort: %v", err)
	}
	go func() { d.done <- d.proc.Wait() }()
	t.Cleanup(func() {
		d.proc.Process.Kill()
		<-d.done
	})

	for deadline := time.Now().Add(readyTimeout); time.Now().Before(deadline); time.Sleep(50 * time.Millisecond) {
		if resp, err := http.Get(d.base + "/healthz"); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return d
			}
		}
	}
	t.Fatalf("cohort not healthy after %v\n%s", readyTimeout, d.logs)
	return nil
}

// post sends an empty POST to path and decodes the reply into out when set.
func (d *daemon) post(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Post(d.base+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}
