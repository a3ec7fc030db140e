package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CageChen/markkeep/internal/config"
	"github.com/CageChen/markkeep/internal/sock"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var client = &http.Client{
	Timeout:   5 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Root = t.TempDir()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Debounce = 10 * time.Millisecond
	cfg.MaxWait = 50 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startApp runs an App until the test ends
func startApp(t *testing.T, cfg *config.Config) (*App, string) {
	t.Helper()

	a, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})

	return a, "http://" + a.Addr().String()
}

// eventually flushes pending file events until cond holds
func eventually(t *testing.T, a *App, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := a.Flush(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Flush: %v", err)
		}
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestApp_FileLifecycle(t *testing.T) {
	cfg := testConfig(t)
	a, base := startApp(t, cfg)
	url := base + "/frontmatter/file/test.md"
	file := filepath.Join(cfg.Root, "test.md")

	if status, _ := get(t, url); status != http.StatusNotFound {
		t.Fatalf("never created: status = %d", status)
	}

	if err := os.WriteFile(file, []byte("Just call me mark!\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, a, "created file", func() bool {
		status, body := get(t, url)
		return status == http.StatusOK && body == "Just call me mark!\n"
	})

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("I'm a markdown file!\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	eventually(t, a, "appended content", func() bool {
		_, body := get(t, url)
		return body == "Just call me mark!\nI'm a markdown file!\n"
	})

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	eventually(t, a, "removal", func() bool {
		status, _ := get(t, url)
		return status == http.StatusNotFound
	})
}

func TestApp_InitialScan(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.Root, "ready.md"), []byte("---\ntitle: Ready\n---\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, base := startApp(t, cfg)

	status, body := get(t, base+"/frontmatter/file/ready.md")
	if status != http.StatusOK || body != "---\ntitle: Ready\n---\nbody\n" {
		t.Errorf("status = %d, body = %q", status, body)
	}
	if status, body := get(t, base+"/health"); status != http.StatusOK || body != `{"files":1,"status":"ok"}` {
		t.Errorf("health: %d %s", status, body)
	}
}

func TestApp_HealthWithZeroFiles(t *testing.T) {
	_, base := startApp(t, testConfig(t))

	status, body := get(t, base+"/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body != `{"files":0,"status":"ok"}` {
		t.Errorf("body = %s", body)
	}
}

func TestApp_FailsFastOnMissingRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Root = filepath.Join(cfg.Root, "missing")

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected New to fail for a missing root")
	}
}

func TestApp_SocketServer(t *testing.T) {
	dir, err := os.MkdirTemp("", "mk")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := testConfig(t)
	cfg.Socket = filepath.Join(dir, "s.sock")
	if err := os.WriteFile(filepath.Join(cfg.Root, "a.md"), []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, _ := startApp(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := sock.Dial(ctx, cfg.Socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	resp, err := c.Single(sock.SingleRequest{Name: "a.md"})
	if err != nil {
		t.Fatalf("Single: %v", err)
	}
	if resp.File == nil || resp.File.Content != "alpha" {
		t.Errorf("file = %+v", resp.File)
	}

	if err := os.WriteFile(filepath.Join(cfg.Root, "b.md"), []byte("beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, a, "b.md over the socket", func() bool {
		list, err := c.List(sock.ListRequest{})
		return err == nil && list.Total == 2
	})
}

func TestApp_FlushAfterShutdown(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Second)
	defer flushCancel()
	if err := a.Flush(flushCtx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush after shutdown = %v, want an immediate error", err)
	}
}
