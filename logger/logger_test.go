package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestLogger initializes the logger against a temp file.
func setupTestLogger(t *testing.T) string {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	logPath := filepath.Join(t.TempDir(), "test.log")
	if err := Init(logPath); err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestGet_StructuredLogging(t *testing.T) {
	logPath := setupTestLogger(t)

	Get().Info("session started", "creator", "alice", "timeout", 600)

	content := readLog(t, logPath)
	for _, want := range []string{"session started", "creator=alice", "timeout=600"} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q, got:\n%s", want, content)
		}
	}
}

func TestInit_Mirror(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "mirror.log")
	if err := Init(logPath, &console); err != nil {
		t.Fatalf("Init: %v", err)
	}

	Get().Info("mirrored line")

	if !strings.Contains(console.String(), "mirrored line") {
		t.Errorf("console should receive the entry, got %q", console.String())
	}
	if !strings.Contains(readLog(t, logPath), "mirrored line") {
		t.Error("file should receive the entry")
	}
}

func TestInit_SecondCallIsNoop(t *testing.T) {
	first := setupTestLogger(t)
	second := filepath.Join(t.TempDir(), "second.log")

	if err := Init(second); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if Path() != first {
		t.Errorf("Path() = %q, want %q", Path(), first)
	}
	if _, err := os.Stat(second); !os.IsNotExist(err) {
		t.Error("second Init should not create a file")
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	logPath := setupTestLogger(t)

	log := Get()
	log.Debug("debug-filtered")
	log.Info("info-visible")

	SetDebug(true)
	log.Debug("debug-visible")
	SetDebug(false)

	content := readLog(t, logPath)
	if strings.Contains(content, "debug-filtered") {
		t.Error("debug message should be filtered at Info level")
	}
	if !strings.Contains(content, "info-visible") {
		t.Error("info message should be visible")
	}
	if !strings.Contains(content, "debug-visible") {
		t.Error("debug message should be visible after SetDebug(true)")
	}
}

func TestWithSessionAndComponent(t *testing.T) {
	logPath := setupTestLogger(t)

	WithSession("1188").Info("reader exited")
	WithComponent("janitor").Info("sweep done", "closed", 2)

	content := readLog(t, logPath)
	for _, want := range []string{"sessionID=1188", "component=janitor", "closed=2"} {
		if !strings.Contains(content, want) {
			t.Errorf("log should contain %q", want)
		}
	}
}

func TestReset(t *testing.T) {
	tmpDir := t.TempDir()
	log1 := filepath.Join(tmpDir, "log1.log")
	log2 := filepath.Join(tmpDir, "log2.log")

	Reset()
	t.Cleanup(Reset)

	if err := Init(log1); err != nil {
		t.Fatal(err)
	}
	Get().Info("message to log1")

	Reset()
	if err := Init(log2); err != nil {
		t.Fatal(err)
	}
	Get().Info("message to log2")

	if c := readLog(t, log1); strings.Contains(c, "message to log2") {
		t.Error("log1 should not contain the second message")
	}
	if c := readLog(t, log2); !strings.Contains(c, "message to log2") {
		t.Error("log2 should contain the second message")
	}
}

func TestLog_Concurrent(t *testing.T) {
	setupTestLogger(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := WithSession("concurrent")
			for j := 0; j < 50; j++ {
				log.Info("tick", "goroutine", n, "iteration", j)
			}
		}(i)
	}
	wg.Wait()
}
