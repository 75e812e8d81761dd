package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// clearEnv makes sure no TMATEBOT_ variable from the host leaks into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	s, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", s.ListenAddr)
	}
	if s.Binary != "tmate" || !slices.Equal(s.Args, []string{"-F"}) {
		t.Errorf("Binary/Args = %q %q", s.Binary, s.Args)
	}
	if s.Lines != 16 || s.ChunkSize != 128 {
		t.Errorf("Lines/ChunkSize = %d/%d", s.Lines, s.ChunkSize)
	}
	if s.CloseGrace != 2*time.Second || s.DefaultTimeout != DefaultTimeout || s.MaxTimeout != DefaultMaxTimeout {
		t.Errorf("durations = %s %s %s", s.CloseGrace, s.DefaultTimeout, s.MaxTimeout)
	}
	if s.ReapOrphans {
		t.Error("ReapOrphans should default to false")
	}
	if s.SurfaceRetention != DefaultSurfaceRetention {
		t.Errorf("SurfaceRetention = %s", s.SurfaceRetention)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
listen_addr: ":9000"
allow_list: ["111", "222"]
lines: 20
default_timeout: 1h
max_timeout: 48h
reap_orphans: true
binary: /usr/local/bin/tmate
args: ["-F", "-n", "bot"]
`)

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.ListenAddr != ":9000" || s.Lines != 20 || !s.ReapOrphans {
		t.Errorf("settings = %+v", s)
	}
	if !slices.Equal(s.AllowList, []string{"111", "222"}) {
		t.Errorf("AllowList = %q", s.AllowList)
	}
	if s.DefaultTimeout != time.Hour || s.MaxTimeout != 48*time.Hour {
		t.Errorf("timeouts = %s, %s", s.DefaultTimeout, s.MaxTimeout)
	}
	if s.Binary != "/usr/local/bin/tmate" || !slices.Equal(s.Args, []string{"-F", "-n", "bot"}) {
		t.Errorf("Binary/Args = %q %q", s.Binary, s.Args)
	}
	if s.FilePath() != path {
		t.Errorf("FilePath = %q", s.FilePath())
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "lines: 20\nlisten_addr: \":9000\"\n")
	t.Setenv("TMATEBOT_LINES", "8")
	t.Setenv("TMATEBOT_ALLOW_LIST", "1,2,3")
	t.Setenv("TMATEBOT_CLOSE_GRACE", "5s")

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Lines != 8 {
		t.Errorf("Lines = %d, want env value 8", s.Lines)
	}
	if s.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, file value should survive", s.ListenAddr)
	}
	if !slices.Equal(s.AllowList, []string{"1", "2", "3"}) {
		t.Errorf("AllowList = %q", s.AllowList)
	}
	if s.CloseGrace != 5*time.Second {
		t.Errorf("CloseGrace = %s", s.CloseGrace)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "lines: [", "failed to parse config"},
		{"negative lines", "lines: -1", "lines must be positive"},
		{"max below default", "default_timeout: 2h\nmax_timeout: 1h", "max_timeout"},
		{"bad schedule", "janitor_schedule: sometimes", "invalid janitor_schedule"},
		{"empty allow entry", "allow_list: [\"1\", \" \"]", "empty user id"},
		{"plain password", "password_hash: hunter2", "not a bcrypt hash"},
		{"negative surface retention", "surface_retention: -1h", "surface_retention must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFile(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	s.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"
	s.AllowList = []string{"42"}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PasswordHash != s.PasswordHash || !slices.Equal(reloaded.AllowList, []string{"42"}) {
		t.Errorf("reloaded = %+v", reloaded)
	}
}

func TestSave_NoPath(t *testing.T) {
	if err := (&Settings{}).Save(); err == nil {
		t.Fatal("expected error without a file path")
	}
}
