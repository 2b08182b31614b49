package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestTranscriptWriter_DirDisabled(t *testing.T) {
	if w := (TranscriptConfig{}).Writer("update"); w != nil {
		t.Fatalf("expected nil writer without Dir")
	}
}

func TestTranscriptWriter_CreatesFileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	w := TranscriptConfig{Dir: dir}.Writer("update")
	if w == nil {
		t.Fatal("expected writer")
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	b, err := os.ReadFile(filepath.Join(dir, "update.log"))
	if err != nil {
		t.Fatalf("transcript not created: %v", err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("content: %q", b)
	}
	l := w.(*lj.Logger)
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
}

func TestTranscriptWriter_Overrides(t *testing.T) {
	w := TranscriptConfig{Dir: t.TempDir(), MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.Writer("x")
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 2 || !l.Compress {
		t.Fatalf("overrides not applied: %+v", l)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorTextHandler_PrefixesLevelAndKeepsAttrs(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).With("repo", "/r")
	l.Warn("fetch failed", "error", "offline")
	out := buf.String()
	if !strings.Contains(out, "\x1b[33mWARN\x1b[0m  fetch failed") {
		t.Fatalf("missing colored level: %q", out)
	}
	if !strings.Contains(out, "repo=/r") || !strings.Contains(out, "error=offline") {
		t.Fatalf("attrs lost: %q", out)
	}
	if strings.Contains(out, `\x1b`) || strings.Contains(out, "msg=") || strings.Contains(out, "level=") {
		t.Fatalf("level or message rendered as a quoted attr: %q", out)
	}
	if strings.Count(out, "\n") != 1 || !strings.HasPrefix(out, "\x1b[33mWARN") {
		t.Fatalf("expected one line starting with the level: %q", out)
	}
}

func TestColorTextHandler_PlainWithoutColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil)).WithGroup("git")
	l.Info("probe done", "behind", 3)
	l.Debug("filtered")
	out := buf.String()
	if !strings.HasPrefix(out, "INFO  probe done  time=") {
		t.Fatalf("unexpected line: %q", out)
	}
	if !strings.Contains(out, "git.behind=3") || strings.Contains(out, "filtered") {
		t.Fatalf("unexpected attrs: %q", out)
	}
}

func TestSetupRespectsLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup("warn", &buf)
	slog.Info("hidden")
	slog.Error("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filter not applied: %q", buf.String())
	}
}
