package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/updatr/internal/config"
	"github.com/loykin/updatr/internal/controller"
	"github.com/loykin/updatr/internal/gitprobe/gitprobetest"
	"github.com/loykin/updatr/internal/notify"
	itls "github.com/loykin/updatr/internal/tls"
)

func scriptedGit(behind string) *gitprobetest.Runner {
	r := gitprobetest.New()
	r.On(gitprobetest.Response{}, "fetch", "--all", "--prune")
	r.On(gitprobetest.Response{Stdout: "main\n"}, "rev-parse", "--abbrev-ref", "HEAD")
	r.On(gitprobetest.Response{Stdout: "origin/main\n"}, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	r.On(gitprobetest.Response{Stdout: behind + "\n"}, "rev-list", "--count", "HEAD..origin/main")
	r.On(gitprobetest.Response{Stdout: "0\n"}, "rev-list", "--count", "origin/main..HEAD")
	r.On(gitprobetest.Response{}, "status", "--porcelain")
	r.On(gitprobetest.Response{Stdout: "abc123|abc|Ada|ada@example.com|2024-05-01 13:04:05 +0200|fix: things\n"},
		"log", "--pretty=format:%H|%h|%an|%ae|%ad|%s", "--date=iso", "HEAD..origin/main")
	r.On(gitprobetest.Response{}, "status", "--short")
	r.On(gitprobetest.Response{Stdout: "origin\thttps://example.com/dots.git (fetch)\n"}, "remote", "-v")
	return r
}

func newCtl(t *testing.T, behind, setup string) *controller.Controller {
	t.Helper()
	repo := t.TempDir()
	if err := os.Mkdir(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if setup != "" {
		if err := os.WriteFile(filepath.Join(repo, "setup"), []byte(setup), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	s := config.Defaults()
	s.RepoPath = repo
	s.UsePTY = false
	s.AutoRefreshSeconds = 0
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := config.Save(path, s); err != nil {
		t.Fatal(err)
	}
	ctl, err := controller.New(controller.Options{ConfigPath: path, Git: scriptedGit(behind), Notifier: notify.Nop{}})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(func() { _ = ctl.Close() })
	return ctl
}

func setupRouter(t *testing.T, base, behind string) (http.Handler, *controller.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := newCtl(t, behind, "")
	return NewRouter(ctl, base).Handler(), ctl
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse json %q: %v", rec.Body.String(), err)
	}
}

func waitIdle(t *testing.T, ctl *controller.Controller) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for ctl.Busy() != "" {
		if time.Now().After(deadline) {
			t.Fatalf("operation %q still running", ctl.Busy())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStatus(t *testing.T) {
	h, _ := setupRouter(t, "/api/", "2")
	rec := doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st map[string]any
	decode(t, rec, &st)
	if st["behind"] != float64(2) || st["upstream"] != "origin/main" {
		t.Fatalf("unexpected status: %v", st)
	}

	rec = doReq(t, h, http.MethodGet, "/api/status?refresh=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh expected 200, got %d", rec.Code)
	}
}

func TestCommitsAndDetails(t *testing.T) {
	h, _ := setupRouter(t, "", "1")
	rec := doReq(t, h, http.MethodGet, "/commits", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commits expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var commits []map[string]any
	decode(t, rec, &commits)
	if len(commits) != 1 || commits[0]["subject"] != "fix: things" {
		t.Fatalf("unexpected commits: %v", commits)
	}

	rec = doReq(t, h, http.MethodGet, "/details?format=text", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "== git remote -v ==") {
		t.Fatalf("unexpected details: %d %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodGet, "/details", nil)
	var d map[string]any
	decode(t, rec, &d)
	if _, ok := d["sections"]; !ok {
		t.Fatalf("details json lacks sections: %v", d)
	}
}

func TestUpdateWithoutUpdates(t *testing.T) {
	h, _ := setupRouter(t, "", "0")
	rec := doReq(t, h, http.MethodPost, "/update", nil)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInstallAcceptedThenBusy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script installer")
	}
	gin.SetMode(gin.TestMode)
	ctl := newCtl(t, "1", "#!/bin/sh\nsleep 1\necho done\n")
	h := NewRouter(ctl, "").Handler()

	rec := doReq(t, h, http.MethodGet, "/report", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("report before any operation expected 404, got %d", rec.Code)
	}

	rec = doReq(t, h, http.MethodPost, "/install", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("install expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodPost, "/update", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("update while busy expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doReq(t, h, http.MethodPost, "/install", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("install while busy expected 409, got %d", rec.Code)
	}
	waitIdle(t, ctl)

	rec = doReq(t, h, http.MethodGet, "/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report expected 200, got %d", rec.Code)
	}
	var rep map[string]any
	decode(t, rec, &rep)
	if rep["ok"] != true {
		t.Fatalf("install should succeed: %v", rep)
	}
}

func TestConsoleEndpointsWithoutProcess(t *testing.T) {
	h, _ := setupRouter(t, "", "0")
	cases := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, "/input", map[string]string{"text": "y\n"}, http.StatusConflict},
		{http.MethodPost, "/input", map[string]string{"text": ""}, http.StatusBadRequest},
		{http.MethodPost, "/input", nil, http.StatusBadRequest},
		{http.MethodPost, "/interrupt", nil, http.StatusConflict},
		{http.MethodPost, "/resize", map[string]int{"rows": 0, "cols": 80}, http.StatusBadRequest},
		{http.MethodPost, "/resize", map[string]int{"rows": 24, "cols": 80}, http.StatusConflict},
		{http.MethodGet, "/usage", nil, http.StatusConflict},
	}
	for _, c := range cases {
		rec := doReq(t, h, c.method, c.path, c.body)
		if rec.Code != c.want {
			t.Fatalf("%s %s %v: expected %d, got %d: %s", c.method, c.path, c.body, c.want, rec.Code, rec.Body.String())
		}
	}
}

func TestActivityAndHistory(t *testing.T) {
	h, ctl := setupRouter(t, "", "4")
	ctl.Refresh(context.Background())

	rec := doReq(t, h, http.MethodGet, "/activity", nil)
	var entries []map[string]any
	decode(t, rec, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 activity entry, got %v", entries)
	}
	id, _ := entries[0]["id"].(string)
	rec = doReq(t, h, http.MethodGet, "/activity?since="+id, nil)
	decode(t, rec, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected nothing after the last id, got %v", entries)
	}

	rec = doReq(t, h, http.MethodGet, "/history?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history expected 200, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodGet, "/history?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit expected 400, got %d", rec.Code)
	}
}

func TestSettingsAndMetrics(t *testing.T) {
	h, ctl := setupRouter(t, "", "0")
	rec := doReq(t, h, http.MethodGet, "/settings", nil)
	var s map[string]any
	decode(t, rec, &s)
	if s["repo_path"] != ctl.Settings().RepoPath {
		t.Fatalf("unexpected settings: %v", s)
	}
	rec = doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	h, ctl := setupRouter(t, "/api", "3")
	ctl.Refresh(context.Background())
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type: %s", ct)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		ctl.Refresh(context.Background())
	}()
	sc := bufio.NewScanner(resp.Body)
	seen := 0
	for sc.Scan() && seen < 2 {
		line := sc.Text()
		if line == "event:status" {
			seen++
		}
		if strings.HasPrefix(line, "data:") && !strings.Contains(line, `"behind":3`) {
			t.Fatalf("unexpected payload: %s", line)
		}
	}
	if seen < 2 {
		t.Fatalf("expected the initial and a published status, saw %d", seen)
	}
}

func TestEventsStream_FirstEventWithoutPriorProbe(t *testing.T) {
	h, ctl := setupRouter(t, "/api", "2")
	if _, ok := ctl.Status(); ok {
		t.Fatal("controller should not have probed yet")
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events request: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, `"behind":2`) {
				t.Fatalf("unexpected first payload: %s", line)
			}
			return
		}
		if strings.HasPrefix(line, "event:") && line != "event:status" {
			t.Fatalf("first event should be status, got %s", line)
		}
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestNewServerStartClose(t *testing.T) {
	ctl := newCtl(t, "0", "")
	srv, err := NewServer("127.0.0.1:0", "/x", ctl)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	_ = srv.Close()
}

func TestNewServerTLS(t *testing.T) {
	ctl := newCtl(t, "0", "")
	dir := t.TempDir()
	cfg, err := itls.Setup(itls.Options{Dir: dir, AutoGenerate: true})
	if err != nil {
		t.Fatalf("tls setup: %v", err)
	}
	srv, err := NewServerTLS("127.0.0.1:0", "", ctl, cfg)
	if err != nil {
		t.Fatalf("NewServerTLS: %v", err)
	}
	defer func() { _ = srv.Close() }()

	pem, err := os.ReadFile(filepath.Join(dir, itls.CACertFile))
	if err != nil {
		t.Fatal(err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pem)
	hc := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
	}
	resp, err := hc.Get("https://" + srv.Addr + "/settings")
	if err != nil {
		t.Fatalf("https get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestNewServerBindError(t *testing.T) {
	ctl := newCtl(t, "0", "")
	srv, err := NewServer("127.0.0.1:0", "", ctl)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = srv.Close() }()
	if _, err := NewServer(srv.Addr, "", ctl); err == nil {
		t.Fatal("second bind on the same address should fail")
	}
}
