package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		HTTPPort:      0,
		Storage:       config.StorageSQLite,
		SQLiteDSN:     "file:" + filepath.Join(t.TempDir(), "attendance.db"),
		TokenSecret:   "0123456789abcdef0123456789abcdef",
		TokenTTL:      time.Hour,
		CookieHashKey: "0123456789abcdef0123456789abcdef",
		Location:      time.UTC,
		UpcomingDays:  7,
	}
}

func TestOpenStore_MigratesOnce(t *testing.T) {
	var logOutput strings.Builder
	logger := slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := testConfig(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := store.Ping(ctx); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	if got := strings.Count(logOutput.String(), "sqlite storage ready"); got != 2 {
		t.Fatalf("expected two ready messages, got %d in %q", got, logOutput.String())
	}
}

func TestOpenStore_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = "postgres"
	if _, err := openStore(context.Background(), cfg, slog.Default()); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestNewApp_ServesTheAPI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApp(ctx, testConfig(t), logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer app.close(logger)

	server := httptest.NewServer(app.handler)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy store, got %d", resp.StatusCode)
	}

	body := bytes.NewBufferString(`{"email":"ada@example.com","password":"correct horse","name":"Ada"}`)
	resp, err = http.Post(server.URL+"/auth/signup", "application/json", body)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || session.Token == "" {
		t.Fatalf("unexpected signup response %d %+v", resp.StatusCode, session)
	}

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/rooms", strings.NewReader(`{"name":"Studio"}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected room to be created, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/auth/oauth/google")
	if err != nil {
		t.Fatalf("oauth start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected google sign-in to be disabled, got %d", resp.StatusCode)
	}
}
