package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/labtrend/labtrend/internal/config"
	"github.com/labtrend/labtrend/internal/domain/labresult"
	"github.com/labtrend/labtrend/internal/platform/auth"
	"github.com/labtrend/labtrend/internal/platform/telemetry"
)

func testApp(cfg *config.Config) *app {
	return &app{
		cfg:    cfg,
		logger: zerolog.Nop(),
		engine: labresult.NewEngine(labresult.Options{}),
	}
}

func testServer(cfg *config.Config) (http.Handler, *labresult.Service) {
	a := testApp(cfg)
	svc := labresult.NewService(labresult.NewMemoryRepo(), a.engine, a.logger)
	return newServer(a, svc, telemetry.NewMetrics()), svc
}

const sampleCSV = "检测指标,报告日期,结果,状态,参考范围,单位\n" +
	"白细胞,2025-08-08,10.1,,3.5~9.5,10^9/L\n" +
	"WBC,2025/8/8,,高,,\n"

func TestWritePayload_Formats(t *testing.T) {
	p := labresult.NewEngine(labresult.Options{}).Reconcile(nil)

	for _, format := range []string{"", formatJSON, formatPivot, formatFlags, formatRanges} {
		var buf bytes.Buffer
		if err := writePayload(&buf, p, format); err != nil {
			t.Errorf("format %q: unexpected error: %v", format, err)
		}
		if buf.Len() == 0 {
			t.Errorf("format %q: expected output", format)
		}
	}

	if err := writePayload(&bytes.Buffer{}, p, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestReconcileFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cbc.csv")
	if err := os.WriteFile(good, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}

	a := testApp(&config.Config{})
	p, report, err := reconcileFiles(context.Background(), a, []string{good, filepath.Join(dir, "missing.csv")}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Files != 1 || len(report.SkippedFiles) != 1 {
		t.Errorf("expected 1 file and 1 skipped, got %+v", report)
	}
	s, ok := p.Indicators["白细胞计数"]
	if !ok || len(s.Series) != 1 {
		t.Fatalf("expected one 白细胞计数 observation, got %+v", p.Indicators)
	}
	if s.Series[0].Flag == nil || *s.Series[0].Flag != "↑" {
		t.Errorf("expected flag ↑, got %v", s.Series[0].Flag)
	}

	if _, _, err := reconcileFiles(context.Background(), a, []string{filepath.Join(dir, "missing.csv")}, false); err == nil {
		t.Error("expected error without keep-going")
	}
}

func TestCheckLoadable_ExportedPayloadReloads(t *testing.T) {
	csv := sampleCSV + "白细胞,术后复查,8.2,,3.5~9.5,10^9/L\n"
	a := testApp(&config.Config{})
	var logs bytes.Buffer
	a.logger = zerolog.New(&logs)

	svc := labresult.NewService(labresult.NewMemoryRepo(), a.engine, a.logger)
	path := filepath.Join(t.TempDir(), "cbc.csv")
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ImportFiles(context.Background(), []string{path}, false); err != nil {
		t.Fatalf("import: %v", err)
	}
	p, err := svc.Payload(context.Background())
	if err != nil {
		t.Fatalf("payload: %v", err)
	}

	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	reloaded, err := labresult.DecodePayload(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := a.checkLoadable("data.json", reloaded); err != nil {
		t.Fatalf("expected exported payload to be loadable, got %v", err)
	}
	if !strings.Contains(logs.String(), "术后复查") {
		t.Errorf("expected a warning naming the verbatim date, got %q", logs.String())
	}

	reloaded.Indicators["白细胞计数"].Series[0].Flag = new(string)
	*reloaded.Indicators["白细胞计数"].Series[0].Flag = "H"
	if err := a.checkLoadable("data.json", reloaded); err == nil {
		t.Error("expected an unknown flag to be rejected")
	}
}

func TestWithOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	p := labresult.NewPayload()
	if err := withOutput(path, func(w io.Writer) error { return p.Encode(w) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := readPayloadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Dates) != 0 || len(got.Indicators) != 0 {
		t.Errorf("expected empty payload, got %+v", got)
	}
}

func TestServer_Routes(t *testing.T) {
	h, _ := testServer(&config.Config{MaxUpload: "1M"})

	for _, path := range []string{"/health", "/metrics", "/api/data", "/api/indicators"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Errorf("GET %s: expected a request id", path)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(sampleCSV))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_BodyLimit(t *testing.T) {
	h, _ := testServer(&config.Config{MaxUpload: "16"})
	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(sampleCSV))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func signedToken(t *testing.T, key []byte, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestServer_Auth(t *testing.T) {
	key := "test-signing-key"
	h, _ := testServer(&config.Config{MaxUpload: "1M", AuthSigningKey: key})

	tests := []struct {
		name   string
		token  string
		method string
		path   string
		want   int
	}{
		{"no token", "", http.MethodGet, "/api/data", http.StatusUnauthorized},
		{"viewer reads", signedToken(t, []byte(key), auth.RoleViewer), http.MethodGet, "/api/data", http.StatusOK},
		{"viewer cannot import", signedToken(t, []byte(key), auth.RoleViewer), http.MethodPost, "/api/import", http.StatusForbidden},
		{"wrong key", signedToken(t, []byte("other"), auth.RoleAdmin), http.MethodGet, "/api/data", http.StatusUnauthorized},
		{"health stays open", "", http.MethodGet, "/health", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *strings.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader(sampleCSV)
			} else {
				body = strings.NewReader("")
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
