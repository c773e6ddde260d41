package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimburion/dlqmanager/pkg/api"
	"github.com/nimburion/dlqmanager/pkg/backend"
	"github.com/nimburion/dlqmanager/pkg/config"
	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/remediation"
)

const testConfig = `
backend:
  type: http
  http:
    base_url: http://dlq.invalid
observability:
  log_level: error
`

type stubBackend struct {
	queues    []string
	actionErr error
	failing   map[string]bool
	healthErr error
	calls     int
	closed    bool
}

func (s *stubBackend) ListDeadLetterQueues(context.Context) ([]backend.QueueInfo, error) {
	out := make([]backend.QueueInfo, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, backend.QueueInfo{QueueURL: q, SourceQueues: []string{q + "-src"}, SourceQueueARNs: []string{"arn:" + q}, ApproximateMessages: 4})
	}
	return out, nil
}

func (s *stubBackend) do(status string, urls []string) ([]backend.QueueResult, error) {
	s.calls++
	if s.actionErr != nil {
		return nil, s.actionErr
	}
	out := make([]backend.QueueResult, 0, len(urls))
	for _, u := range urls {
		if s.failing[u] {
			out = append(out, backend.FailureResult(u, errors.New("AccessDenied")))
			continue
		}
		out = append(out, backend.SuccessResult(u, status))
	}
	return out, nil
}

func (s *stubBackend) RedriveQueues(_ context.Context, urls []string) ([]backend.QueueResult, error) {
	return s.do(backend.StatusRedriven, urls)
}

func (s *stubBackend) PurgeQueues(_ context.Context, urls []string) ([]backend.QueueResult, error) {
	return s.do(backend.StatusPurged, urls)
}

func (s *stubBackend) HealthCheck(context.Context) error { return s.healthErr }

func (s *stubBackend) Close() error {
	s.closed = true
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, b *stubBackend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(Options{
		Name:       "dlqmanager",
		ConfigPath: writeConfig(t, testConfig),
		NewBackend: func(config.BackendConfig, logger.Logger) (backend.Backend, error) {
			return b, nil
		},
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand(Options{Name: "dlqmanager"})
	for _, name := range []string{"serve", "list", "redrive", "purge", "console", "healthcheck", "config", "version"} {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub == nil || sub.Name() != name {
			t.Errorf("missing %s command: %v", name, err)
		}
	}
	if show, _, err := cmd.Find([]string{"config", "show"}); err != nil || show.Name() != "show" {
		t.Errorf("missing config show: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, &stubBackend{}, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "Service:    dlqmanager") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestListCommand(t *testing.T) {
	b := &stubBackend{queues: []string{"q1", "q2"}}

	out, err := runCLI(t, b, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "QUEUE") || !strings.Contains(out, "q1") || !strings.Contains(out, "q2-src") {
		t.Errorf("unexpected table:\n%s", out)
	}
	if !b.closed {
		t.Error("backend not closed")
	}

	out, err = runCLI(t, b, "list", "-o", "json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var views []api.QueueView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(views) != 2 || views[1].SourceQueueARN != "arn:q2" {
		t.Errorf("views = %+v", views)
	}
}

func TestListCommand_InvalidOutput(t *testing.T) {
	if _, err := runCLI(t, &stubBackend{}, "list", "-o", "xml"); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestActionCommands(t *testing.T) {
	tests := []struct {
		name      string
		backend   *stubBackend
		args      []string
		wantOut   []string
		wantErr   string
		wantIs    error
		wantCalls int
	}{
		{
			name:      "redrive succeeds",
			backend:   &stubBackend{queues: []string{"q1", "q2"}},
			args:      []string{"redrive", "q1", "q2"},
			wantOut:   []string{"q1: " + backend.StatusRedriven, "q2: " + backend.StatusRedriven},
			wantCalls: 1,
		},
		{
			name:      "duplicate arguments are sent once",
			backend:   &stubBackend{queues: []string{"q1"}},
			args:      []string{"purge", "q1", "q1"},
			wantOut:   []string{"q1: " + backend.StatusPurged},
			wantCalls: 1,
		},
		{
			name:    "unknown queue rejected",
			backend: &stubBackend{queues: []string{"q1"}},
			args:    []string{"purge", "q1", "ghost"},
			wantIs:  remediation.ErrUnknownQueue,
		},
		{
			name:      "force skips listing check",
			backend:   &stubBackend{queues: []string{"q1"}},
			args:      []string{"purge", "--force", "ghost"},
			wantOut:   []string{"ghost: " + backend.StatusPurged},
			wantCalls: 1,
		},
		{
			name:      "partial failure",
			backend:   &stubBackend{queues: []string{"q1", "q2"}, failing: map[string]bool{"q2": true}},
			args:      []string{"redrive", "q1", "q2"},
			wantOut:   []string{"q1: " + backend.StatusRedriven, "q2: AccessDenied"},
			wantErr:   "1 of 2 queues failed",
			wantCalls: 1,
		},
		{
			name:      "transport failure",
			backend:   &stubBackend{queues: []string{"q1"}, actionErr: errors.New("connection reset")},
			args:      []string{"redrive", "q1"},
			wantOut:   []string{remediation.FailedActionMessage},
			wantErr:   "connection reset",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.backend, tt.args...)
			switch {
			case tt.wantIs != nil:
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("err = %v, want %v", err, tt.wantIs)
				}
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			if tt.backend.calls != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", tt.backend.calls, tt.wantCalls)
			}
		})
	}
}

func TestActionCommand_RequiresQueues(t *testing.T) {
	if _, err := runCLI(t, &stubBackend{}, "redrive"); err == nil {
		t.Fatal("expected error without queue arguments")
	}
}

func TestHealthcheckCommand(t *testing.T) {
	out, err := runCLI(t, &stubBackend{}, "healthcheck")
	if err != nil {
		t.Fatalf("healthcheck: %v", err)
	}
	if !strings.Contains(out, `"status": "healthy"`) {
		t.Errorf("unexpected output:\n%s", out)
	}

	if _, err := runCLI(t, &stubBackend{healthErr: errors.New("unreachable")}, "healthcheck"); err == nil {
		t.Fatal("expected failure for unhealthy backend")
	}
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	cfgPath := writeConfig(t, testConfig)
	secrets := "backend:\n  sqs:\n    secret_access_key: s3cr3t\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfgPath), "secrets.yaml"), []byte(secrets), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	show := func(args ...string) string {
		cmd := NewRootCommand(Options{Name: "dlqmanager", ConfigPath: cfgPath})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"config", "show"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("config show: %v", err)
		}
		return out.String()
	}

	out := show()
	if strings.Contains(out, "s3cr3t") || !strings.Contains(out, "***") {
		t.Errorf("secret not redacted:\n%s", out)
	}
	if !strings.Contains(out, "base_url: http://dlq.invalid") {
		t.Errorf("missing regular setting:\n%s", out)
	}
	if out := show("--show-secrets"); !strings.Contains(out, "s3cr3t") {
		t.Errorf("--show-secrets should reveal values:\n%s", out)
	}
}

func TestConfigValidate_ReportsErrors(t *testing.T) {
	cmd := NewRootCommand(Options{Name: "dlqmanager", ConfigPath: writeConfig(t, "backend:\n  type: kafka\n")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"config", "validate"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid backend.type") {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactSettingsMap(t *testing.T) {
	settings := map[string]interface{}{
		"backend": map[string]interface{}{
			"sqs": map[string]interface{}{
				"region":            "eu-west-1",
				"secret_access_key": "abc",
			},
		},
		"audit": "plain",
	}
	secrets := map[string]interface{}{
		"backend": map[string]interface{}{
			"sqs": map[string]interface{}{"secret_access_key": "abc"},
		},
		"audit": map[string]interface{}{"table": "t"},
	}

	got := redactSettingsMap(settings, secrets)
	sqs := got["backend"].(map[string]interface{})["sqs"].(map[string]interface{})
	if sqs["secret_access_key"] != "***" {
		t.Errorf("secret_access_key = %v", sqs["secret_access_key"])
	}
	if sqs["region"] != "eu-west-1" {
		t.Errorf("region = %v", sqs["region"])
	}
	if got["audit"] != "***" {
		t.Errorf("scalar shadowed by secret map should be masked, got %v", got["audit"])
	}
}

func TestResolveEnvPrefix(t *testing.T) {
	tests := map[string]string{"": "DLQ", "  ": "DLQ", "ops": "OPS", "DLQ": "DLQ"}
	for in, want := range tests {
		if got := resolveEnvPrefix(in); got != want {
			t.Errorf("resolveEnvPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
