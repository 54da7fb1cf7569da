package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/config"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/report"
)

const austinTask = `{
  "id": "task-1",
  "source_id": "img-1",
  "tenant_id": "acme",
  "masks": [
    {"coordinates": [[-97.74, 30.27], [-97.7398, 30.27], [-97.7398, 30.2702], [-97.74, 30.2702], [-97.74, 30.27]],
     "confidence": 0.93, "feature_type": "mulch"}
  ]
}`

func TestReadTasks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "single object", input: austinTask, want: []string{"task-1"}},
		{name: "array", input: `[{"id": "a"}, {"id": "b", "masks": []}]`, want: []string{"a", "b"}},
		{name: "leading whitespace", input: "\n  [{\"id\": \"a\"}]", want: []string{"a"}},
		{name: "empty", input: "   ", wantErr: true},
		{name: "malformed", input: `{"id": `, wantErr: true},
		{name: "wrong shape", input: `[1, 2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := readTasks(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d tasks", len(tasks))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(tasks) != len(tt.want) {
				t.Fatalf("got %d tasks, want %d", len(tasks), len(tt.want))
			}
			for i, id := range tt.want {
				if tasks[i].ID != id {
					t.Errorf("task %d ID = %q, want %q", i, tasks[i].ID, id)
				}
			}
		})
	}
}

func TestReadTasksDecodesMasks(t *testing.T) {
	tasks, err := readTasks(strings.NewReader(austinTask))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := tasks[0].Masks
	if len(m) != 1 || len(m[0].Coordinates) != 5 || m[0].Confidence != 0.93 || m[0].FeatureType != "mulch" {
		t.Errorf("masks = %+v", m)
	}
	if tasks[0].SourceID != "img-1" || tasks[0].TenantID != "acme" {
		t.Errorf("task = %+v", tasks[0])
	}
}

// run executes the root command with an isolated HOME and working directory.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	return execute(t, stdin, args...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProcessThenReport(t *testing.T) {
	db := filepath.Join(t.TempDir(), "landscape.db")

	out, err := run(t, austinTask, "process", "--db", db, "--json")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	var reports []report.Report
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("process output is not JSON: %v\n%s", err, out)
	}
	if len(reports) != 1 || reports[0].Status != "success" || len(reports[0].Features) != 1 {
		t.Fatalf("reports = %+v", reports)
	}
	if reports[0].TotalCost <= 0 {
		t.Errorf("TotalCost = %v, want > 0", reports[0].TotalCost)
	}

	out, err = run(t, "", "report", "--db", db, "--task", "task-1", "--tenant", "acme", "--json")
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	var stored report.Report
	if err := json.Unmarshal([]byte(out), &stored); err != nil {
		t.Fatalf("report output is not JSON: %v\n%s", err, out)
	}
	if stored.Status != "success" || stored.TotalCost != reports[0].TotalCost {
		t.Errorf("stored report = %+v, want total %v", stored, reports[0].TotalCost)
	}
}

func TestReportUnknownTask(t *testing.T) {
	db := filepath.Join(t.TempDir(), "landscape.db")
	if _, err := run(t, "", "report", "--db", db, "--task", "missing"); err == nil {
		t.Fatal("expected error for a task without features")
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if _, err := run(t, "", "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if _, err := run(t, "", "config", "init", "--config", path); err == nil {
		t.Error("expected error when config exists without --force")
	}
	if _, err := run(t, "", "config", "init", "--config", path, "--force"); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}
}

func TestConfigShow_LayersProjectOverGlobal(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	writeFile := func(path, content string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(filepath.Join(home, config.DirName, "config.json"), `{"workers": 2, "max_retries": 5}`)
	writeFile(config.ProjectPath(), `{"workers": 7}`)

	out, err := execute(t, "", "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("config show output is not JSON: %v\n%s", err, out)
	}
	if cfg.Workers != 7 {
		t.Errorf("Workers = %d, want project value 7", cfg.Workers)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want global value 5", cfg.MaxRetries)
	}
}
