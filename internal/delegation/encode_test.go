package delegation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/rules"
)

func sampleSynthesis() Synthesis {
	return Aggregate(Session{
		ID:        "abc",
		State:     SessionIntegrating,
		StartedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Queue: []DelegationTask{
			task("a", 0, rules.WorkerExplore, TaskDone, 22000, "ok"),
			task("b", 1, rules.WorkerTest, TaskFailed, 13000, ""),
		},
	})
}

func TestSynthesisJSONSchema(t *testing.T) {
	syn := sampleSynthesis()
	data, err := syn.Encode(FormatJSON)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"session_id", "summaries", "keep_local", "total_estimated_savings",
		"completed_count", "failed_count", "skipped_count", "aborted_count",
		"keep_local_count", "savings_by_worker_type", "aborted",
	} {
		if _, ok := raw[key]; !ok {
			t.Errorf("JSON is missing key %q", key)
		}
	}
	if raw["total_estimated_savings"] != float64(22000) {
		t.Errorf("total_estimated_savings = %v", raw["total_estimated_savings"])
	}
}

func TestSynthesisWriteFile(t *testing.T) {
	syn := sampleSynthesis()
	dir := filepath.Join(t.TempDir(), "out")

	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, syn.FileName(format))
			if err := syn.WriteFile(path, format); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file left behind")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeSynthesis(data, format)
			if err != nil {
				t.Fatalf("DecodeSynthesis() error = %v", err)
			}
			if got.SessionID != "abc" || got.CompletedCount != 1 || got.FailedCount != 1 {
				t.Errorf("decoded = %+v", got)
			}
			if len(got.Summaries) != 2 || got.Summaries[0].State != TaskDone {
				t.Errorf("decoded summaries = %+v", got.Summaries)
			}
		})
	}

	if syn.FileName("") != "synthesis-abc.json" {
		t.Errorf("FileName(\"\") = %q", syn.FileName(""))
	}
}

func TestSynthesisEncode_UnknownFormat(t *testing.T) {
	syn := sampleSynthesis()
	if _, err := syn.Encode("xml"); err == nil {
		t.Error("Encode(xml) should fail")
	}
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantFeature string
		wantIDs     []string
	}{
		{
			name: "mapping with feature",
			input: `
feature: Login
tasks:
  - id: explore
    description: Explore the auth module
  - description: Write unit tests
    done: true
`,
			wantFeature: "Login",
			wantIDs:     []string{"explore", "task-2"},
		},
		{
			name:    "bare JSON list",
			input:   `[{"description":"a"},{"id":"b","description":"b"}]`,
			wantIDs: []string{"task-1", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := ParseUnits([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseUnits() error = %v", err)
			}
			if src.Feature != tt.wantFeature {
				t.Errorf("Feature = %q, want %q", src.Feature, tt.wantFeature)
			}
			if len(src.Units) != len(tt.wantIDs) {
				t.Fatalf("len(Units) = %d, want %d", len(src.Units), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if src.Units[i].ID != id {
					t.Errorf("Units[%d].ID = %q, want %q", i, src.Units[i].ID, id)
				}
			}
		})
	}

	if _, err := ParseUnits([]byte("just: [broken")); err == nil {
		t.Error("ParseUnits() should reject malformed input")
	}
}

func TestLoadUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	if err := os.WriteFile(path, []byte("- explore things\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadUnits(path); err == nil {
		t.Error("LoadUnits() should reject a list of plain strings")
	}

	if _, err := LoadUnits(filepath.Join(dir, "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("LoadUnits(missing) error = %v, want not-exist", err)
	}
}
