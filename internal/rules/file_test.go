package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/event"
)

func TestParseYAML_EnabledDefaultsToTrue(t *testing.T) {
	doc := `
rules:
  - name: migration
    patterns: ["migrate.*", "glob:*schema*"]
    worker_type: general
    priority: 4
  - name: perf
    patterns: ["benchmark"]
    worker_type: review
    priority: 2
    enabled: false
    constraints: ["Report numbers"]
`
	rules, err := ParseYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if !rules[0].Enabled {
		t.Error("omitted enabled should default to true")
	}
	if rules[1].Enabled {
		t.Error("explicit enabled: false was ignored")
	}
	if rules[1].Constraints[0] != "Report numbers" {
		t.Errorf("Constraints = %v", rules[1].Constraints)
	}
}

func TestSaveAndLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.yaml")

	reg := NewDefaultRegistry()
	if err := reg.Disable("review"); err != nil {
		t.Fatal(err)
	}
	if err := SaveRegistry(path, reg); err != nil {
		t.Fatalf("SaveRegistry() error = %v", err)
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	got := loaded.List()
	want := reg.List()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].Enabled != want[i].Enabled || got[i].Priority != want[i].Priority {
			t.Errorf("rule %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, temp files were left behind", len(entries))
	}
}

func TestLoadRegistry_MissingFileUsesDefaults(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	if reg.Len() != len(DefaultRules()) {
		t.Errorf("Len() = %d, want %d", reg.Len(), len(DefaultRules()))
	}
}

func TestLoadRegistry_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [ {name: x, patterns: ['glob:['] } ]"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Error("LoadRegistry() should reject a rule with a malformed glob")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := SaveFile(path, DefaultRules()); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus(nil)
	reloaded := make(chan event.RulesReloadedEvent, 4)
	bus.Subscribe(event.TypeRulesReloaded, func(e event.Event) {
		reloaded <- e.(event.RulesReloadedEvent)
	})

	w, err := NewWatcher(path, reg, bus, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer func() { _ = w.Close() }()

	if err := SaveFile(path, []Rule{{Name: "only", Patterns: []string{"x"}, Enabled: true}}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-reloaded:
		if ev.Err != nil {
			t.Fatalf("reload error = %v", ev.Err)
		}
		if ev.Count != 1 {
			t.Errorf("Count = %d, want 1", ev.Count)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if _, ok := reg.Get("only"); !ok {
		t.Error("registry was not updated by the reload")
	}
}

func TestWatcher_RejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	reg := NewDefaultRegistry()
	if err := os.WriteFile(path, []byte("rules: [ {name: '', patterns: []} ]"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, reg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Close() }()

	version := reg.Version()
	w.Reload()
	if reg.Version() != version || reg.Len() != len(DefaultRules()) {
		t.Error("a rejected reload must leave the registry unchanged")
	}
}
