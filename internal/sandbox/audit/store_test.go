package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/lumen/internal/sandbox"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreReportAndList(t *testing.T) {
	store := openTestStore(t)

	violations := []sandbox.Violation{
		sandbox.NewViolation("org.lumen.clock", sandbox.ViolationFileAccess, "write /etc/shadow"),
		sandbox.NewViolation("org.lumen.clock", sandbox.ViolationNetworkAccess, "connect evil.org:443"),
		sandbox.NewViolation("org.lumen.weather", sandbox.ViolationResourceLimit, "memory ceiling exceeded"),
	}
	for _, v := range violations {
		if err := store.Report(v); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	all, err := store.List(Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d rows, want 3", len(all))
	}

	clock, err := store.List(Query{PluginID: "org.lumen.clock"})
	if err != nil {
		t.Fatalf("List by plugin: %v", err)
	}
	if len(clock) != 2 {
		t.Errorf("plugin filter returned %d rows, want 2", len(clock))
	}

	netOnly, err := store.List(Query{Kind: sandbox.ViolationNetworkAccess.String()})
	if err != nil {
		t.Fatalf("List by kind: %v", err)
	}
	if len(netOnly) != 1 || netOnly[0].Detail != "connect evil.org:443" {
		t.Errorf("kind filter returned %v", netOnly)
	}
}

func TestStoreTimeFilter(t *testing.T) {
	store := openTestStore(t)

	old := sandbox.Violation{
		PluginID:  "a",
		Kind:      sandbox.ViolationOther,
		Detail:    "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	recent := sandbox.NewViolation("a", sandbox.ViolationOther, "recent")

	if err := store.Report(old); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := store.Report(recent); err != nil {
		t.Fatalf("Report: %v", err)
	}

	got, err := store.List(Query{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Detail != "recent" {
		t.Errorf("Since filter returned %v", got)
	}
}

func TestStoreLimitAndOrder(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		v := sandbox.Violation{
			PluginID:  "a",
			Kind:      sandbox.ViolationOther,
			Detail:    string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Report(v); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	got, err := store.List(Query{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit returned %d rows", len(got))
	}
	if got[0].Detail != "e" || got[1].Detail != "d" {
		t.Errorf("expected newest first, got %q then %q", got[0].Detail, got[1].Detail)
	}
}

func TestStoreCountByPlugin(t *testing.T) {
	store := openTestStore(t)

	store.Report(sandbox.NewViolation("a", sandbox.ViolationOther, "x"))
	store.Report(sandbox.NewViolation("a", sandbox.ViolationOther, "y"))
	store.Report(sandbox.NewViolation("b", sandbox.ViolationOther, "z"))

	counts, err := store.CountByPlugin()
	if err != nil {
		t.Fatalf("CountByPlugin: %v", err)
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
