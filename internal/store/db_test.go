package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/blackwell-systems/appmirror/internal/catalog"
)

// newTestStore creates an in-memory store with the schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	return s
}

func testEntry(key string, id int64, products ...string) *catalog.Entry {
	return &catalog.Entry{
		AddonKey:       key,
		MarketplaceID:  id,
		Name:           "App " + key,
		Vendor:         "Example Vendor",
		Products:       products,
		Hosting:        []string{"server"},
		MarketplaceURL: "https://marketplace.example.com/apps/" + key,
		ScrapedAt:      time.Now().UTC(),
	}
}

// TestListAddonKeys_NoSchema_ReturnsErrNotInitialized verifies queries on a
// fresh DB (no CreateSchema) surface the ErrNotInitialized sentinel.
func TestListAddonKeys_NoSchema_ReturnsErrNotInitialized(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	// Do NOT call CreateSchema — simulate uninitialized database.
	_, err = s.ListAddonKeys("")
	if err == nil {
		t.Fatal("ListAddonKeys() should return an error on uninitialized DB")
	}
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ListAddonKeys() error = %v; want errors.Is(err, ErrNotInitialized)", err)
	}
}

// TestErrNotInitialized_ErrorMessage verifies the sentinel points the user at
// the discover command.
func TestErrNotInitialized_ErrorMessage(t *testing.T) {
	if !strings.Contains(ErrNotInitialized.Error(), "appmirror discover") {
		t.Errorf("ErrNotInitialized message %q should mention 'appmirror discover'", ErrNotInitialized.Error())
	}
}

// TestUpsertApp_Idempotent verifies re-upserting the same entry does not
// create duplicates.
func TestUpsertApp_Idempotent(t *testing.T) {
	s := newTestStore(t)

	e := testEntry("com.example.one", 101, "jira")
	for i := 0; i < 3; i++ {
		if err := s.UpsertApp(e); err != nil {
			t.Fatalf("UpsertApp() #%d failed: %v", i, err)
		}
	}

	n, err := s.CountApps()
	if err != nil {
		t.Fatalf("CountApps() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountApps() = %d after 3 identical upserts, want 1", n)
	}
}

// TestUpsertApp_MarketplaceIDWriteOnce verifies the numeric id survives a
// rediscovery that carries a different (or zero) id, while names refresh.
func TestUpsertApp_MarketplaceIDWriteOnce(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertApp(testEntry("com.example.one", 101, "jira")); err != nil {
		t.Fatalf("UpsertApp() failed: %v", err)
	}

	update := testEntry("com.example.one", 999, "jira")
	update.Name = "Renamed App"
	if err := s.UpsertApp(update); err != nil {
		t.Fatalf("UpsertApp() update failed: %v", err)
	}

	got, err := s.GetApp("com.example.one")
	if err != nil {
		t.Fatalf("GetApp() failed: %v", err)
	}
	if got.MarketplaceID != 101 {
		t.Errorf("MarketplaceID = %d after update, want original 101", got.MarketplaceID)
	}
	if got.Name != "Renamed App" {
		t.Errorf("Name = %q, want refreshed %q", got.Name, "Renamed App")
	}
}

// TestUpsertApp_FillsMissingMarketplaceID verifies a zero id gets filled by a
// later discovery that knows it.
func TestUpsertApp_FillsMissingMarketplaceID(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertApp(testEntry("com.example.one", 0, "jira")); err != nil {
		t.Fatalf("UpsertApp() failed: %v", err)
	}
	if err := s.UpsertApp(testEntry("com.example.one", 101, "jira")); err != nil {
		t.Fatalf("UpsertApp() failed: %v", err)
	}

	got, err := s.GetApp("com.example.one")
	if err != nil {
		t.Fatalf("GetApp() failed: %v", err)
	}
	if got.MarketplaceID != 101 {
		t.Errorf("MarketplaceID = %d, want 101 filled in", got.MarketplaceID)
	}
}

// TestUpsertApp_MergesProducts verifies an app discovered under two products
// ends with the union of both.
func TestUpsertApp_MergesProducts(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertApp(testEntry("com.example.one", 101, "jira")); err != nil {
		t.Fatalf("UpsertApp() failed: %v", err)
	}
	if err := s.UpsertApp(testEntry("com.example.one", 101, "confluence")); err != nil {
		t.Fatalf("UpsertApp() failed: %v", err)
	}

	got, err := s.GetApp("com.example.one")
	if err != nil {
		t.Fatalf("GetApp() failed: %v", err)
	}
	if len(got.Products) != 2 || got.Products[0] != "jira" || got.Products[1] != "confluence" {
		t.Errorf("Products = %v, want [jira confluence]", got.Products)
	}
}

// TestListAddonKeys_ProductFilter verifies the product filter matches JSON
// array elements exactly.
func TestListAddonKeys_ProductFilter(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertApps([]*catalog.Entry{
		testEntry("com.example.a", 1, "jira"),
		testEntry("com.example.b", 2, "confluence"),
		testEntry("com.example.c", 3, "jira", "confluence"),
	}); err != nil {
		t.Fatalf("UpsertApps() failed: %v", err)
	}

	keys, err := s.ListAddonKeys("jira")
	if err != nil {
		t.Fatalf("ListAddonKeys() failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "com.example.a" || keys[1] != "com.example.c" {
		t.Errorf("ListAddonKeys(jira) = %v, want [com.example.a com.example.c]", keys)
	}

	all, err := s.ListAddonKeys("")
	if err != nil {
		t.Fatalf("ListAddonKeys() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListAddonKeys(\"\") returned %d keys, want 3", len(all))
	}
}
