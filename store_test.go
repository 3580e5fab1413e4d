package forge_test

import (
	"context"
	"slices"
	"testing"

	forge "github.com/a2y-d5l/release-forge"
)

func TestStore_AppendBuildIndex(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		ids     []string
		buildID string
		limit   int
		want    []string
	}{
		{name: "append to empty", ids: nil, buildID: "a", limit: 3, want: []string{"a"}},
		{name: "append newest last", ids: []string{"a"}, buildID: "b", limit: 3, want: []string{"a", "b"}},
		{name: "dedupe moves to end", ids: []string{"a", "b"}, buildID: "a", limit: 3, want: []string{"b", "a"}},
		{name: "trim oldest", ids: []string{"a", "b", "c"}, buildID: "d", limit: 3, want: []string{"b", "c", "d"}},
		{name: "no limit", ids: []string{"a", "b"}, buildID: "c", limit: 0, want: []string{"a", "b", "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := forge.AppendBuildIndexForTest(tc.ids, tc.buildID, tc.limit)
			if !slices.Equal(got, tc.want) {
				t.Fatalf("index mismatch: got %v want %v", got, tc.want)
			}
		})
	}
}

func TestStore_PutGetListRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, cleanup, err := forge.StartStoreForTest(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("start store: %v", err)
	}
	defer cleanup()

	cfg := forge.DefaultBuildConfigForTest()
	cfg.Revision = "abc123"
	first := forge.NewBuildRecordForTest("build-1", cfg)
	if err := store.PutBuild(ctx, first); err != nil {
		t.Fatalf("put first build: %v", err)
	}

	cfg.Revision = "def456"
	cfg.FIPS = true
	second := forge.NewBuildRecordForTest("build-2", cfg)
	second.Status = "done"
	second.ImageTag = "local/kv-server:def456"
	if err := store.PutBuild(ctx, second); err != nil {
		t.Fatalf("put second build: %v", err)
	}

	got, err := store.GetBuild(ctx, "build-2")
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if got.Revision != "def456" || !got.FIPS || got.ImageTag != "local/kv-server:def456" {
		t.Fatalf("record roundtrip mismatch: %+v", got)
	}

	records, err := store.ListBuilds(ctx, 10)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count mismatch: %d", len(records))
	}
	// Newest first.
	if records[0].ID != "build-2" || records[1].ID != "build-1" {
		t.Fatalf("list order mismatch: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestStore_UpdateKeepsSingleIndexEntry(t *testing.T) {
	ctx := context.Background()
	store, cleanup, err := forge.StartStoreForTest(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("start store: %v", err)
	}
	defer cleanup()

	cfg := forge.DefaultBuildConfigForTest()
	cfg.Revision = "abc123"
	rec := forge.NewBuildRecordForTest("build-1", cfg)
	if err := store.PutBuild(ctx, rec); err != nil {
		t.Fatalf("put build: %v", err)
	}
	rec.Status = "done"
	if err := store.PutBuild(ctx, rec); err != nil {
		t.Fatalf("update build: %v", err)
	}

	records, err := store.ListBuilds(ctx, 10)
	if err != nil {
		t.Fatalf("list builds: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("updated build indexed twice: %d records", len(records))
	}
	if records[0].Status != "done" {
		t.Fatalf("status not updated: %q", records[0].Status)
	}
}
