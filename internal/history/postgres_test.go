package history_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hark/internal/history"
	"github.com/MrWong99/hark/internal/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if HARK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HARK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HARK_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a store over a freshly created utterances table.
func newTestStore(t *testing.T) *history.PostgresStore {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS utterances`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	s, err := history.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Microsecond)

	in := history.Entry{
		Epoch:      3,
		Kind:       "recognized",
		Text:       "ask Eldrinax about the Tower of Whispers",
		RawText:    "ask eldrinacks about the tower of wispers",
		Confidence: 0.82,
		Tier:       "high",
		Provider:   "whisper",
		Device:     "USB Mic",
		Audio:      2 * time.Second,
		Latency:    300 * time.Millisecond,
		Started:    start,
		Ended:      start.Add(3 * time.Second),
		Corrections: []transcript.Correction{
			{Original: "eldrinacks", Corrected: "Eldrinax", Confidence: 0.91},
		},
	}
	id, err := s.Append(ctx, in)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, history.Entry{Epoch: 4, Kind: "too_short", Started: start, Ended: start}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Epoch != 4 || recent[1].ID != id {
		t.Fatalf("Recent = %+v", recent)
	}
	got := recent[1]
	if got.Text != in.Text || got.RawText != in.RawText || got.Audio != in.Audio || got.Latency != in.Latency {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Started.Equal(in.Started) {
		t.Errorf("Started = %v, want %v", got.Started, in.Started)
	}
	if len(got.Corrections) != 1 || got.Corrections[0].Corrected != "Eldrinax" {
		t.Errorf("Corrections = %+v", got.Corrections)
	}
	if recent[0].Corrections != nil {
		t.Errorf("empty corrections should scan as nil, got %+v", recent[0].Corrections)
	}

	found, err := s.Search(ctx, "eldrinax", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(found) != 1 || found[0].ID != id {
		t.Errorf("Search = %+v", found)
	}
}
