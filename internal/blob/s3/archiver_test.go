package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precog-trading/precog/internal/domain"
)

type fakeExits struct {
	domain.ExitStore
	attempts []domain.ExitAttempt
	events   []domain.ExitEvent
	queries  int
}

func (f *fakeExits) AttemptsBetween(_ context.Context, from, to time.Time) ([]domain.ExitAttempt, error) {
	f.queries++
	var out []domain.ExitAttempt
	for _, a := range f.attempts {
		if !a.CompletedAt.Before(from) && a.CompletedAt.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeExits) EventsBetween(_ context.Context, from, to time.Time) ([]domain.ExitEvent, error) {
	f.queries++
	var out []domain.ExitEvent
	for _, e := range f.events {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type auditLog struct {
	events []string
}

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func attemptAt(id string, at time.Time) domain.ExitAttempt {
	return domain.ExitAttempt{ID: id, PositionID: "p1", Outcome: domain.OutcomeFilled, CompletedAt: at, SubmittedAt: at}
}

func lines(t *testing.T, b []byte) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m["id"].(string))
	}
	return out
}

func TestArchiveExitAttempts_MonthlyObjects(t *testing.T) {
	exits := &fakeExits{attempts: []domain.ExitAttempt{
		attemptAt("a1", time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)),
		attemptAt("a2", time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)),
		attemptAt("a3", time.Date(2025, 2, 14, 10, 0, 0, 0, time.UTC)),
		attemptAt("a4", time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)),
	}}
	blobs := newMemBlobs()
	audit := &auditLog{}
	a := NewArchiver(exits, blobs, blobs, audit)

	n, err := a.ArchiveExitAttempts(context.Background(), time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Equal(t, []string{"a1"}, lines(t, blobs.objects["archive/exit_attempts/2025-01.jsonl"]))
	assert.Equal(t, []string{"a2", "a3"}, lines(t, blobs.objects["archive/exit_attempts/2025-02.jsonl"]))
	assert.Equal(t, "application/x-ndjson", blobs.types["archive/exit_attempts/2025-01.jsonl"])
	assert.Equal(t, []string{"archive.exit_attempts", "archive.exit_attempts"}, audit.events)
}

func TestArchiveExitAttempts_FinishedMonthNotRewritten(t *testing.T) {
	exits := &fakeExits{attempts: []domain.ExitAttempt{
		attemptAt("a1", time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)),
		attemptAt("a2", time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)),
	}}
	blobs := newMemBlobs()
	blobs.objects["archive/exit_attempts/2025-01.jsonl"] = []byte("kept\n")
	a := NewArchiver(exits, blobs, blobs, nil)

	n, err := a.ArchiveExitAttempts(context.Background(), time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "kept\n", string(blobs.objects["archive/exit_attempts/2025-01.jsonl"]))
	assert.Equal(t, 1, exits.queries)
}

func TestArchiveExitEvents_PartialMonthRewritten(t *testing.T) {
	exits := &fakeExits{events: []domain.ExitEvent{
		{ID: "e1", PositionID: "p1", Quantity: 5, Price: decimal.RequireFromString("0.55"),
			CreatedAt: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
	}}
	blobs := newMemBlobs()
	a := NewArchiver(exits, blobs, blobs, nil)
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := a.ArchiveExitEvents(context.Background(), cutoff)
	require.NoError(t, err)

	exits.events = append(exits.events, domain.ExitEvent{ID: "e2", PositionID: "p1", Quantity: 5,
		Price: decimal.RequireFromString("0.56"), CreatedAt: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)})
	n, err := a.ArchiveExitEvents(context.Background(), cutoff.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"e1", "e2"}, lines(t, blobs.objects["archive/exit_events/2025-03.jsonl"]))
}

func TestClientKeys(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "archive/exit_events/2025-03.jsonl", "archive/exit_events/2025-03.jsonl"},
		{"prod", "archive/exit_events/2025-03.jsonl", "prod/archive/exit_events/2025-03.jsonl"},
		{"/prod/eu/", "/archive/x.jsonl", "prod/eu/archive/x.jsonl"},
	}
	for _, tc := range tests {
		c := &Client{prefix: normalisePrefix(tc.prefix)}
		assert.Equal(t, tc.want, c.key(tc.path), tc.prefix)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		useSSL   bool
		want     string
	}{
		{"bare host with ssl", "s3.example.com", true, "https://s3.example.com"},
		{"bare host", "minio.local", false, "http://minio.local"},
		{"host and port", "minio:9000", false, "http://minio:9000"},
		{"host and port with ssl", "minio:9000", true, "https://minio:9000"},
		{"scheme kept", "http://minio:9000", true, "http://minio:9000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normaliseEndpoint(tc.endpoint, tc.useSSL))
		})
	}
}
