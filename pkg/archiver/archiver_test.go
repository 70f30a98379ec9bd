package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/opentoolbox/pkg/journal"
	"github.com/bturcanu/opentoolbox/pkg/types"
)

type fakeUploader struct {
	bodies map[string][]byte
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.bodies == nil {
		f.bodies = map[string][]byte{}
	}
	f.bodies[key] = body
	return nil
}

func openJournal(t *testing.T) *journal.SQLiteStore {
	t.Helper()
	s, err := journal.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "j.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s journal.Store, eventID, tenant string) *journal.Entry {
	t.Helper()
	e := &journal.Entry{
		EventID: eventID,
		Request: types.ToolCallRequest{
			TenantID: tenant, AgentID: "a", Tool: "searchapi_search",
			Params: json.RawMessage(`{"q":"` + eventID + `"}`), SchemaVersion: types.CurrentSchemaVer,
			RequestedAt: time.Now().UTC(),
		},
		Result: &types.ExecutionResult{Status: types.StatusSuccess, OutputJSON: json.RawMessage(`[]`)},
	}
	require.NoError(t, s.Record(context.Background(), e))
	return e
}

func TestArchiveTenant_UploadsAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := openJournal(t)
	record(t, store, "e1", "acme")
	e2 := record(t, store, "e2", "acme")

	up := &fakeUploader{}
	svc := New(store, up, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }

	key, err := svc.ArchiveTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "journal/acme/2025/03/04/"+e2.Hash+".json", key)

	var b Bundle
	require.NoError(t, json.Unmarshal(up.bodies[key], &b))
	assert.Equal(t, 2, b.EventCount)
	assert.Equal(t, e2.Hash, b.Checkpoint)
	assert.Empty(t, b.PrevHash)
	require.NoError(t, journal.VerifyChain(b.ChainRecords))

	cp, err := store.ArchiveCheckpoint(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, e2.Hash, cp.Hash)
	assert.Equal(t, e2.Seq, cp.Seq)

	key, err = svc.ArchiveTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, key, "nothing new to archive")

	e3 := record(t, store, "e3", "acme")
	key, err = svc.ArchiveTenant(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(up.bodies[key], &b))
	assert.Equal(t, 1, b.EventCount)
	assert.Equal(t, e2.Hash, b.PrevHash)
	assert.Equal(t, e3.Hash, b.Checkpoint)
}

func TestArchiveTenant_UploadFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := openJournal(t)
	record(t, store, "e1", "acme")

	svc := New(store, &fakeUploader{err: errors.New("bucket gone")}, nil)
	_, err := svc.ArchiveTenant(ctx, "acme")
	require.ErrorContains(t, err, "bucket gone")

	cp, err := store.ArchiveCheckpoint(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, cp.Hash)
}

type brokenStore struct {
	Store
	events []journal.ChainEvent
}

func (b brokenStore) ArchiveCheckpoint(context.Context, string) (journal.Checkpoint, error) {
	return journal.Checkpoint{}, nil
}

func (b brokenStore) ChainEntries(context.Context, string, int64) ([]journal.ChainEvent, error) {
	return b.events, nil
}

func TestArchiveTenant_RefusesTamperedChain(t *testing.T) {
	ev := journal.ChainEvent{Seq: 1, EventID: "e1", CanonPayload: []byte(`{}`), Hash: "forged"}
	up := &fakeUploader{}
	_, err := New(brokenStore{events: []journal.ChainEvent{ev}}, up, nil).ArchiveTenant(context.Background(), "acme")
	require.ErrorContains(t, err, "verify")
	assert.Empty(t, up.bodies)
}

func TestArchiveAll(t *testing.T) {
	ctx := context.Background()
	store := openJournal(t)
	record(t, store, "e1", "acme")
	record(t, store, "e2", "globex")

	up := &fakeUploader{}
	keys, err := New(store, up, nil).ArchiveAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	record(t, store, "e3", "globex")
	keys, err = New(store, up, nil).ArchiveAll(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, keys, "only the named tenant is archived")
}

func TestMinioUploader_PutsJSONObject(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	up, err := NewMinioUploader(MinioConfig{
		Endpoint: u.Host, AccessKey: "k", SecretKey: "s", Region: "us-east-1", Bucket: "journal",
	})
	require.NoError(t, err)

	require.NoError(t, up.Upload(context.Background(), "journal/acme/x.json", []byte(`{"a":1}`)))
	assert.Equal(t, "/journal/journal/acme/x.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.True(t, strings.Contains(string(gotBody), `{"a":1}`))
}
