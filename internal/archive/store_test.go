package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte // key -> body
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{
		bucket: *input.Bucket,
		key:    *input.Key,
		body:   body,
	})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &notFoundError{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "NoSuchKey: key not found" }

type fakeEntries struct {
	byClinic map[string][]queue.Entry
	ranges   []queue.Range
	err      error
}

func (f *fakeEntries) Entries(_ context.Context, clinicID string, r queue.Range) ([]queue.Entry, error) {
	f.ranges = append(f.ranges, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.byClinic[clinicID], nil
}

func closedDay() []queue.Entry {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	called1 := day.Add(10 * time.Minute)
	done1 := day.Add(30 * time.Minute)
	called2 := day.Add(40 * time.Minute)
	return []queue.Entry{
		{ID: "e2", ClinicID: "clinic-1", AppointmentID: "appt-2", PatientID: "patient-2", QueueNumber: 2,
			Status: queue.StatusCalled, CreatedAt: day.Add(10 * time.Minute), CalledAt: &called2,
			FastTracked: true, FastTrackReason: "elderly, son on +1 555-123-4567"},
		{ID: "e1", ClinicID: "clinic-1", AppointmentID: "appt-1", PatientID: "patient-1", QueueNumber: 1,
			Status: queue.StatusCompleted, CreatedAt: day, CalledAt: &called1, CompletedAt: &done1},
	}
}

func TestStore_AfterResetArchivesClosedDay(t *testing.T) {
	mock := newMockS3()
	entries := &fakeEntries{byClinic: map[string][]queue.Entry{"clinic-1": closedDay()}}
	store := NewStore(mock, "test-bucket", entries, nil)
	store.now = func() time.Time { return time.Date(2026, 3, 3, 0, 0, 5, 0, time.UTC) }

	boundary := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	err := store.AfterReset(context.Background(), queue.ResetResult{Boundary: boundary, ClinicIDs: []string{"clinic-1", "clinic-empty"}})
	require.NoError(t, err)

	require.Len(t, entries.ranges, 2)
	assert.True(t, entries.ranges[0].From.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, entries.ranges[0].To.Equal(boundary))

	// Snapshot + manifest for clinic-1 only.
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "queue-snapshots/v1/by-date/2026/03/02/clinic-1.json", mock.putCalls[0].key)

	var snapshot DaySnapshot
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &snapshot))
	assert.Equal(t, "2026-03-02", snapshot.Date)
	assert.Equal(t, Totals{Entries: 2, Completed: 1, NotCompleted: 1, FastTracked: 1, AverageWaitSeconds: 1200}, snapshot.Totals)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, 1, snapshot.Entries[0].QueueNumber)
	assert.Equal(t, HashID("patient-1"), snapshot.Entries[0].PatientHash)
	assert.Equal(t, "elderly, son on [PHONE]", snapshot.Entries[1].FastTrackReason)
	assert.NotContains(t, string(mock.putCalls[0].body), "patient-2")

	assert.Equal(t, "queue-snapshots/v1/manifests/2026-03.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "clinic-1", entry.ClinicID)
	assert.Equal(t, 2, entry.EntryCount)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil, nil)
	assert.False(t, store.Enabled())

	err := store.AfterReset(context.Background(), queue.ResetResult{ClinicIDs: []string{"clinic-1"}})
	assert.NoError(t, err) // no-op, no error
}

func TestStore_ReadFailureIsReported(t *testing.T) {
	store := NewStore(newMockS3(), "test-bucket", &fakeEntries{err: errors.New("db down")}, nil)
	err := store.AfterReset(context.Background(), queue.ResetResult{
		Boundary:  time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		ClinicIDs: []string{"clinic-1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clinic-1")
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", &fakeEntries{}, nil)

	entry1 := ManifestEntry{ClinicID: "clinic-1", Date: "2026-03-02"}
	entry2 := ManifestEntry{ClinicID: "clinic-2", Date: "2026-03-02"}

	require.NoError(t, store.AppendManifest(context.Background(), entry1))
	require.NoError(t, store.AppendManifest(context.Background(), entry2))

	// The second append should contain both entries
	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadErrorDoesNotOverwrite(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("AccessDenied")
	store := NewStore(mock, "test-bucket", &fakeEntries{}, nil)

	require.Error(t, store.AppendManifest(context.Background(), ManifestEntry{ClinicID: "clinic-1", Date: "2026-03-02"}))
	assert.Empty(t, mock.putCalls)
}
