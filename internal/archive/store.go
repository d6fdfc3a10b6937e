package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// EntryReader reads a clinic's entries. queue.Store satisfies it.
type EntryReader interface {
	Entries(ctx context.Context, clinicID string, r queue.Range) ([]queue.Entry, error)
}

// Store archives each clinic's closed day to S3 after the daily reset.
type Store struct {
	bucket   string
	s3Client S3API
	entries  EntryReader
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, entries EntryReader, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   bucket,
		s3Client: s3Client,
		entries:  entries,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil && s.entries != nil
}

// AfterReset implements queue.ResetHook: the day that just closed is archived
// for every clinic the reset touched.
func (s *Store) AfterReset(ctx context.Context, res queue.ResetResult) error {
	if !s.Enabled() {
		return nil
	}
	from := res.Boundary.AddDate(0, 0, -1)
	var errs []error
	for _, clinicID := range res.ClinicIDs {
		if _, err := s.ArchiveDay(ctx, clinicID, from, res.Boundary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArchiveDay writes the entries created in [from, to) as one snapshot and
// returns its key. Days without entries are skipped.
func (s *Store) ArchiveDay(ctx context.Context, clinicID string, from, to time.Time) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	entries, err := s.entries.Entries(ctx, clinicID, queue.Range{From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("archive: read entries for %s: %w", clinicID, err)
	}
	if len(entries) == 0 {
		s.logger.Debug("archive: no entries to archive", "clinic_id", clinicID, "date", from.Format(time.DateOnly))
		return "", nil
	}

	snapshot := buildSnapshot(clinicID, from, to, entries, s.now())
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	s3Key := snapshotKey(clinicID, from)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived queue day to S3",
		"clinic_id", clinicID,
		"s3_key", s3Key,
		"entries", snapshot.Totals.Entries,
		"completed", snapshot.Totals.Completed,
	)

	entry := ManifestEntry{
		ClinicID:   clinicID,
		Date:       snapshot.Date,
		S3Key:      s3Key,
		EntryCount: snapshot.Totals.Entries,
		Completed:  snapshot.Totals.Completed,
		ArchivedAt: snapshot.ArchivedAt.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The snapshot is already stored.
		s.logger.Warn("failed to append manifest", "error", err, "clinic_id", clinicID)
	}
	return s3Key, nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	manifestKey := manifestKey(entry.Date, s.now())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func buildSnapshot(clinicID string, from, to time.Time, entries []queue.Entry, now time.Time) DaySnapshot {
	sorted := make([]queue.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].QueueNumber < sorted[j].QueueNumber })

	snapshot := DaySnapshot{
		Version:     snapshotVersion,
		ClinicID:    clinicID,
		Date:        from.Format(time.DateOnly),
		WindowStart: from,
		WindowEnd:   to,
		ArchivedAt:  now,
		Entries:     make([]ArchivedEntry, 0, len(sorted)),
	}

	var waitTotal, waited int
	for _, e := range sorted {
		ae := ArchivedEntry{
			QueueNumber:     e.QueueNumber,
			AppointmentID:   e.AppointmentID,
			PatientHash:     HashID(e.PatientID),
			Status:          string(e.Status),
			CreatedAt:       e.CreatedAt,
			CalledAt:        e.CalledAt,
			CompletedAt:     e.CompletedAt,
			FastTracked:     e.FastTracked,
			FastTrackReason: ScrubPII(e.FastTrackReason),
			DoctorName:      e.DoctorName,
			Room:            e.Room,
		}
		if e.CalledAt != nil {
			ae.WaitSeconds = int(e.CalledAt.Sub(e.CreatedAt).Seconds())
			waitTotal += ae.WaitSeconds
			waited++
		}
		snapshot.Totals.Entries++
		if e.Status == queue.StatusCompleted {
			snapshot.Totals.Completed++
		} else {
			snapshot.Totals.NotCompleted++
		}
		if e.FastTracked {
			snapshot.Totals.FastTracked++
		}
		snapshot.Entries = append(snapshot.Entries, ae)
	}
	if waited > 0 {
		snapshot.Totals.AverageWaitSeconds = waitTotal / waited
	}
	return snapshot
}

func snapshotKey(clinicID string, day time.Time) string {
	return fmt.Sprintf("queue-snapshots/v1/by-date/%d/%02d/%02d/%s.json",
		day.Year(), day.Month(), day.Day(), clinicID)
}

func manifestKey(date string, now time.Time) string {
	month := now.Format("2006-01")
	if len(date) >= 7 {
		month = date[:7]
	}
	return fmt.Sprintf("queue-snapshots/v1/manifests/%s.jsonl", month)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

var _ queue.ResetHook = (*Store)(nil)
