// Package archive uploads snapshot files and CSV exports to S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

// S3 writes objects under bucket/prefix/YYYY/MM/DD/.
type S3 struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	now      func() time.Time
}

// NewS3 builds an uploader from the default credential chain.
func NewS3(bucket, region, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: aws session: %w", err)
	}
	return newS3(s3manager.NewUploader(sess), bucket, prefix), nil
}

func newS3(u s3manageriface.UploaderAPI, bucket, prefix string) *S3 {
	return &S3{uploader: u, bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// ObjectKey returns the key name is stored under at t.
func (s *S3) ObjectKey(name string, t time.Time) string {
	return path.Join(s.prefix, t.UTC().Format("2006/01/02"), name)
}

// Upload puts body at key and returns the object location.
func (s *S3) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return out.Location, nil
}

// Run uploads the snapshot at snapshotPath and a CSV of points. Either part
// is skipped when empty.
func (s *S3) Run(ctx context.Context, snapshotPath string, points []tracker.DataPoint) ([]string, error) {
	now := s.now()
	stamp := now.UTC().Format("150405")
	var keys []string

	if snapshotPath != "" {
		data, err := os.ReadFile(snapshotPath)
		if err != nil {
			return keys, fmt.Errorf("archive: read snapshot: %w", err)
		}
		base := strings.TrimSuffix(filepath.Base(snapshotPath), ".json")
		key := s.ObjectKey(base+"_"+stamp+".json", now)
		if _, err := s.Upload(ctx, key, data, "application/json"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	if len(points) > 0 {
		var buf bytes.Buffer
		if err := store.ExportCSV(&buf, points); err != nil {
			return keys, err
		}
		key := s.ObjectKey("points_"+stamp+".csv", now)
		if _, err := s.Upload(ctx, key, buf.Bytes(), "text/csv"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	slog.Info("archive uploaded", "bucket", s.bucket, "objects", len(keys))
	return keys, nil
}
