package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

type fakeUploader struct {
	s3manageriface.UploaderAPI
	keys   []string
	bodies map[string]string
	types  map[string]string
	err    error
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	key := aws.StringValue(in.Key)
	f.keys = append(f.keys, key)
	f.bodies[key] = string(body)
	f.types[key] = aws.StringValue(in.ContentType)
	return &s3manager.UploadOutput{Location: "s3://" + aws.StringValue(in.Bucket) + "/" + key}, nil
}

func newFake() *fakeUploader {
	return &fakeUploader{bodies: map[string]string{}, types: map[string]string{}}
}

func TestRunUploadsSnapshotAndCSV(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "latest.json")
	if err := os.WriteFile(snap, []byte(`{"run_id":"r1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	fu := newFake()
	s := newS3(fu, "bucket", "/chain/")
	s.now = func() time.Time { return time.Date(2026, 10, 19, 16, 5, 9, 0, time.UTC) }

	keys, err := s.Run(context.Background(), snap, []tracker.DataPoint{{Key: "call_08", Type: "call", Cents: 8}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"chain/2026/10/19/latest_160509.json", "chain/2026/10/19/points_160509.csv"}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("keys = %v; want %v", keys, want)
	}
	if fu.bodies[want[0]] != `{"run_id":"r1"}` || fu.types[want[0]] != "application/json" {
		t.Fatalf("snapshot upload = %q (%s)", fu.bodies[want[0]], fu.types[want[0]])
	}
	if !strings.Contains(fu.bodies[want[1]], "call_08") || fu.types[want[1]] != "text/csv" {
		t.Fatalf("csv upload = %q", fu.bodies[want[1]])
	}
}

func TestRunSkipsEmptyParts(t *testing.T) {
	fu := newFake()
	s := newS3(fu, "bucket", "")
	keys, err := s.Run(context.Background(), "", nil)
	if err != nil || len(keys) != 0 || len(fu.keys) != 0 {
		t.Fatalf("Run(empty) = %v, %v", keys, err)
	}
	if got := s.ObjectKey("x.csv", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)); got != "2026/01/02/x.csv" {
		t.Fatalf("ObjectKey() = %s", got)
	}
}

func TestRunReportsUploadError(t *testing.T) {
	fu := newFake()
	fu.err = errors.New("AccessDenied")
	s := newS3(fu, "bucket", "p")
	if _, err := s.Run(context.Background(), "", []tracker.DataPoint{{Key: "put_10"}}); err == nil {
		t.Fatalf("Run() error = nil")
	}
	if _, err := NewS3("", "us-east-1", ""); err == nil {
		t.Fatalf("NewS3(no bucket) error = nil")
	}
}
