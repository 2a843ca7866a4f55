package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeBucket is an in-memory stand-in for a single S3 bucket.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	uploads int
	missing bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: f.meta[aws.ToString(in.Key)]}, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeBucket) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.missing {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.objects[aws.ToString(in.Key)] = data
	f.meta[aws.ToString(in.Key)] = in.Metadata
	return &manager.UploadOutput{Key: in.Key}, nil
}

func newTestS3Vault(prefix string) (*S3Vault, *fakeBucket) {
	bucket := newFakeBucket()
	return NewS3VaultWithClient("offsite", "configs", prefix, bucket, bucket), bucket
}

func TestS3Vault_Keys(t *testing.T) {
	v, _ := newTestS3Vault("ndr")

	if got := v.contentKey("abcdef"); got != "ndr/content/ab/abcdef" {
		t.Errorf("contentKey() = %q", got)
	}
	if got := v.metadataKey("fleet", "db"); got != "ndr/metadata/fleet/db" {
		t.Errorf("metadataKey() = %q", got)
	}

	bare, _ := newTestS3Vault("")
	if got := bare.contentKey("abcdef"); got != "content/ab/abcdef" {
		t.Errorf("contentKey() without prefix = %q", got)
	}
}

func TestS3Vault_Content(t *testing.T) {
	v, bucket := newTestS3Vault("ndr")
	data := "hostname r1\n"

	for i := 0; i < 2; i++ {
		if err := v.PutContent("abcdef", strings.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("PutContent() #%d error = %v", i+1, err)
		}
	}
	if bucket.uploads != 1 {
		t.Errorf("uploads = %d, want 1 for repeated content", bucket.uploads)
	}

	var buf bytes.Buffer
	if err := v.GetContent("abcdef", &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("GetContent() = %q, want %q", buf.String(), data)
	}

	if err := v.GetContent("missing", &buf); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContent() missing error = %v, want ErrNotFound", err)
	}

	if err := v.PutContent("012345", strings.NewReader(data), 1); err == nil {
		t.Error("PutContent() expected size mismatch")
	}
}

func TestS3Vault_Metadata(t *testing.T) {
	v, _ := newTestS3Vault("")

	if got, err := v.GetMetadataVersion("fleet", "db"); err != nil || got != 0 {
		t.Fatalf("GetMetadataVersion() = %d, %v; want 0, nil", got, err)
	}

	data := "sqlite bytes"
	if err := v.PutMetadata("fleet", "db", strings.NewReader(data), int64(len(data)), 42); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	got, err := v.GetMetadataVersion("fleet", "db")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error = %v", err)
	}
	if got != 42 {
		t.Errorf("GetMetadataVersion() = %d, want 42", got)
	}

	var buf bytes.Buffer
	if err := v.GetMetadata("fleet", "db", &buf); err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if buf.String() != data {
		t.Errorf("GetMetadata() = %q, want %q", buf.String(), data)
	}
}

func TestS3Vault_ValidateSetup(t *testing.T) {
	v, bucket := newTestS3Vault("")
	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}

	bucket.missing = true
	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}
