package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"ndr-go/internal/config"
	"ndr-go/internal/ndr"
)

// Environment variables holding static S3 credentials. When unset the
// default AWS credential chain is used.
const (
	S3AccessKeyEnv = "NDR_S3_ACCESS_KEY_ID"
	S3SecretKeyEnv = "NDR_S3_SECRET_ACCESS_KEY"
)

const versionMetaKey = "ndr-version"

// S3API is the subset of the S3 client the vault reads with.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Uploader is the subset of manager.Uploader the vault writes with.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Vault stores blobs in an S3 bucket under an optional prefix, using the
// same layout as FileSystemVault. Metadata versions are kept in object
// user metadata.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   S3API
	uploader Uploader
}

// NewS3Vault builds an S3 vault from config, loading AWS settings from the
// environment. S3Endpoint switches to path-style addressing for
// S3-compatible stores.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if id, secret := os.Getenv(S3AccessKeyEnv), os.Getenv(S3SecretKeyEnv); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(id, secret, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3VaultWithClient(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client, manager.NewUploader(client)), nil
}

// NewS3VaultWithClient wraps existing clients.
func NewS3VaultWithClient(name, bucket, prefix string, client S3API, uploader Uploader) *S3Vault {
	return &S3Vault{name: name, bucket: bucket, prefix: prefix, client: client, uploader: uploader}
}

func (v *S3Vault) contentKey(checksum string) string {
	if len(checksum) < 2 {
		return path.Join(v.prefix, "content", checksum)
	}
	return path.Join(v.prefix, "content", checksum[:2], checksum)
}

func (v *S3Vault) metadataKey(archiveID, name string) string {
	return path.Join(v.prefix, "metadata", archiveID, name)
}

// PutContent uploads content unless an object with the checksum exists.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	ctx := context.Background()
	key := v.contentKey(checksum)

	exists, err := v.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return v.put(ctx, key, r, size, nil)
}

func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	return v.get(context.Background(), v.contentKey(checksum), w, "content "+checksum)
}

func (v *S3Vault) PutMetadata(archiveID string, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionMetaKey: strconv.FormatInt(version, 10)}
	return v.put(context.Background(), v.metadataKey(archiveID, name), r, size, meta)
}

func (v *S3Vault) GetMetadata(archiveID string, name string, w io.Writer) error {
	return v.get(context.Background(), v.metadataKey(archiveID, name), w, fmt.Sprintf("metadata %q for archive %s", name, archiveID))
}

// GetMetadataVersion returns 0 if the object does not exist.
func (v *S3Vault) GetMetadataVersion(archiveID string, name string) (int64, error) {
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.metadataKey(archiveID, name)),
	})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading metadata version: %w", err)
	}

	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func (v *S3Vault) exists(ctx context.Context, key string) (bool, error) {
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

func (v *S3Vault) put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	counter := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     counter,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", key, err)
	}
	if counter.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

func (v *S3Vault) get(ctx context.Context, key string, w io.Writer, what string) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("downloading object %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Vault implements ndr.Vault interface
var _ ndr.Vault = (*S3Vault)(nil)
