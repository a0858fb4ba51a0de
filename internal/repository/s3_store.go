package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/iconidentify/tubeconv/internal/config"
	"github.com/iconidentify/tubeconv/internal/domain"
)

// S3Store implements ArtifactStore in an S3 bucket.
// References are object names relative to the configured prefix.
type S3Store struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string

	mu      sync.Mutex
	pending map[string]bool // refs being uploaded
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return newS3Store(s3.New(sess), s3manager.NewUploader(sess), cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client s3iface.S3API, uploader s3manageriface.UploaderAPI, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		pending:  make(map[string]bool),
	}
}

func (s *S3Store) key(ref string) string {
	return path.Join(s.prefix, ref)
}

// Save uploads localPath under an unused object name and removes the local
// copy. Taken names get a -n suffix, as in the filesystem store.
func (s *S3Store) Save(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	ref, err := s.reserve(ctx, filepath.Base(localPath))
	if err != nil {
		return "", err
	}
	defer s.release(ref)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		Body:        file,
		ContentType: aws.String(contentTypeFor(ref)),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}

	file.Close()
	os.Remove(localPath)
	return ref, nil
}

// reserve picks the first ref that is neither uploading nor in the bucket.
func (s *S3Store) reserve(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; ; n++ {
		ref := name
		if n > 0 {
			ref = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		if s.pending[ref] {
			continue
		}
		taken, err := s.exists(ctx, ref)
		if err != nil {
			return "", err
		}
		if !taken {
			s.pending[ref] = true
			return ref, nil
		}
	}
}

func (s *S3Store) release(ref string) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

func (s *S3Store) exists(ctx context.Context, ref string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("check artifact name: %w", err)
}

func isNotFound(err error) bool {
	var rf awserr.RequestFailure
	if errors.As(err, &rf) && rf.StatusCode() == 404 {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// Open streams the object body.
func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	if ref == "" || strings.Contains(ref, "/") {
		return nil, 0, domain.ErrArtifactNotFound
	}

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, domain.ErrArtifactNotFound
		}
		return nil, 0, fmt.Errorf("get artifact: %w", err)
	}
	return out.Body, aws.Int64Value(out.ContentLength), nil
}

// Delete removes the object. S3 deletes of missing keys succeed.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func contentTypeFor(name string) string {
	return (&domain.Artifact{Filename: name}).ContentType()
}
