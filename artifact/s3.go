package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cartograph-io/cartograph/graph"
)

// S3API is the slice of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps artifacts at s3://<bucket>/<prefix>/<scan id>/<name>.json.
type S3Store struct {
	Client S3API
	Bucket string
	Prefix string
}

// NewS3Store returns an S3-backed artifact store.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) Write(ctx context.Context, scanID, name string, f *graph.Fragment) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encoding artifact %s/%s: %w", scanID, name, err)
	}
	return s.WriteRaw(ctx, scanID, name, data)
}

func (s *S3Store) WriteRaw(ctx context.Context, scanID, name string, data []byte) (string, error) {
	key := s.key(scanID, name)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading artifact s3://%s/%s: %w", s.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

func (s *S3Store) Read(ctx context.Context, path string) (*graph.Fragment, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, err
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading artifact %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	var f graph.Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	return &f, nil
}

func (s *S3Store) key(scanID, name string) string {
	if s.Prefix == "" {
		return fmt.Sprintf("%s/%s.json", scanID, name)
	}
	return fmt.Sprintf("%s/%s/%s.json", s.Prefix, scanID, name)
}

func parseS3Path(path string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 path: %s", path)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 path: %s", path)
	}
	return bucket, key, nil
}
