// Package s3 stores backup documents as objects in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/unkn0wn-root/udstore/snapshot"
)

var (
	ErrNotFound      = errors.New("s3: backup not found")
	ErrBucketMissing = errors.New("s3: bucket does not exist")
)

const contentType = "application/json"

type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	// Prefix is prepended to object names, e.g. "backups/".
	Prefix string `yaml:"prefix"`
}

type Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Ping checks that the bucket exists.
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketMissing, s.bucket)
	}
	return nil
}

// ObjectName is where a document with the given id is stored.
func (s *Sink) ObjectName(id string) string {
	return s.prefix + id + ".json"
}

// Upload validates doc and stores it, returning the object name.
func (s *Sink) Upload(ctx context.Context, doc []byte) (string, error) {
	d, err := snapshot.Parse(doc)
	if err != nil {
		return "", err
	}
	name := s.ObjectName(d.ID)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"udstore-created": d.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// Download fetches a document by object name or id.
func (s *Sink) Download(ctx context.Context, name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".json") {
		name = s.ObjectName(name)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(name, err)
	}
	return b, nil
}

// List returns the stored object names, oldest id first.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	var out []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if path.Ext(obj.Key) == ".json" {
			out = append(out, obj.Key)
		}
	}
	// v7 uuids sort by creation time
	sort.Strings(out)
	return out, nil
}

func (s *Sink) mapErr(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
