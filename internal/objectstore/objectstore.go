// Package objectstore implements the off-box backup storage backend, an
// S3-compatible object store accessed via aws-sdk-go-v2.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Object describes one stored archive.
type Object struct {
	Key          string
	SizeBytes    int64
	LastModified int64 // unix seconds
	Metadata     map[string]string
}

// Store is the minimal object-store surface the backup orchestrator needs.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from the default AWS credential chain (environment,
// shared config, EC2/ECS IMDS), overridable per the usual SDK precedence.
func New(ctx context.Context, bucket string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Put uploads body under key with the given metadata.
func (s *Store) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("uploading object %q: %w", key, err)
	}
	return nil
}

// Get downloads the full body of key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading object %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q body: %w", key, err)
	}
	return data, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object %q: %w", key, err)
	}
	return nil
}

// List returns every object under prefix, sorted newest-first.
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, objectFromS3(obj))
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified > objects[j].LastModified
	})

	return objects, nil
}

func objectFromS3(obj types.Object) Object {
	o := Object{Key: aws.ToString(obj.Key)}
	if obj.Size != nil {
		o.SizeBytes = *obj.Size
	}
	if obj.LastModified != nil {
		o.LastModified = obj.LastModified.Unix()
	}
	return o
}
