// Package snapshotstore archives provisioned VM snapshots (disk + memory
// images) to S3, so a fresh host can warm its pools from a shared archive
// instead of re-provisioning dependencies from scratch.
package snapshotstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store archives and retrieves snapshot artifacts under one bucket,
// prefixed by profile_key.
type Store struct {
	client *s3.Client
	bucket string
}

// Open loads the default AWS credential chain (environment, shared config,
// IAM role) and returns a Store bound to bucket.
func Open(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("snapshot bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func diskKey(profileKey string) string { return profileKey + "/disk.img" }
func memKey(profileKey string) string  { return profileKey + "/mem.img" }

// PutSnapshot uploads both the disk and memory images for profileKey.
func (s *Store) PutSnapshot(ctx context.Context, profileKey string, disk, mem []byte) error {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(diskKey(profileKey)),
		Body:   bytes.NewReader(disk),
	}); err != nil {
		return fmt.Errorf("upload disk snapshot for %s: %w", profileKey, err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(memKey(profileKey)),
		Body:   bytes.NewReader(mem),
	}); err != nil {
		return fmt.Errorf("upload memory snapshot for %s: %w", profileKey, err)
	}
	return nil
}

// GetSnapshot downloads both images for profileKey. ErrNotFound-shaped AWS
// errors are returned as-is; callers treat any error as "not archived,
// provision instead."
func (s *Store) GetSnapshot(ctx context.Context, profileKey string) (disk, mem []byte, err error) {
	disk, err = s.getObject(ctx, diskKey(profileKey))
	if err != nil {
		return nil, nil, fmt.Errorf("download disk snapshot for %s: %w", profileKey, err)
	}
	mem, err = s.getObject(ctx, memKey(profileKey))
	if err != nil {
		return nil, nil, fmt.Errorf("download memory snapshot for %s: %w", profileKey, err)
	}
	return disk, mem, nil
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// DeleteSnapshot removes both archived images for profileKey, e.g. after a
// profile's dependency set changes and the old archive is stale.
func (s *Store) DeleteSnapshot(ctx context.Context, profileKey string) error {
	for _, key := range []string{diskKey(profileKey), memKey(profileKey)} {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}
