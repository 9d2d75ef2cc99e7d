// Copyright 2025 Ceramic Network

package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ipfs/go-cid"
)

// S3Store persists blobs to an S3 bucket, one object per CID.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3Store for the given bucket using the default AWS
// credential chain.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Store) key(c cid.Cid) string {
	return "blocks/" + c.String()
}

func (s *S3Store) Put(ctx context.Context, c cid.Cid, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    awsString(s.key(c)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3 put %s: %w", c, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, c cid.Cid) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    awsString(s.key(c)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobstore: s3 get %s: %w", c, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: s3 read body %s: %w", c, err)
	}
	return data, true, nil
}

func awsString(s string) *string { return &s }

func newS3StoreFromOptions(opts *options) (Store, error) {
	if opts.s3Bucket == "" {
		return nil, fmt.Errorf("blobstore: s3 backend requires a bucket")
	}
	region := opts.s3Region
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(context.Background(), opts.s3Bucket, region)
}
