/*
Copyright (C) 2025  MemCP Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package archivestore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config carries the connection details the teacher's S3Factory bundles
// (storage/persistence-s3.go): explicit credentials so the engine can talk
// to S3-compatible stores (MinIO, etc.) without relying on the ambient AWS
// credential chain, though it falls back to that chain when empty.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible storage
	ForcePathStyle  bool   // required for MinIO
}

// DefaultS3Config returns a zero-value S3Config: no explicit credentials,
// letting the AWS SDK resolve them from its default chain (environment,
// shared config file, instance role, ...).
func DefaultS3Config() S3Config { return S3Config{} }

// S3Store is an ArchiveStore backed by an S3 bucket, generalising the
// teacher's S3Storage (storage/persistence-s3.go) from its
// column/log-segment layout down to the narrower Put/Get/List contract
// WAL archiving needs. The client is opened lazily on first use, exactly
// as the teacher's ensureOpen does.
type S3Store struct {
	cfg    S3Config
	bucket string
	prefix string

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func NewS3Store(cfg S3Config, bucket, prefix string) *S3Store {
	return &S3Store{cfg: cfg, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *S3Store) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return err
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(s.cfg.Endpoint) })
	}
	if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	s.client = s3.NewFromConfig(cfg, s3Opts...)
	s.opened = true
	return nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	// S3's PutObject needs a seekable body for signing; buffering is the
	// same tradeoff the teacher's s3WriteCloser makes (storage/persistence-s3.go).
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(raw),
	})
	return err
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return nil, missingKeyError(key)
	}
	return resp.Body, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	listPrefix := s.key(prefix)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})

	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if s.prefix != "" {
				name = strings.TrimPrefix(name, s.prefix+"/")
			}
			out = append(out, name)
		}
	}
	return out, nil
}
