package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var loadDefaultAWSConfig = config.LoadDefaultConfig

// S3Config carries the connection settings of an S3-compatible store.
type S3Config struct {
	AccessKey    string
	SecretKey    string
	Region       string
	BaseEndpoint string
	Bucket       string
	UsePathStyle bool
}

// S3 is a View over one bucket. Directories are key prefixes; Mkdir writes a
// zero-length "dir/" marker so empty directories are visible to IsDir.
// Rename and Copy are implemented as object copies and are not atomic.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds an S3 view with static credentials, the way the rest of the
// tooling talks to MinIO.
func NewS3(ctx context.Context, c S3Config) (*S3, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = c.UsePathStyle
	})
	return NewS3FromClient(client, c.Bucket), nil
}

func NewS3FromClient(client *s3.Client, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

func objectKey(p string) (string, error) {
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(clean, "/"), nil
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

func (s *S3) Mkdir(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil || key == "" {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dirPrefix(key)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("s3 mkdir %q: %w", key, err)
	}
	return nil
}

func (s *S3) fileExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %q: %w", key, err)
}

func (s *S3) FileExists(ctx context.Context, p string) (bool, error) {
	key, err := objectKey(p)
	if err != nil {
		return false, err
	}
	if key != "" {
		ok, err := s.fileExists(ctx, key)
		if err != nil || ok {
			return ok, err
		}
	}
	return s.IsDir(ctx, p)
}

func (s *S3) IsDir(ctx context.Context, p string) (bool, error) {
	key, err := objectKey(p)
	if err != nil {
		return false, err
	}
	if key == "" {
		return true, nil
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("s3 list %q: %w", key, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *S3) ReadFile(ctx context.Context, p string) ([]byte, error) {
	key, err := objectKey(p)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3 get %q: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return data, nil
}

func (s *S3) WriteFile(ctx context.Context, p string, data []byte) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

// listAll returns every object key below prefix, recursively.
func (s *S3) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3) copyObject(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(url.PathEscape(s.bucket) + "/" + escapeKey(src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("s3 copy %q -> %q: %w", src, dst, err)
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (s *S3) deleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

// copyTree copies src (a single object or a prefix) to dst and returns the
// source keys that were copied.
func (s *S3) copyTree(ctx context.Context, src, dst string) ([]string, error) {
	srcKey, err := objectKey(src)
	if err != nil {
		return nil, err
	}
	dstKey, err := objectKey(dst)
	if err != nil {
		return nil, err
	}

	ok, err := s.fileExists(ctx, srcKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return []string{srcKey}, s.copyObject(ctx, srcKey, dstKey)
	}

	keys, err := s.listAll(ctx, dirPrefix(srcKey))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("s3 %q: %w", srcKey, ErrNotExist)
	}
	for _, k := range keys {
		if err := s.copyObject(ctx, k, dstKey+strings.TrimPrefix(k, srcKey)); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (s *S3) Rename(ctx context.Context, src, dst string) error {
	copied, err := s.copyTree(ctx, src, dst)
	if err != nil {
		return err
	}
	for _, k := range copied {
		if err := s.deleteObject(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) Copy(ctx context.Context, src, dst string) error {
	_, err := s.copyTree(ctx, src, dst)
	return err
}

func (s *S3) ReadDir(ctx context.Context, p string) ([]Entry, error) {
	key, err := objectKey(p)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(key)

	var out []Entry
	pg := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	found := false
	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, Entry{Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue // directory marker
			}
			out = append(out, Entry{Name: name})
		}
	}
	if !found && key != "" {
		return nil, fmt.Errorf("s3 readdir %q: %w", key, ErrNotExist)
	}
	return out, nil
}

func (s *S3) Remove(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	ok, err := s.fileExists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		// an empty directory is just its marker
		ok, err = s.fileExists(ctx, dirPrefix(key))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("s3 remove %q: %w", key, ErrNotExist)
		}
		key = dirPrefix(key)
	}
	return s.deleteObject(ctx, key)
}

func (s *S3) RemoveAll(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("refusing to remove the bucket root")
	}
	if ok, err := s.fileExists(ctx, key); err != nil {
		return err
	} else if ok {
		return s.deleteObject(ctx, key)
	}
	keys, err := s.listAll(ctx, dirPrefix(key))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.deleteObject(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
