// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package s3 implements the data-source contract against S3 and S3-compatible
// object stores.
package s3

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/sourcekit/pkg/config"
	"github.com/walteh/sourcekit/pkg/source"
)

func init() {
	source.Register("s3", New)
}

// bucketPattern is the allowed bucket character set; length is checked
// separately so the error can say which rule was broken.
var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Source reads, writes and lists objects under an s3://bucket/key path.
type Source struct {
	source.Base
	bucket  string
	key     string
	profile string
	client  *awss3.Client
}

var _ source.Source = (*Source)(nil)

// New parses and validates the s3:// path and builds the client. Bucket-name
// syntax errors fail here, not on the first remote call.
func New(ctx context.Context, cfg *config.SourceConfig, deps *source.Deps) (source.Source, error) {
	bucket, key, err := splitPath(cfg.ResolvedPath())
	if err != nil {
		return nil, err
	}
	if err := validateBucketName(bucket); err != nil {
		return nil, err
	}

	s := &Source{
		bucket:  bucket,
		key:     key,
		profile: cfg.StaticString("profile", ""),
	}
	s.Base = source.NewBase(cfg, deps, s)

	client, err := buildClient(ctx, cfg, s.profile)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

func splitPath(path string) (bucket, key string, err error) {
	if !strings.HasPrefix(path, "s3://") {
		return "", "", source.ConfigurationErrf("S3 path must start with s3://, got %q", path)
	}
	rest := strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", source.ConfigurationErrf("S3 path has no bucket: %q", path)
	}
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}

func validateBucketName(bucket string) error {
	if len(bucket) < 3 || len(bucket) > 63 {
		return source.ConfigurationErrf("invalid bucket name %q: must be 3-63 characters", bucket)
	}
	if !bucketPattern.MatchString(bucket) {
		return source.ConfigurationErrf("invalid bucket name %q: only lowercase letters, digits, dots and hyphens are allowed", bucket)
	}
	return nil
}

func buildClient(ctx context.Context, cfg *config.SourceConfig, profile string) (*awss3.Client, error) {
	region := cfg.StaticString("region", "us-east-1")

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	if accessKey := cfg.StaticString("access_key", ""); accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, cfg.StaticString("secret_key", ""), cfg.StaticString("session_token", "")),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, source.ConfigurationErrf("loading AWS config: %w", err)
	}

	endpoint := cfg.StaticString("endpoint_url", "")
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

func (s *Source) IsWritable() bool     { return true }
func (s *Source) IsListable() bool     { return true }
func (s *Source) SupportsExpiry() bool { return true }

// TestConnection HEAD-checks the bucket first, then the object when a key is
// configured, mapping 403 and 404 distinctly in both steps.
func (s *Source) TestConnection(ctx context.Context) *source.TestResult {
	start := time.Now()
	res := &source.TestResult{Status: source.StatusError}

	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		s.fillTestFailure(res, err, fmt.Sprintf("bucket %s", s.bucket))
		res.ResponseTime = source.ResponseTime(start)
		return s.RecordTest(res)
	}

	if s.key != "" && !strings.HasSuffix(s.key, "/") {
		_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key),
		})
		if err != nil {
			s.fillTestFailure(res, err, fmt.Sprintf("object %s", s.key))
			res.ResponseTime = source.ResponseTime(start)
			return s.RecordTest(res)
		}
	}

	res.Success = true
	res.Status = source.StatusConnected
	res.Message = fmt.Sprintf("connected to s3://%s/%s", s.bucket, s.key)
	res.Metadata = map[string]any{"bucket": s.bucket, "key": s.key}
	res.ResponseTime = source.ResponseTime(start)
	return s.RecordTest(res)
}

func (s *Source) fillTestFailure(res *source.TestResult, err error, what string) {
	classified := classify(err, what)
	switch source.KindOf(classified) {
	case source.KindAuthentication, source.KindPermission:
		res.Status = source.StatusUnauthorized
	case source.KindTimeout:
		res.Status = source.StatusTimeout
	}
	res.Message = classified.Error()
	res.Error = err.Error()
}

func (s *Source) Exists(ctx context.Context) bool {
	if s.key == "" || strings.HasSuffix(s.key, "/") {
		return s.prefixHasObjects(ctx, s.key)
	}
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err == nil {
		return true
	}
	// A key can still name a directory-style prefix.
	return s.prefixHasObjects(ctx, s.key+"/")
}

func (s *Source) GetMetadata(ctx context.Context) (*source.Metadata, error) {
	if s.key == "" || strings.HasSuffix(s.key, "/") {
		return &source.Metadata{
			Extra: map[string]any{"bucket": s.bucket, "prefix": s.key},
		}, nil
	}
	head, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, classify(err, s.key)
	}

	meta := &source.Metadata{
		Size:        head.ContentLength,
		ContentType: aws.ToString(head.ContentType),
		Extra:       map[string]any{"bucket": s.bucket, "key": s.key},
	}
	if head.ETag != nil {
		meta.Checksum = strings.Trim(*head.ETag, `"`)
	}
	meta.Modified, meta.LastModified = source.NormalizeTimestamp(head.LastModified)
	if head.Expiration != nil {
		meta.Extra["expiration"] = *head.Expiration
	}
	return meta, nil
}

func (s *Source) ReadData(ctx context.Context, opts source.ReadOptions) ([]byte, error) {
	stream, err := s.ReadStream(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return source.ReadAll(stream, 0) // range header already bounded the body
}

// ReadStream issues a GetObject, expressing the byte limit as an HTTP Range
// header instead of downloading the whole object.
func (s *Source) ReadStream(ctx context.Context, opts source.ReadOptions) (io.ReadCloser, error) {
	input := &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if opts.Limit > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", opts.Limit-1))
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, classify(err, s.key)
	}
	return out.Body, nil
}

func (s *Source) WriteData(ctx context.Context, data []byte, opts source.WriteOptions) error {
	if opts.Append {
		return source.ConfigurationErrf("S3 objects cannot be appended to")
	}
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   strings.NewReader(string(data)),
	})
	if err != nil {
		return classify(err, s.key)
	}
	return nil
}

// ListContents lists one level under the prefix using the delimiter, so
// common prefixes surface as synthetic directory entries.
func (s *Source) ListContents(ctx context.Context, path string) ([]source.Item, error) {
	prefix := s.key
	if path != "" {
		prefix = path
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var items []source.Item
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err, prefix)
		}
		for _, cp := range page.CommonPrefixes {
			full := aws.ToString(cp.Prefix)
			name := strings.TrimSuffix(strings.TrimPrefix(full, prefix), "/")
			if name == "" {
				continue
			}
			items = append(items, source.Item{
				Name:        name,
				Path:        full,
				Type:        source.TypeDirectory,
				IsDirectory: true,
			})
		}
		for _, obj := range page.Contents {
			full := aws.ToString(obj.Key)
			if full == prefix {
				// The prefix itself shows up as a zero-byte sentinel object.
				continue
			}
			name := strings.TrimPrefix(full, prefix)
			if name == "" {
				continue
			}
			item := source.Item{
				Name: name,
				Path: full,
				Type: source.TypeFile,
				Size: obj.Size,
			}
			item.Modified, item.LastModified = source.NormalizeTimestamp(obj.LastModified)
			if obj.StorageClass != "" {
				item.Extra = map[string]any{"storage_class": string(obj.StorageClass)}
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// ChildPath: listing paths are full key prefixes already.
func (s *Source) ChildPath(parent string, item source.Item) string {
	return item.Path
}

// IsDirectory: a bare bucket, a trailing-slash key, or a prefix with at least
// one object underneath.
func (s *Source) IsDirectory(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return value
	}
	if s.key == "" || strings.HasSuffix(s.key, "/") {
		return true
	}
	return s.prefixHasObjects(ctx, s.key+"/")
}

// IsFile: the exact key HEADs successfully and is not slash-terminated.
func (s *Source) IsFile(ctx context.Context) bool {
	if value, ok := s.OverrideIsDirectory(); ok {
		return !value
	}
	if s.key == "" || strings.HasSuffix(s.key, "/") {
		return false
	}
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	return err == nil
}

func (s *Source) prefixHasObjects(ctx context.Context, prefix string) bool {
	out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	return err == nil && len(out.Contents) > 0
}

// classify maps SDK errors into the taxonomy via their HTTP status and API
// error code.
func classify(err error, what string) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 404:
			return source.NotFoundErrf("%s not found", what)
		case 403:
			return source.PermissionErrf("access denied to %s", what)
		case 401:
			return source.AuthenticationErrf("authentication failed for %s", what)
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return source.NotFoundErrf("%s not found", what)
		case "AccessDenied", "Forbidden":
			return source.PermissionErrf("access denied to %s", what)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "CredentialsNotFound":
			return source.AuthenticationErrf("S3 authentication failed: %s", apiErr.ErrorCode())
		case "RequestTimeout":
			return source.TimeoutErrf("S3 request timed out for %s", what)
		}
	}
	if msg := err.Error(); strings.Contains(msg, "no EC2 IMDS role found") || strings.Contains(msg, "failed to retrieve credentials") {
		return source.AuthenticationErrf("no AWS credentials available: %w", err)
	}
	return source.ConnectionErrf("S3 request failed for %s: %w", what, err)
}
