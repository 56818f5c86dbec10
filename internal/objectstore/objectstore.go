// Package objectstore is the thin boundary over an S3-compatible API: head,
// put, get, listByPrefix, delete, each retried on transient errors, with
// the client safe to call from many tasks concurrently (spec §4.4). No
// other package may hold an aws-sdk-go session or S3 client directly.
package objectstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/s3lfs/s3lfs/internal/s3lfserr"
)

// listMax mirrors the S3 API's own page size ceiling for ListObjectsV2.
const listMax = 1000

// Params configures a Client (spec §4.4's auth modes and multipart
// threshold). Signed is the common case; Unsigned disables credentials
// entirely and, per spec, raises the multipart threshold beyond any
// realistic blob size since anonymous multipart uploads aren't meaningful.
type Params struct {
	Bucket             string
	Region             string
	Endpoint           string
	ForcePathStyle     bool
	Signed             bool
	Encrypt            bool
	SkipVerify         bool
	MultipartChunkSize int64
	Retry              Retry
}

// Retry is the policy object applied around every idempotent network call
// (spec's Design Notes §9: "decorator-based retry").
type Retry struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func (r Retry) withDefaults() Retry {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BaseBackoff <= 0 {
		r.BaseBackoff = 200 * time.Millisecond
	}
	return r
}

// HeadResult is the outcome of a head(key) probe.
type HeadResult struct {
	Exists bool
	ETag   string
	Size   int64
}

// Client is a thread-safe boundary over one S3-compatible bucket. The
// underlying aws-sdk-go S3 client already pools connections and is safe
// for concurrent use; Client adds the retry policy and the domain-shaped
// operations the engine calls.
type Client struct {
	s3     *s3.S3
	upl    *s3manager.Uploader
	dl     *s3manager.Downloader
	bucket string
	encrypt bool
	retry  Retry
	// multipartThreshold is raised beyond any realistic blob size in
	// unsigned mode, per spec §4.4's auth-mode table.
	multipartThreshold int64
}

// New builds a Client per Params. Signed mode picks up ambient
// credentials via the default provider chain; unsigned mode uses
// credentials.AnonymousCredentials and disables multipart by raising its
// threshold past any realistic blob size.
func New(p Params) (*Client, error) {
	cfg := aws.NewConfig().WithRegion(p.Region).WithS3ForcePathStyle(p.ForcePathStyle)
	if p.Endpoint != "" {
		cfg = cfg.WithEndpoint(p.Endpoint)
	}
	if p.SkipVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		cfg = cfg.WithHTTPClient(&http.Client{Transport: transport})
	}

	threshold := p.MultipartChunkSize
	if threshold <= 0 {
		threshold = 64 * 1024 * 1024
	}
	if !p.Signed {
		cfg = cfg.WithCredentials(credentials.AnonymousCredentials)
		threshold = 1 << 62
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, s3lfserr.CredentialsError{Reason: "building aws session", Err: err}
	}

	if p.Signed {
		if _, err := sess.Config.Credentials.Get(); err != nil {
			return nil, s3lfserr.CredentialsError{Reason: "no usable credentials", Err: err}
		}
	}

	s3obj := s3.New(sess)
	return &Client{
		s3:                 s3obj,
		upl:                s3manager.NewUploaderWithClient(s3obj),
		dl:                 s3manager.NewDownloaderWithClient(s3obj),
		bucket:             p.Bucket,
		encrypt:            p.Encrypt,
		retry:              p.Retry.withDefaults(),
		multipartThreshold: threshold,
	}, nil
}

// MultipartThreshold reports the blob size at or above which Put switches from
// a single PutObject to s3manager's multipart uploader.
func (c *Client) MultipartThreshold() int64 { return c.multipartThreshold }

// Head performs the existence-by-ETag probe (spec's `head(key)`).
func (c *Client) Head(ctx context.Context, key string) (HeadResult, error) {
	var out HeadResult
	err := c.retryIdempotent(ctx, "head", key, func() error {
		resp, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				out = HeadResult{}
				return nil
			}
			return err
		}
		out = HeadResult{Exists: true, ETag: unquoteETag(aws.StringValue(resp.ETag)), Size: aws.Int64Value(resp.ContentLength)}
		return nil
	})
	return out, err
}

// Put uploads size bytes read from r to key. Bodies at or above
// MultipartThreshold go through s3manager's multipart uploader; smaller
// bodies use a single PutObject. PUT is treated as idempotent (spec
// §4.4: content-addressed keys make re-uploading the same bytes safe) so
// it participates in the retry policy like Head and Get.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if size >= c.multipartThreshold {
		return c.retryIdempotent(ctx, "put", key, func() error {
			_, err := c.upl.UploadWithContext(ctx, &s3manager.UploadInput{
				Bucket:               aws.String(c.bucket),
				Key:                  aws.String(key),
				Body:                 r,
				ServerSideEncryption: c.encryptionMode(),
			})
			return err
		})
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("objectstore: reading body for %s: %w", key, err)
	}
	return c.retryIdempotent(ctx, "put", key, func() error {
		_, err := c.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(c.bucket),
			Key:                  aws.String(key),
			Body:                 bytes.NewReader(body),
			ServerSideEncryption: c.encryptionMode(),
		})
		return err
	})
}

// Get streams key's content into w, returning bytes written.
func (c *Client) Get(ctx context.Context, key string, w io.Writer) (int64, error) {
	var n int64
	err := c.retryIdempotent(ctx, "get", key, func() error {
		resp, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return s3lfserr.NotFoundError{Key: key}
			}
			return err
		}
		defer resp.Body.Close()
		n, err = io.Copy(w, resp.Body)
		return err
	})
	return n, err
}

// Probe performs one cheap ListObjectsV2 call capped at a single key, so
// the engine can fail fast on bad credentials before scheduling any
// worker rather than discovering the failure independently N times in
// parallel (spec §4.5 step 2).
func (c *Client) Probe(ctx context.Context, prefix string) error {
	return c.retryIdempotent(ctx, "probe", prefix, func() error {
		_, err := c.s3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(c.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int64(1),
		})
		return err
	})
}

// ListByPrefix returns every key under prefix, paging through
// ListObjectsV2 until the result is no longer truncated.
func (c *Client) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		var resp *s3.ListObjectsV2Output
		err := c.retryIdempotent(ctx, "list", prefix, func() error {
			r, err := c.s3.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(c.bucket),
				Prefix:            aws.String(prefix),
				MaxKeys:           aws.Int64(listMax),
				ContinuationToken: token,
			})
			resp = r
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	return keys, nil
}

// Delete removes keys in batches of up to 1000, the DeleteObjects limit.
// Delete is idempotent: a missing key is not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += listMax {
		end := start + listMax
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		objs := make([]*s3.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objs[i] = &s3.ObjectIdentifier{Key: aws.String(k)}
		}
		err := c.retryIdempotent(ctx, "delete", strings.Join(batch, ","), func() error {
			_, err := c.s3.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.bucket),
				Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) encryptionMode() *string {
	if !c.encrypt {
		return nil
	}
	return aws.String(s3.ServerSideEncryptionAes256)
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound", "404":
			return true
		}
	}
	return false
}

// unquoteETag strips the surrounding quotes aws-sdk-go leaves on ETag
// values, so callers can compare it directly against a hex MD5 string.
func unquoteETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// retryIdempotent runs fn up to retry.MaxAttempts times with exponential
// backoff, retrying only transient network/TLS/5xx errors. A
// CredentialsError-shaped failure (request signing, NoCredentialProviders)
// never retries, matching spec §4.4. An error fn already returns as one of
// this module's typed s3lfserr errors (e.g. NotFoundError from Get's 404
// case) is a final, already-classified outcome and passes straight
// through untouched — it is not a transient failure to retry against a
// deterministic response, and must reach the caller as its own kind, not
// wrapped in TransientStoreError. Any other non-transient, non-credentials
// error is also terminal and returned as-is on the attempt that produced
// it: TransientStoreError is reserved for the case its own doc comment
// describes, a transient error surviving every retry.
func (c *Client) retryIdempotent(ctx context.Context, op, key string, fn func() error) error {
	var lastErr error
	backoff := c.retry.BaseBackoff
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if isDomainError(err) {
			return err
		}
		if credErr, ok := asCredentialsError(op, err); ok {
			return credErr
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		if attempt == c.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return s3lfserr.TransientStoreError{Op: op, Key: key, Err: lastErr}
}

// isDomainError reports whether err is one of the typed errors this
// package's own closures deliberately construct as a final outcome, as
// opposed to an unclassified network/SDK failure isTransient still needs
// to judge.
func isDomainError(err error) bool {
	switch err.(type) {
	case s3lfserr.NotFoundError:
		return true
	}
	return false
}

func asCredentialsError(op string, err error) (s3lfserr.CredentialsError, bool) {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return s3lfserr.CredentialsError{}, false
	}
	switch aerr.Code() {
	case "NoCredentialProviders", "InvalidAccessKeyId", "SignatureDoesNotMatch", "MissingAuthenticationToken", "AccessDenied":
		return s3lfserr.CredentialsError{Reason: op, Err: aerr}, true
	}
	return s3lfserr.CredentialsError{}, false
}

func isTransient(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		// Connection-level failures (timeouts, TLS handshake errors) don't
		// implement awserr.Error; treat them as transient.
		return true
	}
	switch aerr.Code() {
	case request_ErrCodeRequestError, "RequestTimeout", "RequestTimeoutException",
		"ServiceUnavailable", "SlowDown", "InternalError", "500", "502", "503", "504":
		return true
	}
	return false
}

// request_ErrCodeRequestError mirrors aws-sdk-go's request.ErrCodeRequestError
// without importing the request package solely for one string constant.
const request_ErrCodeRequestError = "RequestError"
