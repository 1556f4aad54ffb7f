// Package objstore classifies and resolves the object-store URIs that NWM
// forcing inputs and catchment-timeseries outputs are addressed by, and
// provides a uniform read/write interface over the supported backends.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Scheme identifies which backend a URI resolves to.
type Scheme int

const (
	SchemeLocal Scheme = iota
	SchemeS3
	SchemeGCS
	SchemeHTTPS
)

const s3HistoricalSuffix = ".s3.amazonaws.com" // 17 characters

// Classify inspects a URI and reports which backend serves it: an explicit
// scheme prefix wins, then a host-based heuristic for virtual-hosted S3/GCS
// URLs, then a plain https:// fallback, then local filesystem.
func Classify(uri string) Scheme {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		return SchemeS3
	case strings.HasPrefix(uri, "gs://"), strings.HasPrefix(uri, "gcs://"):
		return SchemeGCS
	case strings.Contains(uri, "s3.amazonaws.com"):
		return SchemeS3
	case strings.Contains(uri, "storage.googleapis.com"):
		return SchemeGCS
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return SchemeHTTPS
	default:
		return SchemeLocal
	}
}

const gcsPathStyleHost = "storage.googleapis.com"

// BucketKey canonicalizes a URI into a (bucket, key) pair for the S3 and
// GCS backends. For "s3://bucket/key..." and "gs://bucket/key..." forms
// the bucket is the URL host and the key is the remaining path. For
// HTTP-form virtual-hosted URLs the bucket is derived from the host: a
// host ending in the 17-character suffix ".s3.amazonaws.com" yields the
// bucket by stripping that suffix (the historical virtual-hosted S3 form,
// e.g. "noaa-nwm-pds.s3.amazonaws.com" -> "noaa-nwm-pds"); a host of
// exactly "storage.googleapis.com" (GCS's path-style form) yields the
// bucket as the first path segment instead, since the host itself never
// carries the bucket in that form; any other host yields its leading
// dot-separated label. The key is always whatever remains of the path
// after the bucket is accounted for, with any leading slash trimmed.
// Bucket and key stay separate; they are passed independently to the
// S3/GCS client APIs.
func BucketKey(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("objstore: parsing uri %q: %w", uri, err)
	}
	switch {
	case u.Scheme == "s3", u.Scheme == "gs", u.Scheme == "gcs":
		bucket = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case u.Host == gcsPathStyleHost:
		trimmed := strings.TrimPrefix(u.Path, "/")
		parts := strings.SplitN(trimmed, "/", 2)
		bucket = parts[0]
		if len(parts) > 1 {
			key = parts[1]
		}
	default:
		host := u.Host
		if strings.HasSuffix(host, s3HistoricalSuffix) {
			bucket = host[:len(host)-len(s3HistoricalSuffix)]
		} else if i := strings.Index(host, "."); i >= 0 {
			bucket = host[:i]
		} else {
			bucket = host
		}
		key = strings.TrimPrefix(u.Path, "/")
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("objstore: uri %q does not resolve to a bucket/key pair", uri)
	}
	return bucket, key, nil
}

// Store reads and writes objects addressed by URI, dispatching to the
// backend Classify selects.
type Store struct {
	s3Client  *s3.Client
	gcsClient *storage.Client
	http      *http.Client
}

// New constructs a Store with anonymous S3 credentials (region us-east-1,
// matching public NOAA buckets) and an unauthenticated GCS client; NWM
// forcing data is served from public buckets readable without credentials.
func New(ctx context.Context) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("objstore: loading aws config: %w", err)
	}
	gcsClient, err := storage.NewClient(ctx, option.WithoutAuthentication())
	if err != nil {
		return nil, fmt.Errorf("objstore: constructing gcs client: %w", err)
	}
	return &Store{
		s3Client:  s3.NewFromConfig(awsCfg),
		gcsClient: gcsClient,
		http:      http.DefaultClient,
	}, nil
}

// WithCredentials overrides the store's S3 client with one authenticated
// via a static key pair, for writing to private output buckets.
func (s *Store) WithCredentials(ctx context.Context, accessKey, secretKey, region string) error {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return fmt.Errorf("objstore: loading aws config: %w", err)
	}
	s.s3Client = s3.NewFromConfig(awsCfg)
	return nil
}

// Open reads the full contents of the object at uri.
func (s *Store) Open(ctx context.Context, uri string) ([]byte, error) {
	switch Classify(uri) {
	case SchemeS3:
		bucket, key, err := BucketKey(uri)
		if err != nil {
			return nil, err
		}
		out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, classifyS3Error(uri, err)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	case SchemeGCS:
		bucket, key, err := BucketKey(uri)
		if err != nil {
			return nil, err
		}
		r, err := s.gcsClient.Bucket(bucket).Object(key).NewReader(ctx)
		if err != nil {
			if err == storage.ErrObjectNotExist {
				return nil, &NotFoundError{URI: uri, Cause: err}
			}
			return nil, &TransportError{URI: uri, Cause: err}
		}
		defer r.Close()
		return io.ReadAll(r)
	case SchemeHTTPS:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("objstore: building request for %s: %w", uri, err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, &TransportError{URI: uri, Cause: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{URI: uri, Cause: fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return nil, &TransportError{URI: uri, Cause: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return io.ReadAll(resp.Body)
	default:
		data, err := os.ReadFile(uri)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &NotFoundError{URI: uri, Cause: err}
			}
			return nil, &TransportError{URI: uri, Cause: err}
		}
		return data, nil
	}
}

// Put writes data to the object at uri, creating or overwriting it.
func (s *Store) Put(ctx context.Context, uri string, data []byte) error {
	switch Classify(uri) {
	case SchemeS3:
		bucket, key, err := BucketKey(uri)
		if err != nil {
			return err
		}
		_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return &TransportError{URI: uri, Cause: err}
		}
		return nil
	case SchemeGCS:
		bucket, key, err := BucketKey(uri)
		if err != nil {
			return err
		}
		w := s.gcsClient.Bucket(bucket).Object(key).NewWriter(ctx)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return &TransportError{URI: uri, Cause: err}
		}
		if err := w.Close(); err != nil {
			return &TransportError{URI: uri, Cause: err}
		}
		return nil
	case SchemeHTTPS:
		return fmt.Errorf("objstore: writing to https:// destinations is not supported")
	default:
		if dir := dirname(uri); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return &TransportError{URI: uri, Cause: err}
			}
		}
		if err := os.WriteFile(uri, data, 0o644); err != nil {
			return &TransportError{URI: uri, Cause: err}
		}
		return nil
	}
}

func dirname(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func classifyS3Error(uri string, err error) error {
	if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
		return &NotFoundError{URI: uri, Cause: err}
	}
	return &TransportError{URI: uri, Cause: err}
}

// NotFoundError reports that the addressed object does not exist.
type NotFoundError struct {
	URI   string
	Cause error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("objstore: not found: %s: %v", e.URI, e.Cause) }
func (e *NotFoundError) Unwrap() error { return e.Cause }

// TransportError reports a network, authentication, or backend failure
// unrelated to the object's existence.
type TransportError struct {
	URI   string
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("objstore: transport error: %s: %v", e.URI, e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }
