// Package s3store implements the upload backend contracts on top of S3
// multipart uploads. Every chunk is one part; a session is one multipart
// upload.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-resumable-upload/chunk"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	// MinChunkSize is the smallest part S3 accepts, except for the last one.
	MinChunkSize int64 = 5 * 1024 * 1024
	maxParts           = 10000

	defaultNumRetries = 3
	defaultRetryWait  = 5 * time.Second
	presignExpiry     = 15 * time.Minute
	manifestDir       = ".uploads/"
)

// ErrSessionNotFound is returned for a session id without a multipart
// upload behind it.
var ErrSessionNotFound = errors.New("upload session not found")

// Params ...
type Params struct {
	Bucket          string
	Region          string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, e.g. for S3 compatible stores.
	// Path style addressing is used when it is set.
	Endpoint  string
	ChunkSize int64
	// NumRetries of every S3 call on top of the SDK's own retries.
	NumRetries int
}

type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store implements upload.Backend and upload.Catalog.
type Store struct {
	client     s3API
	presigner  presigner
	bucket     string
	prefix     string
	numRetries int
	retryWait  time.Duration
	logger     log.Logger
}

// New connects to the bucket described by params.
func New(ctx context.Context, params Params, logger log.Logger) (*Store, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if err := validateChunkSize(params.ChunkSize); err != nil {
		return nil, err
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newStore(client, s3.NewPresignClient(client), params, logger), nil
}

func newStore(client s3API, presigner presigner, params Params, logger log.Logger) *Store {
	numRetries := params.NumRetries
	if numRetries <= 0 {
		numRetries = defaultNumRetries
	}
	return &Store{
		client:     client,
		presigner:  presigner,
		bucket:     params.Bucket,
		prefix:     params.KeyPrefix,
		numRetries: numRetries,
		retryWait:  defaultRetryWait,
		logger:     logger,
	}
}

func validateChunkSize(chunkSize int64) error {
	if chunkSize < MinChunkSize {
		return fmt.Errorf("chunk size %s is below the S3 part minimum of %s", chunk.HumanSize(chunkSize), chunk.HumanSize(MinChunkSize))
	}
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %w", err)
	}

	return &cfg, nil
}

// InitSession starts a multipart upload under the key prefix and records
// the session's size next to it.
func (s *Store) InitSession(ctx context.Context, fileName string, totalSize int64) (session.Session, error) {
	if fileName == "" {
		return session.Session{}, errors.New("file name must not be empty")
	}
	key := s.prefix + path.Base(fileName)

	var uploadID string
	err := s.withRetry("create multipart upload", func() error {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("create multipart upload: %w", err)
	}

	sess, err := session.New(sessionID(key, uploadID), path.Base(fileName), totalSize)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.putManifest(ctx, uploadID, sess); err != nil {
		return session.Session{}, err
	}

	s.logger.Debugf("Multipart upload %s started for s3://%s/%s", uploadID, s.bucket, key)
	return sess, nil
}

// UploadedChunks lists the stored parts. Part n holds chunk n-1.
func (s *Store) UploadedChunks(ctx context.Context, id string) ([]int, error) {
	key, uploadID, err := parseSessionID(id)
	if err != nil {
		return nil, err
	}

	parts, err := s.listParts(ctx, key, uploadID)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(parts))
	for _, part := range parts {
		indices = append(indices, int(aws.ToInt32(part.PartNumber))-1)
	}
	return indices, nil
}

// PutChunk uploads data as part index+1. Uploading a part again replaces it.
func (s *Store) PutChunk(ctx context.Context, id string, index int, data []byte) error {
	key, uploadID, err := parseSessionID(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= maxParts {
		return fmt.Errorf("chunk index %d out of the S3 part range", index)
	}

	err = s.withRetry("upload part", func() error {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(int32(index + 1)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return err
		}
		s.logger.Debugf("Part %d stored, etag %s", index+1, aws.ToString(out.ETag))
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", index+1, mapError(err))
	}
	return nil
}

// CompleteSession assembles the stored parts into the object. Completing
// an already completed session succeeds.
func (s *Store) CompleteSession(ctx context.Context, id string) error {
	key, uploadID, err := parseSessionID(id)
	if err != nil {
		return err
	}

	parts, err := s.listParts(ctx, key, uploadID)
	if errors.Is(err, ErrSessionNotFound) {
		return s.checkCompleted(ctx, key, err)
	}
	if err != nil {
		return err
	}

	if len(parts) == 0 {
		parts, err = s.putEmptyPart(ctx, key, uploadID)
		if err != nil {
			return err
		}
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: part.PartNumber,
		})
	}

	err = s.withRetry("complete multipart upload", func() error {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		return err
	})
	if err != nil {
		if err = mapError(err); errors.Is(err, ErrSessionNotFound) {
			return s.checkCompleted(ctx, key, err)
		}
		return fmt.Errorf("complete multipart upload: %w", err)
	}

	s.deleteManifest(ctx, uploadID)
	s.logger.Debugf("Multipart upload %s completed", uploadID)
	return nil
}

// putEmptyPart makes an empty file completable: S3 needs at least one part.
func (s *Store) putEmptyPart(ctx context.Context, key, uploadID string) ([]types.Part, error) {
	manifest, err := s.getManifest(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if manifest.TotalSize != 0 {
		return nil, fmt.Errorf("no parts stored for %d bytes", manifest.TotalSize)
	}

	if err := s.PutChunk(ctx, sessionID(key, uploadID), 0, nil); err != nil {
		return nil, err
	}
	return s.listParts(ctx, key, uploadID)
}

func (s *Store) checkCompleted(ctx context.Context, key string, notFound error) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", notFound)
	}
	s.logger.Debugf("Object %s already exists, session was completed before", key)
	return nil
}

func (s *Store) listParts(ctx context.Context, key, uploadID string) ([]types.Part, error) {
	var parts []types.Part
	var marker *string
	for {
		var out *s3.ListPartsOutput
		err := s.withRetry("list parts", func() error {
			var err error
			out, err = s.client.ListParts(ctx, &s3.ListPartsInput{
				Bucket:           aws.String(s.bucket),
				Key:              aws.String(key),
				UploadId:         aws.String(uploadID),
				PartNumberMarker: marker,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list parts: %w", mapError(err))
		}

		parts = append(parts, out.Parts...)
		if !aws.ToBool(out.IsTruncated) {
			return parts, nil
		}
		marker = out.NextPartNumberMarker
	}
}

// ListUnfinished lists the multipart uploads in progress under the prefix.
func (s *Store) ListUnfinished(ctx context.Context) ([]session.View, error) {
	var views []session.View
	var keyMarker, uploadIDMarker *string
	for {
		var out *s3.ListMultipartUploadsOutput
		err := s.withRetry("list multipart uploads", func() error {
			var err error
			out, err = s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
				Bucket:         aws.String(s.bucket),
				Prefix:         aws.String(s.prefix),
				KeyMarker:      keyMarker,
				UploadIdMarker: uploadIDMarker,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list multipart uploads: %w", err)
		}

		for _, upload := range out.Uploads {
			key, uploadID := aws.ToString(upload.Key), aws.ToString(upload.UploadId)
			view := session.View{
				ID:        sessionID(key, uploadID),
				FileName:  strings.TrimPrefix(key, s.prefix),
				CreatedAt: upload.Initiated,
			}
			if manifest, err := s.getManifest(ctx, uploadID); err != nil {
				s.logger.Warnf("Size of %s is unknown: %s", view.ID, err)
			} else {
				view.TotalSize = manifest.TotalSize
			}
			views = append(views, view)
		}

		if !aws.ToBool(out.IsTruncated) {
			return views, nil
		}
		keyMarker, uploadIDMarker = out.NextKeyMarker, out.NextUploadIdMarker
	}
}

// ListFinished lists the completed objects under the prefix. The id of a
// finished session is its object key.
func (s *Store) ListFinished(ctx context.Context) ([]session.View, error) {
	var views []session.View
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if strings.HasPrefix(key, s.prefix+manifestDir) {
				continue
			}
			views = append(views, session.View{
				ID:        key,
				FileName:  strings.TrimPrefix(key, s.prefix),
				TotalSize: aws.ToInt64(object.Size),
				CreatedAt: object.LastModified,
			})
		}
	}
	return views, nil
}

// DownloadURL presigns a GET of a finished object.
func (s *Store) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Download fetches a finished object into dest.
func (s *Store) Download(ctx context.Context, key, dest string) error {
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Warnf("failed to close %s: %s", dest, err)
		}
	}()

	downloader := manager.NewDownloader(s.client)
	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, mapError(err))
	}
	s.logger.Debugf("Downloaded %s (%s)", key, chunk.HumanSize(n))
	return nil
}

func (s *Store) manifestKey(uploadID string) string {
	return s.prefix + manifestDir + uploadID + ".json"
}

func (s *Store) putManifest(ctx context.Context, uploadID string, sess session.Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	err = s.withRetry("put manifest", func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.manifestKey(uploadID)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	return nil
}

func (s *Store) getManifest(ctx context.Context, uploadID string) (session.Session, error) {
	var sess session.Session
	err := s.withRetry("get manifest", func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.manifestKey(uploadID)),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close() //nolint:errcheck
		return json.NewDecoder(out.Body).Decode(&sess)
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("get manifest: %w", err)
	}
	return sess, nil
}

func (s *Store) deleteManifest(ctx context.Context, uploadID string) {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.manifestKey(uploadID)),
	})
	if err != nil {
		s.logger.Warnf("failed to delete manifest of %s: %s", uploadID, err)
	}
}

func (s *Store) withRetry(name string, action func() error) error {
	return retry.Times(uint(s.numRetries)).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			s.logger.Debugf("Retrying %s, attempt %d", name, attempt+1)
		}
		err := action()
		if err == nil {
			return nil, true
		}
		return err, !isRetryable(err)
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.ErrorCode() {
		case "NoSuchUpload", "NoSuchKey", "NotFound", "NoSuchBucket":
			return false
		}
		return apiError.ErrorFault() != smithy.FaultClient
	}
	return true
}

// mapError turns a missing multipart upload into ErrSessionNotFound. Most
// operations report it as a generic API error, so the code is matched.
func mapError(err error) error {
	var apiError smithy.APIError
	if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchUpload" {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}
	return err
}
