package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"filevault/internal/domain"
	"filevault/internal/storage"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultChunkSize = 5 * 1024 * 1024 // 5MB
	defaultRegion    = "us-east-1"
)

// Client реализует storage.ContentStore поверх S3-совместимого хранилища
type Client struct {
	name     string
	client   objectAPI
	bucket   string
	prefix   string
	partSize int
}

var _ storage.ContentStore = (*Client)(nil)

// NewClient создает новый экземпляр клиента S3
func NewClient(conf *Config) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 configuration: %w", err)
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	region := conf.Region
	if region == "" {
		region = defaultRegion
	}

	opts := s3.Options{
		Region:           region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
		UsePathStyle:     conf.UsePathStyle,
	}
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
	}

	return newClient(conf.Name, s3.New(opts), conf.Bucket, conf.Prefix), nil
}

func newClient(name string, api objectAPI, bucket, prefix string) *Client {
	return &Client{
		name:     name,
		client:   api,
		bucket:   bucket,
		prefix:   prefix,
		partSize: defaultChunkSize,
	}
}

func (h *Client) Name() string {
	return h.name
}

// Ping проверяет доступ к бакету
func (h *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := h.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(h.bucket),
	})
	if err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", h.bucket, err)
	}
	return nil
}

func (h *Client) key(id uuid.UUID) string {
	return path.Join(h.prefix, id.String())
}

// isNotFound распознает ответы "нет такого ключа": HEAD возвращает NotFound, GET - NoSuchKey
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (h *Client) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return false, err
	}

	_, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", domain.AsCancelled(err))
	}
	return true, nil
}

// Create загружает содержимое в S3.
// Проверка существования и загрузка не атомарны: одновременная запись одного id
// разными процессами не исключается, внутри сервиса id версий уникальны.
// Содержимое до одной части уходит одним PutObject, большее - по частям.
func (h *Client) Create(ctx context.Context, id uuid.UUID, src io.Reader) error {
	if src == nil {
		return fmt.Errorf("%w: source is required", domain.ErrInvalidArgument)
	}

	exists, err := h.Contains(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: content %s", domain.ErrAlreadyExists, id)
	}

	buf := make([]byte, h.partSize)
	part, last, err := readPart(src, buf)
	if err != nil {
		return err
	}
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	if last {
		return h.putObject(ctx, id, part)
	}
	return h.uploadMultipart(ctx, id, src, buf, part)
}

// readPart заполняет buf из src; last означает, что источник исчерпан
func readPart(src io.Reader, buf []byte) ([]byte, bool, error) {
	n, err := io.ReadFull(src, buf)
	switch {
	case err == nil:
		return buf, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil
	default:
		return nil, false, fmt.Errorf("failed to read content: %w", err)
	}
}

func (h *Client) putObject(ctx context.Context, id uuid.UUID, data []byte) error {
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(h.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload content to S3: %w", domain.AsCancelled(err))
	}

	log.Printf("[S3] Uploaded %s (%d bytes) to bucket %s", h.key(id), len(data), h.bucket)
	return nil
}

// uploadMultipart загружает first и остаток src частями по h.partSize.
// В памяти держится одна часть; при ошибке загрузка отменяется.
func (h *Client) uploadMultipart(ctx context.Context, id uuid.UUID, src io.Reader, buf, first []byte) error {
	key := h.key(id)
	created, err := h.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", domain.AsCancelled(err))
	}
	uploadID := aws.ToString(created.UploadId)

	parts, total, err := h.uploadParts(ctx, key, uploadID, src, buf, first)
	if err == nil {
		_, err = h.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(h.bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			err = fmt.Errorf("failed to complete multipart upload: %w", domain.AsCancelled(err))
		}
	}
	if err != nil {
		_, abortErr := h.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(h.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			log.Printf("[S3] Failed to abort multipart upload %s for %s: %v", uploadID, key, abortErr)
		}
		return err
	}

	log.Printf("[S3] Uploaded %s (%d bytes, %d parts) to bucket %s", key, total, len(parts), h.bucket)
	return nil
}

func (h *Client) uploadParts(ctx context.Context, key, uploadID string, src io.Reader, buf, first []byte) ([]types.CompletedPart, int64, error) {
	var (
		parts []types.CompletedPart
		total int64
		last  bool
	)
	part := first
	for number := int32(1); ; number++ {
		result, err := h.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(h.bucket),
			Key:           aws.String(key),
			PartNumber:    aws.Int32(number),
			UploadId:      aws.String(uploadID),
			Body:          bytes.NewReader(part),
			ContentLength: aws.Int64(int64(len(part))),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to upload part %d: %w", number, domain.AsCancelled(err))
		}
		parts = append(parts, types.CompletedPart{
			ETag:       result.ETag,
			PartNumber: aws.Int32(number),
		})
		total += int64(len(part))

		if last {
			return parts, total, nil
		}
		part, last, err = readPart(src, buf)
		if err != nil {
			return nil, 0, err
		}
		if len(part) == 0 {
			return parts, total, nil
		}
		if err := domain.CheckContext(ctx); err != nil {
			return nil, 0, err
		}
	}
}

func (h *Client) Read(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}

	result, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", domain.AsCancelled(err))
	}
	return result.Body, nil
}

func (h *Client) Delete(ctx context.Context, id uuid.UUID) error {
	exists, err := h.Contains(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrContentNotFound, id)
	}

	_, err = h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(h.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", domain.AsCancelled(err))
	}
	return nil
}
