package archive

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Service uploads generated images to an S3 compatible bucket. A nil
// *Service is valid and reports ErrDisabled.
type Service struct {
	bucket    string
	client    ObjectPutter
	presigner Presigner
	ttl       time.Duration
}

func NewService(bucket string, client ObjectPutter, presigner Presigner) *Service {
	return &Service{
		bucket:    bucket,
		client:    client,
		presigner: presigner,
		ttl:       15 * time.Minute,
	}
}

// Store uploads data and returns its object key.
func (s *Service) Store(ctx context.Context, chatID, messageID int64, data []byte, contentType string) (string, error) {
	const op = "archive.Store"

	if s == nil {
		return "", fmt.Errorf("%s: %w", op, ErrDisabled)
	}

	key, err := GenerateKey(chatID, contentType)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"chat-id":    strconv.FormatInt(chatID, 10),
			"message-id": strconv.FormatInt(messageID, 10),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: put object: %w", op, err)
	}

	return key, nil
}

func (s *Service) PresignDownload(ctx context.Context, key string) (string, error) {
	const op = "archive.PresignDownload"

	if s == nil || s.presigner == nil {
		return "", fmt.Errorf("%s: %w", op, ErrDisabled)
	}
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	ps, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("%s: presign: %w", op, err)
	}

	return ps.URL, nil
}
