package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"meme-composer/core"
)

// objectAPI is the subset of the S3 client the blob store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type s3Blobs struct {
	client objectAPI
	bucket string
	prefix string
}

// NewBlobStore creates an S3-backed blob store using the default AWS
// credential chain.
func NewBlobStore(bucketName string) *s3Blobs {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return newBlobStore(s3.NewFromConfig(cfg), bucketName)
}

func newBlobStore(client objectAPI, bucket string) *s3Blobs {
	return &s3Blobs{client: client, bucket: bucket, prefix: "memes"}
}

func (s *s3Blobs) objectKey(key string) (string, error) {
	// Keys are simple names, never paths.
	if key == "" || key == "." || key == ".." || path.Base(key) != key {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return path.Join(s.prefix, key), nil
}

func (s *s3Blobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		logrus.WithError(err).WithField("key", objKey).Error("Failed to upload blob")
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return nil
}

func (s *s3Blobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, aws.ToString(resp.ContentType), nil
}

func (s *s3Blobs) Delete(ctx context.Context, key string) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
