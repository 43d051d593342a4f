// utils/assets.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var assetClient *s3.Client
var assetBucket string
var cdnBaseURL string

// InitAssetStore configures the S3-compatible object store (Cloudflare R2)
// that holds challenge problem-statement attachments.
func InitAssetStore() error {
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")
	assetBucket = os.Getenv("R2_BUCKET_NAME")
	if accountID == "" || accessKeyID == "" || accessKeySecret == "" || assetBucket == "" {
		return fmt.Errorf("asset store credentials not configured")
	}
	cdnBaseURL = os.Getenv("CDN_BASE_URL")
	if cdnBaseURL == "" {
		cdnBaseURL = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load asset store config: %w", err)
	}

	assetClient = s3.NewFromConfig(cfg)
	return nil
}

// AssetStoreReady reports whether the store was configured at boot.
func AssetStoreReady() bool {
	return assetClient != nil
}

// UploadAttachment uploads a multipart file and returns the public URL.
// key is the object key (e.g., "attachments/<challenge>/diagram.png")
func UploadAttachment(fileHeader *multipart.FileHeader, key string) (string, error) {
	if assetClient == nil {
		return "", fmt.Errorf("asset store not configured")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err = assetClient.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(assetBucket),
		Key:         aws.String(key),
		Body:        buf,
		ContentType: aws.String(fileHeader.Header.Get("Content-Type")),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}

	return fmt.Sprintf("%s/%s", cdnBaseURL, key), nil
}
