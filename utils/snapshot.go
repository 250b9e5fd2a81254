// utils/snapshot.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var snapshotClient *s3.Client
var snapshotBucket string

// InitSnapshots configures the S3-compatible client used for state snapshot
// exports. Leaving SNAPSHOT_BUCKET unset disables snapshots entirely.
func InitSnapshots() error {
	snapshotBucket = os.Getenv("SNAPSHOT_BUCKET")
	if snapshotBucket == "" {
		return nil
	}

	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")

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
		return fmt.Errorf("failed to load snapshot storage config: %w", err)
	}

	snapshotClient = s3.NewFromConfig(cfg)
	return nil
}

// SnapshotsEnabled reports whether a snapshot bucket was configured.
func SnapshotsEnabled() bool {
	return snapshotClient != nil && snapshotBucket != ""
}

// UploadSnapshot writes a JSON snapshot payload under the given object key.
func UploadSnapshot(ctx context.Context, key string, payload []byte) error {
	if !SnapshotsEnabled() {
		return fmt.Errorf("snapshot storage not configured")
	}

	_, err := snapshotClient.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(snapshotBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}
	return nil
}
