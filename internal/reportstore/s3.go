package reportstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archive stores rendered recommendation reports in object storage so
// unlocked reports survive re-scoring outages and stay downloadable.
type Archive struct {
	client *s3.Client
	bucket string
}

// NewArchive creates an archive client configured for an S3-compatible
// endpoint (DigitalOcean Spaces).
func NewArchive(endpoint, region, bucket, accessKeyID, secretAccessKey string) (*Archive, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{
				URL:           endpoint,
				SigningRegion: region,
			}, nil
		}
		return aws.Endpoint{}, fmt.Errorf("unknown endpoint requested")
	})

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, secretAccessKey, "",
		)),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Archive{client: client, bucket: bucket}, nil
}

func reportKey(userID, attemptID string) string {
	return fmt.Sprintf("users/%s/attempts/%s/report.json", userID, attemptID)
}

// ArchiveReport uploads the rendered report for a quiz attempt. Reports
// are private; access goes through presigned URLs.
func (a *Archive) ArchiveReport(ctx context.Context, userID, attemptID string, report []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(reportKey(userID, attemptID)),
		Body:        bytes.NewReader(report),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("failed to archive report: %w", err)
	}
	return nil
}

// FetchReport downloads a previously archived report.
func (a *Archive) FetchReport(ctx context.Context, userID, attemptID string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(reportKey(userID, attemptID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("failed to read report body: %w", err)
	}
	return buf.Bytes(), nil
}

// PresignReport creates a time-limited download URL for an archived report.
func (a *Archive) PresignReport(ctx context.Context, userID, attemptID string, expiration time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(a.client)

	url, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(reportKey(userID, attemptID)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.URL, nil
}

// DeleteUserReports removes every archived report for a user. Called on
// account deletion so object storage mirrors the CASCADE in the database.
func (a *Archive) DeleteUserReports(ctx context.Context, userID string) error {
	prefix := fmt.Sprintf("users/%s/", userID)

	listResult, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list objects for deletion: %w", err)
	}

	if len(listResult.Contents) == 0 {
		return nil
	}

	var objectsToDelete []types.ObjectIdentifier
	for _, obj := range listResult.Contents {
		objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{
			Key: obj.Key,
		})
	}

	_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{
			Objects: objectsToDelete,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}
