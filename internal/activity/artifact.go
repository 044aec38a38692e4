package activity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.temporal.io/sdk/temporal"
)

// ArtifactStore contains activities that move build artifacts from the
// builder into the object store that regions serve from.
type ArtifactStore struct {
	client     *http.Client
	endpoint   string
	bucket     string
	accessKey  string
	secretKey  string
	publicBase string
}

// NewArtifactStore creates a new ArtifactStore activity struct.
func NewArtifactStore(endpoint, bucket, accessKey, secretKey, publicBase string) *ArtifactStore {
	return &ArtifactStore{
		client:     &http.Client{Timeout: 5 * time.Minute},
		endpoint:   endpoint,
		bucket:     bucket,
		accessKey:  accessKey,
		secretKey:  secretKey,
		publicBase: publicBase,
	}
}

// s3Client returns an S3 client configured for the artifact endpoint.
func (a *ArtifactStore) s3Client() *s3.Client {
	return s3.New(s3.Options{
		BaseEndpoint: aws.String(a.endpoint),
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider(a.accessKey, a.secretKey, ""),
		UsePathStyle: true,
	})
}

// UploadArtifactParams holds parameters for the UploadArtifact activity.
type UploadArtifactParams struct {
	DeploymentID string `json:"deployment_id"`
	ProjectSlug  string `json:"project_slug"`
	// SourceURL is where the builder serves the packed artifact.
	SourceURL string `json:"source_url"`
}

// UploadArtifact streams the packed build output from the builder into the
// artifact bucket and returns the serving URL for the deployment.
func (a *ArtifactStore) UploadArtifact(ctx context.Context, params UploadArtifactParams) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.SourceURL, nil)
	if err != nil {
		return "", temporal.NewNonRetryableApplicationError("create artifact request", "REQUEST_ERROR", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch artifact for %s: %w", params.DeploymentID, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// The builder expired the artifact; a retry cannot bring it back.
		return "", temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("artifact for %s is gone", params.DeploymentID), "ARTIFACT_GONE", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("builder artifact endpoint returned %d", resp.StatusCode)
	}

	key := fmt.Sprintf("%s/%s.tar.gz", params.ProjectSlug, params.DeploymentID)
	_, err = a.s3Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          resp.Body,
		ContentType:   aws.String("application/gzip"),
		ContentLength: aws.Int64(resp.ContentLength),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}

	return fmt.Sprintf("%s/%s/%s", a.publicBase, params.ProjectSlug, params.DeploymentID), nil
}

// DeleteArtifact removes a deployment's artifact from the bucket. Used when
// a deployment record is deleted.
func (a *ArtifactStore) DeleteArtifact(ctx context.Context, params UploadArtifactParams) error {
	key := fmt.Sprintf("%s/%s.tar.gz", params.ProjectSlug, params.DeploymentID)
	_, err := a.s3Client().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}
