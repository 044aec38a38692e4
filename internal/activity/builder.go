package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/shipyard/internal/core"
)

// Builder contains activities that talk to the external build service. The
// builder clones, builds, and reports its terminal result through the
// callback endpoint, which the API forwards into the workflow as a signal.
type Builder struct {
	client      *http.Client
	baseURL     string
	callbackURL string
}

// NewBuilder creates a new Builder activity struct. callbackURL is where the
// builder posts its terminal result.
func NewBuilder(baseURL, callbackURL string) *Builder {
	return &Builder{
		client:      &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		callbackURL: callbackURL,
	}
}

// CloneRepoParams holds parameters for the CloneRepo activity.
type CloneRepoParams struct {
	DeploymentID string `json:"deployment_id"`
	ProjectID    string `json:"project_id"`
	Branch       string `json:"branch"`
	CommitRef    string `json:"commit_ref"`
}

// CloneRepo asks the builder to fetch the source at the pinned commit. The
// builder resolves the repository from the project; a missing ref is a
// non-retryable build failure.
func (a *Builder) CloneRepo(ctx context.Context, params CloneRepoParams) error {
	return a.post(ctx, "/v1/clone", params)
}

// StartBuildParams holds parameters for the StartBuild activity.
type StartBuildParams struct {
	DeploymentID string `json:"deployment_id"`
	ProjectID    string `json:"project_id"`
	BuildCommand string `json:"build_command"`
	OutputDir    string `json:"output_dir"`
	CallbackURL  string `json:"callback_url"`
}

// StartBuild kicks off the build asynchronously. The builder reports the
// terminal outcome to CallbackURL; this activity only confirms acceptance.
func (a *Builder) StartBuild(ctx context.Context, params StartBuildParams) error {
	if params.CallbackURL == "" {
		params.CallbackURL = a.callbackURL
	}
	return a.post(ctx, "/v1/builds", params)
}

// CancelBuild tells the builder to abandon an in-flight build. The builder
// may finish anyway; a late callback is dropped by the guarded status
// updates on the API side.
func (a *Builder) CancelBuild(ctx context.Context, deploymentID string) error {
	return a.post(ctx, "/v1/builds/"+deploymentID+"/cancel", nil)
}

func (a *Builder) post(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return temporal.NewNonRetryableApplicationError("marshal builder request", "MARSHAL_ERROR", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("create builder request", "REQUEST_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("builder POST %s: %w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The builder rejected the job itself; retrying the same request
		// cannot succeed.
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("builder returned %d for %s", resp.StatusCode, path),
			core.CodeBuilderFailure, nil)
	}
	return fmt.Errorf("builder returned %d for %s", resp.StatusCode, path)
}
