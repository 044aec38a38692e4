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

	"github.com/edvin/shipyard/internal/model"
)

// Notify contains activities for delivering deployment event notifications
// to the configured webhook endpoint.
type Notify struct {
	client   *http.Client
	url      string
	template string // "generic" or "slack"
}

// NewNotify creates a new Notify activity struct. An empty URL disables
// delivery; SendEvent becomes a no-op.
func NewNotify(url, template string) *Notify {
	return &Notify{
		client:   &http.Client{Timeout: 30 * time.Second},
		url:      url,
		template: template,
	}
}

// SendEvent POSTs a deployment event to the webhook endpoint.
func (a *Notify) SendEvent(ctx context.Context, event model.DeploymentEvent) error {
	if a.url == "" {
		return nil
	}

	var body []byte
	var err error

	switch a.template {
	case "slack":
		body, err = buildSlackPayload(event)
	default:
		body, err = buildGenericPayload(event)
	}
	if err != nil {
		return temporal.NewNonRetryableApplicationError("build event payload", "MARSHAL_ERROR", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return temporal.NewNonRetryableApplicationError("create event request", "REQUEST_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("event POST to %s: %w", a.url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("event webhook returned %d", resp.StatusCode),
			"CLIENT_ERROR", nil)
	}
	return fmt.Errorf("event webhook returned %d", resp.StatusCode)
}

// GenericEventPayload is the default JSON payload for event webhooks.
type GenericEventPayload struct {
	Event   string                `json:"event"`
	Payload model.DeploymentEvent `json:"payload"`
}

func buildGenericPayload(event model.DeploymentEvent) ([]byte, error) {
	return json.Marshal(GenericEventPayload{
		Event:   event.Type,
		Payload: event,
	})
}

// buildSlackPayload creates a Slack Block Kit message for a deployment event.
func buildSlackPayload(event model.DeploymentEvent) ([]byte, error) {
	emoji := ":rocket:"
	headline := "Deployment started"
	switch event.Type {
	case model.EventDeploymentSuccess:
		emoji = ":white_check_mark:"
		headline = "Deployment succeeded"
	case model.EventDeploymentFailure:
		emoji = ":x:"
		headline = "Deployment failed"
	}

	fields := []map[string]interface{}{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Project:* %s", event.ProjectID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Deployment:* %s", event.DeploymentID),
		},
	}
	for key, value := range event.Metadata {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", key, value),
		})
	}

	blocks := []map[string]interface{}{
		{
			"type": "section",
			"text": map[string]string{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s *%s*", emoji, headline),
			},
		},
		{
			"type":   "section",
			"fields": fields,
		},
	}

	return json.Marshal(map[string]interface{}{
		"blocks": blocks,
	})
}
