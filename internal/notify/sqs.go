package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"docbrief-backend/internal/shared/telemetry"
)

// SQSSink delivers events to an AWS SQS queue for downstream consumers
// (email, webhooks). Send failures are logged, not surfaced.
type SQSSink struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSSink constructs an SQS-backed sink from NOTIFY_SQS_QUEUE_URL.
func NewSQSSink(ctx context.Context, queueURL, region string) (*SQSSink, error) {
	if strings.TrimSpace(queueURL) == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if strings.TrimSpace(region) != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSSink{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

// Notify sends the event to the configured queue.
func (s *SQSSink) Notify(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		telemetry.Error("notify.encode_failed", map[string]any{
			"job_id": event.JobID,
			"error":  err.Error(),
		})
		return
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		telemetry.Error("notify.send_failed", map[string]any{
			"job_id": event.JobID,
			"error":  err.Error(),
		})
	}
}

var _ Sink = (*SQSSink)(nil)
