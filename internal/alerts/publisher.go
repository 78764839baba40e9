// Package alerts delivers low-comfort actuator signals. Delivery is
// fire-and-forget by contract: the scoring batch that triggered an alert
// is already committed, so a failed send is logged and dropped, never
// retried against the store.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sony/gobreaker/v2"

	"sleepwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes comfort alerts to the actuator queue behind a
// circuit breaker, so a dead queue endpoint fails fast instead of stalling
// every scoring cycle on timeouts.
type SQSPublisher struct {
	client   SQSSender
	breaker  *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]
	queueURL string
}

// NewSQSPublisher creates an SQSPublisher targeting the given actuator
// queue URL.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	cb := gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
		Name:        "actuator-queue",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return &SQSPublisher{
		client:   client,
		breaker:  cb,
		queueURL: queueURL,
	}
}

// NotifyLowComfort validates, serializes, and sends one alert. An open
// breaker returns immediately with gobreaker.ErrOpenState wrapped in an
// upstream error.
func (p *SQSPublisher) NotifyLowComfort(ctx context.Context, alert types.ComfortAlert) error {
	if err := types.ValidateAlert(&alert); err != nil {
		return err
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alert publisher: failed to marshal alert %s: %w", alert.ID, err)
	}

	_, err = p.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamActuator,
			"failed to publish alert to "+p.queueURL, err)
	}

	return nil
}

// Nop is an AlertNotifier that discards every alert. Used when no actuator
// queue is configured.
type Nop struct{}

// NotifyLowComfort discards the alert.
func (Nop) NotifyLowComfort(ctx context.Context, alert types.ComfortAlert) error {
	return nil
}
