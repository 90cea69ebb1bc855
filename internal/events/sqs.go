package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used by the publisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher forwards outbox entries to an SQS queue. Consumers route on
// the event_type message attribute.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
}

func NewSQSPublisher(client SQSAPI, queueURL string) (*SQSPublisher, error) {
	if client == nil {
		return nil, errors.New("events: sqs client required")
	}
	if queueURL == "" {
		return nil, errors.New("events: sqs queue url required")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}, nil
}

func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entry.Type),
			},
			"event_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entry.ID.String()),
			},
			"appointment_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(entry.AppointmentID.String()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("events: sqs send %s: %w", entry.Type, err)
	}
	return nil
}
