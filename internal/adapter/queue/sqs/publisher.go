package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"anchor-payout/internal/core/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher implements ports.StatusPublisher on an SQS queue.
type Publisher struct {
	api      API
	queueURL string
}

func NewPublisher(api API, queueURL string) *Publisher {
	return &Publisher{api: api, queueURL: queueURL}
}

// Publish sends msg as JSON. FIFO queues are grouped per transaction
// reference and deduplicated on the message idempotency key.
func (p *Publisher) Publish(ctx context.Context, msg domain.OutboundStatusMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal status message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(msg.MetaData.Event)},
		},
	}
	if msg.MetaData.Source != "" {
		input.MessageAttributes["source"] = types.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String(msg.MetaData.Source),
		}
	}
	if strings.HasSuffix(p.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(msg.Payload.Reference)
		input.MessageDeduplicationId = aws.String(msg.MetaData.IdempotencyKey)
	}

	if _, err := p.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send to %s: %w", p.queueURL, err)
	}
	return nil
}
