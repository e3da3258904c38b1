package sqs

import (
	"context"
	"fmt"
	"time"

	"anchor-payout/internal/core/ports"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// maxBatch is the SQS limit for ReceiveMessage.
const maxBatch = 10

// Receiver implements ports.QueueReceiver on one SQS queue.
type Receiver struct {
	api      API
	queueURL string
	wait     time.Duration
}

// NewReceiver reads from queueURL. wait > 0 enables long polling.
func NewReceiver(api API, queueURL string, wait time.Duration) *Receiver {
	return &Receiver{api: api, queueURL: queueURL, wait: wait}
}

func (r *Receiver) Receive(ctx context.Context, maxMessages int, visibility time.Duration) ([]ports.QueueMessage, error) {
	if maxMessages < 1 || maxMessages > maxBatch {
		maxMessages = maxBatch
	}

	out, err := r.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(r.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		VisibilityTimeout:   int32(visibility / time.Second),
		WaitTimeSeconds:     int32(r.wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", r.queueURL, err)
	}

	msgs := make([]ports.QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, ports.QueueMessage{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

func (r *Receiver) Delete(ctx context.Context, receiptHandle string) error {
	_, err := r.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", r.queueURL, err)
	}
	return nil
}
