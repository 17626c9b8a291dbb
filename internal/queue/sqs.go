package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const receiveCountAttr = "ApproximateReceiveCount"

// SQSOptions configures an SQSClient. Zero values take the defaults noted.
type SQSOptions struct {
	QueueURL string
	Region   string
	// Endpoint overrides the SQS endpoint, e.g. for LocalStack.
	Endpoint string
	// MaxMessages per receive call, 1-10 (10).
	MaxMessages int32
	// WaitTime for long polling, at most 20s (20s).
	WaitTime time.Duration
	// Visibility hides a received message from other consumers (20m).
	Visibility time.Duration
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSClient sends task messages to SQS and long-polls them back.
type SQSClient struct {
	api  sqsAPI
	opts SQSOptions
}

// ErrNoReceipt is returned when deleting a delivery without a receipt handle.
var ErrNoReceipt = errors.New("delivery has no receipt handle")

// NewSQSClient loads AWS configuration and returns a client for opts.QueueURL.
func NewSQSClient(ctx context.Context, opts SQSOptions) (*SQSClient, error) {
	opts.QueueURL = strings.TrimSpace(opts.QueueURL)
	if opts.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	var loaders []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(opts.Region); r != "" {
		loaders = append(loaders, awsconfig.WithRegion(r))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if ep := strings.TrimSpace(opts.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
	return newSQSClient(api, opts), nil
}

func newSQSClient(api sqsAPI, opts SQSOptions) *SQSClient {
	if opts.MaxMessages <= 0 || opts.MaxMessages > 10 {
		opts.MaxMessages = 10
	}
	if opts.WaitTime <= 0 || opts.WaitTime > 20*time.Second {
		opts.WaitTime = 20 * time.Second
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 20 * time.Minute
	}
	return &SQSClient{api: api, opts: opts}
}

// Send enqueues msg. The request id is also set as a message attribute so it
// shows up in the console without decoding the body.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.opts.QueueURL),
		MessageBody: aws.String(string(payload)),
	}
	if msg.RequestID != "" {
		in.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			"RequestId": {DataType: aws.String("String"), StringValue: aws.String(msg.RequestID)},
		}
	}
	if _, err := s.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to MaxMessages deliveries.
func (s *SQSClient) Receive(ctx context.Context) ([]Delivery, error) {
	out, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(s.opts.QueueURL),
		MaxNumberOfMessages:         s.opts.MaxMessages,
		WaitTimeSeconds:             int32(s.opts.WaitTime / time.Second),
		VisibilityTimeout:           int32(s.opts.Visibility / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}
	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		deliveries = append(deliveries, deliveryFromSQS(m))
	}
	return deliveries, nil
}

// Delete acknowledges d.
func (s *SQSClient) Delete(ctx context.Context, d Delivery) error {
	if d.ReceiptHandle == "" {
		return ErrNoReceipt
	}
	if _, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.opts.QueueURL),
		ReceiptHandle: aws.String(d.ReceiptHandle),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Visibility is the timeout applied to received messages.
func (s *SQSClient) Visibility() time.Duration { return s.opts.Visibility }

// Extend hides d from other consumers for another timeout, counted from now.
func (s *SQSClient) Extend(ctx context.Context, d Delivery, timeout time.Duration) error {
	if d.ReceiptHandle == "" {
		return ErrNoReceipt
	}
	if _, err := s.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.opts.QueueURL),
		ReceiptHandle:     aws.String(d.ReceiptHandle),
		VisibilityTimeout: int32(timeout / time.Second),
	}); err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func deliveryFromSQS(m sqstypes.Message) Delivery {
	d := Delivery{
		ID:            aws.ToString(m.MessageId),
		Body:          aws.ToString(m.Body),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
	}
	if n, err := strconv.Atoi(m.Attributes[receiveCountAttr]); err == nil {
		d.ReceiveCount = n
	}
	return d
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
	_ Extender = (*SQSClient)(nil)
)
