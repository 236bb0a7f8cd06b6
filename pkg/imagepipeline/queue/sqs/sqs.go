// Package sqs implements the imagepipeline queue contracts on Amazon SQS.
// One Client serves as both a stage's Consumer and the Forwarder onto the
// next stage's queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// Config options for the SQS client
type Config struct {
	Region          string // AWS region
	QueueURL        string // Full queue URL
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint (LocalStack, ElasticMQ)

	// MaxMessages and WaitTimeSeconds shape the receive call. Defaults:
	// 10 messages, 20 second long poll.
	MaxMessages     int32
	WaitTimeSeconds int32
}

// API is the subset of the SQS client used here, pulled out so tests can
// substitute a fake.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Client talks to one SQS queue.
type Client struct {
	client   API
	queueURL string
	config   Config

	// siblings tracks expanded multi-record envelopes by receipt handle.
	// SQS can only delete or redeliver the underlying message as a whole,
	// so the delete is withheld until every sibling reports in.
	mu       sync.Mutex
	siblings map[string]*siblingGroup
}

type siblingGroup struct {
	remaining int
	failed    bool
}

// New creates a new SQS client for the configured queue
func New(config Config) (*Client, error) {
	if config.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if _, err := url.Parse(config.QueueURL); err != nil {
		return nil, fmt.Errorf("invalid queue URL: %w", err)
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = 10
	}
	if config.WaitTimeSeconds <= 0 {
		config.WaitTimeSeconds = 20
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var sqsOptions []func(*sqs.Options)
	if config.Endpoint != "" {
		sqsOptions = append(sqsOptions, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return NewWithAPI(sqs.NewFromConfig(awsCfg, sqsOptions...), config), nil
}

// NewWithAPI wraps an already-built SQS client. Used by tests.
func NewWithAPI(api API, config Config) *Client {
	if config.MaxMessages <= 0 {
		config.MaxMessages = 10
	}
	if config.WaitTimeSeconds <= 0 {
		config.WaitTimeSeconds = 20
	}
	return &Client{
		client:   api,
		queueURL: config.QueueURL,
		config:   config,
		siblings: make(map[string]*siblingGroup),
	}
}

// itemBody is the message body shape exchanged between stages.
type itemBody struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// s3Event is the object-created notification envelope delivered to the head
// of the pipeline by the bucket's event configuration.
type s3Event struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// Forward enqueues an item. Routing fields travel as message attributes so
// the body stays a plain object reference.
func (c *Client) Forward(ctx context.Context, item imagepipeline.Item) error {
	body, err := json.Marshal(itemBody{Bucket: item.Bucket, Key: item.Key})
	if err != nil {
		return fmt.Errorf("failed to encode message body: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"terminal": {
			DataType:    aws.String("String"),
			StringValue: aws.String(strconv.FormatBool(item.Terminal)),
		},
	}
	if item.ArticleID != "" {
		attrs["articleId"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(item.ArticleID),
		}
	}
	if item.Source != "" {
		attrs["source"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(item.Source),
		}
	}

	_, err = c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive long-polls the queue and returns the next batch. S3 notification
// envelopes are unwrapped; multi-record envelopes expand into multiple
// returned messages sharing one receipt handle, tracked as a sibling group
// so the underlying message settles exactly once.
func (c *Client) Receive(ctx context.Context) ([]imagepipeline.Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   c.config.MaxMessages,
		WaitTimeSeconds:       c.config.WaitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]imagepipeline.Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		items := decodeBody(aws.ToString(raw.Body))
		if len(items) > 1 {
			c.mu.Lock()
			c.siblings[aws.ToString(raw.ReceiptHandle)] = &siblingGroup{remaining: len(items)}
			c.mu.Unlock()
		}
		for _, item := range items {
			item.ArticleID = attrString(raw.MessageAttributes, "articleId")
			item.Terminal = attrString(raw.MessageAttributes, "terminal") == "true"
			item.Source = attrString(raw.MessageAttributes, "source")
			msgs = append(msgs, imagepipeline.Message{
				ID:            aws.ToString(raw.MessageId),
				ReceiptHandle: aws.ToString(raw.ReceiptHandle),
				Item:          item,
			})
		}
	}
	return msgs, nil
}

// Ack settles one item. A message expanded from a multi-record envelope is
// deleted only once every sibling has acked; if any sibling nacked, the whole
// envelope redelivers instead and the stages' guarded writes absorb the
// repeats for the siblings that already succeeded.
func (c *Client) Ack(ctx context.Context, msg imagepipeline.Message) error {
	done, failed, tracked := c.settle(msg.ReceiptHandle, false)
	if tracked {
		if !done {
			return nil
		}
		if failed {
			return c.redeliver(ctx, msg.ReceiptHandle)
		}
	}
	return c.delete(ctx, msg.ReceiptHandle)
}

// Nack marks one item failed. An untracked message redelivers immediately; a
// sibling-group message waits until the rest of the group settles.
func (c *Client) Nack(ctx context.Context, msg imagepipeline.Message) error {
	done, _, tracked := c.settle(msg.ReceiptHandle, true)
	if tracked && !done {
		return nil
	}
	return c.redeliver(ctx, msg.ReceiptHandle)
}

// settle records one sibling's outcome. done is true when the handle's group
// is fully reported (or was never tracked at all); failed carries whether any
// sibling in the completed group nacked.
func (c *Client) settle(receiptHandle string, failed bool) (done, anyFailed, tracked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.siblings[receiptHandle]
	if !ok {
		return true, failed, false
	}
	if failed {
		g.failed = true
	}
	g.remaining--
	if g.remaining > 0 {
		return false, g.failed, true
	}
	delete(c.siblings, receiptHandle)
	return true, g.failed, true
}

func (c *Client) delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// redeliver zeroes the visibility timeout so the message comes back right
// away instead of waiting out the queue's default.
func (c *Client) redeliver(ctx context.Context, receiptHandle string) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to change message visibility: %w", err)
	}
	return nil
}

func decodeBody(body string) []imagepipeline.Item {
	var event s3Event
	if err := json.Unmarshal([]byte(body), &event); err == nil && len(event.Records) > 0 {
		items := make([]imagepipeline.Item, 0, len(event.Records))
		for _, record := range event.Records {
			key := record.S3.Object.Key
			// S3 URL-encodes keys in event payloads.
			if decoded, err := url.QueryUnescape(key); err == nil {
				key = decoded
			}
			items = append(items, imagepipeline.Item{
				Bucket: record.S3.Bucket.Name,
				Key:    key,
			})
		}
		return items
	}

	var plain itemBody
	if err := json.Unmarshal([]byte(body), &plain); err == nil && plain.Key != "" {
		return []imagepipeline.Item{{Bucket: plain.Bucket, Key: plain.Key}}
	}
	return nil
}

func attrString(attrs map[string]types.MessageAttributeValue, name string) string {
	if attr, ok := attrs[name]; ok {
		return aws.ToString(attr.StringValue)
	}
	return ""
}
