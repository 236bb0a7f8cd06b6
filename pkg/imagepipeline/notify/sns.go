package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSConfig options for the SNS alert sink
type SNSConfig struct {
	Region          string
	TopicARN        string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional custom endpoint (LocalStack)
}

// SNSAlerts publishes operator alerts to an SNS topic.
type SNSAlerts struct {
	client   *sns.Client
	topicARN string
}

// NewSNSAlerts creates a new SNS alert sink
func NewSNSAlerts(config SNSConfig) (*SNSAlerts, error) {
	if config.TopicARN == "" {
		return nil, errors.New("SNS topic ARN is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
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

	var options []func(*sns.Options)
	if config.Endpoint != "" {
		options = append(options, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return &SNSAlerts{
		client:   sns.NewFromConfig(awsCfg, options...),
		topicARN: config.TopicARN,
	}, nil
}

// Alert publishes one message to the topic.
func (a *SNSAlerts) Alert(ctx context.Context, subject, message string) error {
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
