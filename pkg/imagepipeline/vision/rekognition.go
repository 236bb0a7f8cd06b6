// Package vision implements the imagepipeline moderation and label
// detection contracts on Amazon Rekognition. Images are referenced in place
// by bucket and key, never downloaded through this package.
package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
)

// Config options for the Rekognition client
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional custom endpoint for testing
}

// Client wraps the Rekognition API behind the pipeline's narrow contracts.
type Client struct {
	api *rekognition.Client
}

// New creates a new Rekognition client
func New(config Config) (*Client, error) {
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

	var options []func(*rekognition.Options)
	if config.Endpoint != "" {
		options = append(options, func(o *rekognition.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	return &Client{api: rekognition.NewFromConfig(awsCfg, options...)}, nil
}

// DetectModeration returns unsafe-content findings at or above
// minConfidence. The finding's category is the label's top-level parent so
// the policy tables key on a small stable set of names.
func (c *Client) DetectModeration(ctx context.Context, bucket, key string, minConfidence float64) ([]imagepipeline.ModerationFinding, error) {
	out, err := c.api.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image: &types.Image{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		return nil, translateError(err)
	}

	findings := make([]imagepipeline.ModerationFinding, 0, len(out.ModerationLabels))
	for _, label := range out.ModerationLabels {
		name := aws.ToString(label.Name)
		category := aws.ToString(label.ParentName)
		if category == "" {
			// Top-level labels are their own category.
			category = name
		}
		findings = append(findings, imagepipeline.ModerationFinding{
			Category:   category,
			Label:      name,
			Confidence: float64(aws.ToFloat32(label.Confidence)),
		})
	}
	return findings, nil
}

// DetectLabels returns general content labels for tagging.
func (c *Client) DetectLabels(ctx context.Context, bucket, key string, minConfidence float64, maxLabels int) ([]imagepipeline.DetectedLabel, error) {
	out, err := c.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image: &types.Image{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
		MinConfidence: aws.Float32(float32(minConfidence)),
		MaxLabels:     aws.Int32(int32(maxLabels)),
	})
	if err != nil {
		return nil, translateError(err)
	}

	labels := make([]imagepipeline.DetectedLabel, 0, len(out.Labels))
	for _, label := range out.Labels {
		parents := make([]string, 0, len(label.Parents))
		for _, parent := range label.Parents {
			parents = append(parents, aws.ToString(parent.Name))
		}
		labels = append(labels, imagepipeline.DetectedLabel{
			Name:       aws.ToString(label.Name),
			Confidence: float64(aws.ToFloat32(label.Confidence)),
			Parents:    parents,
		})
	}
	return labels, nil
}

// translateError maps permanent image-level rejections to
// ErrUnsupportedImage so callers can tell them from transient failures.
func translateError(err error) error {
	var invalidFormat *types.InvalidImageFormatException
	var tooLarge *types.ImageTooLargeException
	var badObject *types.InvalidS3ObjectException
	if errors.As(err, &invalidFormat) || errors.As(err, &tooLarge) || errors.As(err, &badObject) {
		return fmt.Errorf("%w: %v", imagepipeline.ErrUnsupportedImage, err)
	}
	return fmt.Errorf("rekognition call failed: %w", err)
}
