// Package config loads worker configuration from the environment and builds
// the stage, queue, and backend wiring for one pipeline process.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripshare/image-pipeline/pkg/imagepipeline"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline/notify"
	queuememory "github.com/tripshare/image-pipeline/pkg/imagepipeline/queue/memory"
	queuesqs "github.com/tripshare/image-pipeline/pkg/imagepipeline/queue/sqs"
	repomemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/memory"
	repopg "github.com/tripshare/image-pipeline/pkg/imagepipeline/repo/postgres"
	fsstorage "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/fs"
	memorystorage "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/memory"
	s3storage "github.com/tripshare/image-pipeline/pkg/imagepipeline/storage/s3"
	trendmemory "github.com/tripshare/image-pipeline/pkg/imagepipeline/trend/memory"
	trendredis "github.com/tripshare/image-pipeline/pkg/imagepipeline/trend/redis"
	"github.com/tripshare/image-pipeline/pkg/imagepipeline/vision"
)

// StageNames lists every runnable stage.
var StageNames = []string{"validator", "analyzer", "moderator", "tagger", "thumbnailer", "notifier"}

// Config is the environment-driven configuration for one worker process.
type Config struct {
	Stage       string `env:"STAGE" env-default:"validator"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	Port        string `env:"PORT" env-default:"8080"`
	Concurrency int    `env:"WORKER_CONCURRENCY" env-default:"4"`

	// Object storage
	StorageBackend  string `env:"STORAGE_BACKEND" env-default:"memory"` // memory, fs, s3
	MediaBucket     string `env:"MEDIA_BUCKET"`
	FSBaseDir       string `env:"FS_BASE_DIR" env-default:"./data"`
	S3Endpoint      string `env:"S3_ENDPOINT"`
	S3UsePathStyle  bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	S3CreateBucket  bool   `env:"S3_CREATE_BUCKET" env-default:"false"`
	AWSRegion       string `env:"AWS_REGION" env-default:"us-east-1"`
	AWSAccessKeyID  string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccess string `env:"AWS_SECRET_ACCESS_KEY"`

	// Metadata store
	DatabaseType string `env:"DATABASE_TYPE" env-default:"memory"` // memory, postgres
	DatabaseURL  string `env:"DATABASE_URL"`

	// Trend store
	TrendBackend  string `env:"TREND_BACKEND" env-default:"memory"` // memory, redis
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Queues
	QueueBackend string `env:"QUEUE_BACKEND" env-default:"sqs"` // sqs, memory
	QueueURL     string `env:"QUEUE_URL"`
	NextQueueURL string `env:"NEXT_QUEUE_URL"`
	SQSEndpoint  string `env:"SQS_ENDPOINT"`

	// Vision
	RekognitionEndpoint     string  `env:"REKOGNITION_ENDPOINT"`
	ModerationMinConfidence float64 `env:"MODERATION_MIN_CONFIDENCE" env-default:"75"`
	LabelMinConfidence      float64 `env:"LABEL_MIN_CONFIDENCE" env-default:"70"`
	MaxTags                 int     `env:"MAX_TAGS" env-default:"5"`
	TagPolicyKey            string  `env:"TAG_POLICY_KEY" env-default:"config/label_priority_config.json"`

	// Notifications
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	MailFrom      string `env:"MAIL_FROM" env-default:"TripShare <noreply@tripshare.example>"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
	AlertTopicARN string `env:"ALERT_TOPIC_ARN"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if !contains(StageNames, c.Stage) {
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	switch c.StorageBackend {
	case "memory":
	case "fs":
		if c.FSBaseDir == "" {
			return errors.New("FS_BASE_DIR is required for fs storage")
		}
	case "s3":
		if c.MediaBucket == "" {
			return errors.New("MEDIA_BUCKET is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required when using postgres")
	}
	if c.QueueBackend == "sqs" && c.QueueURL == "" {
		return errors.New("QUEUE_URL is required when using sqs")
	}
	return nil
}

// Backends holds every constructed collaborator for one worker process.
type Backends struct {
	Blobs    imagepipeline.BlobStore
	Meta     imagepipeline.MetadataStore
	Profiles imagepipeline.ProfileStore
	Photos   imagepipeline.PhotoIndex
	Trends   imagepipeline.TrendStore
	Inbound  imagepipeline.Consumer
	Next     imagepipeline.Forwarder
	Mailer   imagepipeline.Mailer
	Alerts   imagepipeline.AlertSink
}

// BuildBackends constructs the configured backends. Stages past the end of
// the chain run with a discarding forwarder.
func (c *Config) BuildBackends(ctx context.Context, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	blobs, err := c.buildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}
	b.Blobs = blobs

	if err := c.buildMetadata(ctx, b); err != nil {
		return nil, err
	}

	switch c.TrendBackend {
	case "redis":
		b.Trends = trendredis.New(trendredis.Config{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
	default:
		b.Trends = trendmemory.New()
	}

	if err := c.buildQueues(b); err != nil {
		return nil, err
	}

	if c.ResendAPIKey != "" {
		mailer, err := notify.NewResendMailer(notify.ResendConfig{
			APIKey: c.ResendAPIKey,
			From:   c.MailFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build mailer: %w", err)
		}
		b.Mailer = mailer
	} else {
		b.Mailer = notify.NewLogMailer(logger)
	}

	if c.AlertTopicARN != "" {
		alerts, err := notify.NewSNSAlerts(notify.SNSConfig{
			Region:          c.AWSRegion,
			TopicARN:        c.AlertTopicARN,
			AccessKeyID:     c.AWSAccessKeyID,
			SecretAccessKey: c.AWSSecretAccess,
			Endpoint:        c.SQSEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build alert sink: %w", err)
		}
		b.Alerts = alerts
	}

	return b, nil
}

// BuildStage constructs the configured stage over the given backends.
func (c *Config) BuildStage(b *Backends, logger *slog.Logger) (imagepipeline.Stage, error) {
	switch c.Stage {
	case "validator":
		return imagepipeline.NewValidator(b.Blobs, b.Meta, b.Next, imagepipeline.DefaultValidatorConfig(), logger), nil

	case "analyzer":
		return imagepipeline.NewAnalyzer(b.Blobs, b.Meta, b.Next, logger), nil

	case "moderator":
		moderation, err := c.buildVision()
		if err != nil {
			return nil, err
		}
		cfg := imagepipeline.DefaultModeratorConfig()
		cfg.MinConfidence = c.ModerationMinConfidence
		return imagepipeline.NewModerator(b.Blobs, b.Meta, b.Profiles, nil,
			moderation, b.Mailer, b.Alerts, b.Next, cfg, logger), nil

	case "tagger":
		labels, err := c.buildVision()
		if err != nil {
			return nil, err
		}
		cfg := imagepipeline.DefaultTaggerConfig()
		cfg.MinConfidence = c.LabelMinConfidence
		cfg.MaxTags = c.MaxTags
		policy := imagepipeline.NewPolicyCache(b.Blobs, c.TagPolicyKey, logger)
		return imagepipeline.NewTagger(labels, b.Meta, b.Photos, b.Trends, policy, b.Next, cfg, logger), nil

	case "thumbnailer":
		return imagepipeline.NewThumbnailer(b.Blobs, b.Meta, b.Next, imagepipeline.DefaultThumbnailSizes(), logger), nil

	case "notifier":
		return imagepipeline.NewNotifier(b.Meta, b.Profiles, nil, b.Mailer,
			imagepipeline.NotifierConfig{PublicBaseURL: c.PublicBaseURL}, logger), nil
	}
	return nil, fmt.Errorf("unknown stage %q", c.Stage)
}

func (c *Config) buildBlobStore() (imagepipeline.BlobStore, error) {
	switch c.StorageBackend {
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.AWSRegion,
			Bucket:                 c.MediaBucket,
			AccessKeyID:            c.AWSAccessKeyID,
			SecretAccessKey:        c.AWSSecretAccess,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			CreateBucketIfNotExist: c.S3CreateBucket,
		})
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: c.FSBaseDir})
	default:
		return memorystorage.New(), nil
	}
}

func (c *Config) buildMetadata(ctx context.Context, b *Backends) error {
	if c.DatabaseType == "postgres" {
		pool, err := pgxpool.New(ctx, c.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := repopg.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		repo := repopg.NewWithPool(pool)
		b.Meta = repo
		b.Profiles = repo
		b.Photos = repo
		return nil
	}

	repo := repomemory.New()
	b.Meta = repo
	b.Profiles = repo
	b.Photos = repo
	return nil
}

func (c *Config) buildQueues(b *Backends) error {
	if c.QueueBackend == "memory" {
		b.Inbound = queuememory.New(10)
		b.Next = queuememory.New(10)
		return nil
	}

	inbound, err := queuesqs.New(queuesqs.Config{
		Region:          c.AWSRegion,
		QueueURL:        c.QueueURL,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccess,
		Endpoint:        c.SQSEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to build inbound queue: %w", err)
	}
	b.Inbound = inbound

	if c.NextQueueURL == "" {
		// Last stage of the chain.
		b.Next = discardForwarder{}
		return nil
	}
	next, err := queuesqs.New(queuesqs.Config{
		Region:          c.AWSRegion,
		QueueURL:        c.NextQueueURL,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccess,
		Endpoint:        c.SQSEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to build next-stage queue: %w", err)
	}
	b.Next = next
	return nil
}

func (c *Config) buildVision() (*vision.Client, error) {
	client, err := vision.New(vision.Config{
		Region:          c.AWSRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccess,
		Endpoint:        c.RekognitionEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build vision client: %w", err)
	}
	return client, nil
}

type discardForwarder struct{}

func (discardForwarder) Forward(ctx context.Context, item imagepipeline.Item) error { return nil }

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
