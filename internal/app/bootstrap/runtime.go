// Package bootstrap builds the optional runtime dependencies shared by the
// binaries. Each builder returns a disabled implementation, or nil, when its
// configuration is absent.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/sparkclean/sparkclean-platform/internal/config"
	"github.com/sparkclean/sparkclean-platform/internal/locks"
	"github.com/sparkclean/sparkclean-platform/internal/notify"
	"github.com/sparkclean/sparkclean-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, locks disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildLocker returns a Redis locker, or a no-op locker without Redis.
func BuildLocker(client *redis.Client, cfg *appconfig.Config, prefix string) locks.Locker {
	if client == nil {
		return locks.Noop{}
	}
	ttl := cfg.LockTTL
	return locks.NewRedis(client, prefix, ttl)
}

// LoadAWSConfig loads the default AWS chain, preferring static keys and an
// endpoint override when configured (LocalStack).
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointURL); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

// BuildEmailSender picks the email provider. "auto" prefers SendGrid when an
// API key is set, then SES when AWS keys are set, then the stub.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := cfg.EmailProvider
	if provider == "" || provider == "auto" {
		switch {
		case strings.TrimSpace(cfg.SendGridAPIKey) != "":
			provider = "sendgrid"
		case strings.TrimSpace(cfg.AWSAccessKeyID) != "":
			provider = "ses"
		default:
			provider = "stub"
		}
	}

	switch provider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: sendgrid selected but SENDGRID_API_KEY is empty")
		}
		logger.Info("email provider configured", "provider", provider)
		return sender, nil
	case "ses":
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("email provider configured", "provider", provider, "region", cfg.AWSRegion)
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger), nil
	case "stub":
		logger.Warn("email provider disabled, messages are logged only")
		return notify.NewStubEmailSender(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", provider)
	}
}
