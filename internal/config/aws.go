package config

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadAWSConfig builds the SDK config shared by the SES and SQS clients.
// AWS_ENDPOINT_OVERRIDE points every client at LocalStack or similar.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}

	return awsCfg, nil
}
