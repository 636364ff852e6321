// Package awsboot loads the shared AWS configuration and the optional AWS
// backends: DynamoDB history, CloudWatch Logs metrics, S3 upload archive and
// SSM-held secrets. Every backend is opt-in; nothing here runs unless a
// table, bucket, log group or parameter is configured.
package awsboot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

var (
	cfgOnce sync.Once
	cfg     aws.Config
	cfgErr  error
)

// Config loads the default AWS config once per process.
func Config(ctx context.Context) (aws.Config, error) {
	cfgOnce.Do(func() {
		start := time.Now()
		cfg, cfgErr = awsconfig.LoadDefaultConfig(ctx)
		if cfgErr != nil {
			cfgErr = fmt.Errorf("load AWS config: %w", cfgErr)
			return
		}
		log.Debug().Str("region", cfg.Region).Dur("duration", time.Since(start)).Msg("AWS config loaded")
	})
	return cfg, cfgErr
}

// ParameterAPI is the part of the SSM client used to read secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Parameter reads a SecureString parameter.
func Parameter(ctx context.Context, client ParameterAPI, name string) (string, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read parameter %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	log.Debug().Str("parameter", name).Msg("Secret loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}

// GeminiKey returns key when set, otherwise the value of the SSM parameter
// param. Both empty means no key.
func GeminiKey(ctx context.Context, key, param string) (string, error) {
	if key != "" || param == "" {
		return key, nil
	}
	c, err := Config(ctx)
	if err != nil {
		return "", err
	}
	return Parameter(ctx, ssm.NewFromConfig(c), param)
}
