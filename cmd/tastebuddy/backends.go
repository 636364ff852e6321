package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/awsboot"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/config"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/history"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
)

// openHistory returns the DynamoDB log when a table is configured and the
// local file log otherwise.
func openHistory(ctx context.Context, cfg config.Config) (history.Log, func(), error) {
	if cfg.HistoryTable != "" {
		awsCfg, err := awsboot.Config(ctx)
		if err != nil {
			return nil, nil, err
		}
		return history.NewDynamoLog(dynamodb.NewFromConfig(awsCfg), cfg.HistoryTable, historyOwner()), func() {}, nil
	}
	fl, err := history.NewFileLog(cfg.HistoryPath)
	if err != nil {
		return nil, nil, err
	}
	return fl, func() { fl.Close() }, nil
}

// historyOwner partitions a shared history table by local user.
func historyOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

func openMetrics(ctx context.Context, dest string) (*metrics.Sink, func()) {
	if dest == "" {
		return nil, func() {}
	}
	sink, closer, err := openMetricsDest(ctx, dest)
	if err != nil {
		log.Warn().Err(err).Str("dest", dest).Msg("Metrics disabled")
		return nil, func() {}
	}
	sink.DefaultDimension("Client", "cli")
	return sink, func() {
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Str("dest", dest).Msg("Failed to flush metrics")
		}
	}
}

func openMetricsDest(ctx context.Context, dest string) (*metrics.Sink, io.Closer, error) {
	host, _ := os.Hostname()
	group, stream, ok := metrics.ParseCloudWatchDest(dest, fmt.Sprintf("cli-%s", host))
	if !ok {
		return metrics.Open(dest, metricsNamespace)
	}
	awsCfg, err := awsboot.Config(ctx)
	if err != nil {
		return nil, nil, err
	}
	w := metrics.NewCloudWatchWriter(cloudwatchlogs.NewFromConfig(awsCfg), group, stream)
	return metrics.NewSink(w, metricsNamespace), w, nil
}

const metricsNamespace = "TasteBuddy"
