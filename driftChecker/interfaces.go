package driftChecker

import (
	"context"
	"time"

	awsm "coursechatbot/awsd/models"
)

// AWSClient defines the live-state reads the drift checker needs
type AWSClient interface {
	GetStackInstance(ctx context.Context, stack, nodeID string) (*awsm.Instance, error)
	GetElasticIP(ctx context.Context, stack, nodeID string) (*awsm.ElasticIP, error)
	GetSecurityGroup(ctx context.Context, stack, nodeID string) (*awsm.SecurityGroup, error)
	FindHostedZoneID(ctx context.Context, zoneName string) (string, error)
	GetARecord(ctx context.Context, zoneID, name string) (*awsm.DNSRecord, error)
}

// MetricsRecorder receives the outcome of every drift check
type MetricsRecorder interface {
	RecordDriftCheck(result string, findings int, duration time.Duration)
}

// DriftChecker defines the interface for drift checking operations
type DriftChecker interface {
	RunLoop(ctx context.Context, interval int) error
	runDriftCheck(ctx context.Context) ([]string, error)
}
