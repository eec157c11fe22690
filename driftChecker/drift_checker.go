package driftChecker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
	"coursechatbot/metrics"
)

var _ DriftChecker = (*DriftService)(nil)

// DriftService periodically compares a declared graph with live AWS state
type DriftService struct {
	awsClient AWSClient
	graph     *models.ResourceGraph
	logger    *zap.Logger
	metrics   MetricsRecorder
	timeout   time.Duration
}

// NewDriftService creates a watcher for graph. recorder may be nil.
func NewDriftService(awsClient AWSClient, graph *models.ResourceGraph, logger *zap.Logger, recorder MetricsRecorder, timeout time.Duration) *DriftService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DriftService{
		awsClient: awsClient,
		graph:     graph,
		logger:    logger,
		metrics:   recorder,
		timeout:   timeout,
	}
}

// RunLoop checks once immediately and then every interval minutes until ctx
// is cancelled. A failed check is logged and the loop keeps going.
func (s *DriftService) RunLoop(ctx context.Context, interval int) error {
	logger := s.logger.With(
		zap.String("function", "RunLoop"),
		zap.String("stack", s.graph.Stack.StackName),
		zap.Int("interval_minutes", interval),
	)

	if interval <= 0 {
		return errors.New(errors.ErrDriftChecker, "check interval must be positive",
			map[string]interface{}{"interval": interval}, nil)
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Minute)
	defer ticker.Stop()

	logger.Info("Drift watcher started",
		zap.String("operation", "loop_start"),
	)

	for {
		if _, err := s.runDriftCheck(ctx); err != nil {
			logger.Error("Drift check failed",
				zap.String("operation", "drift_check"),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			logger.Info("Drift watcher stopped",
				zap.String("operation", "loop_stop"),
			)
			return errors.New(errors.ErrDriftChecker, "drift check cancelled", nil, ctx.Err())
		case <-ticker.C:
		}
	}
}

// runDriftCheck loads the live state of every watched node and compares it
// with the graph. It is bounded by the service timeout.
func (s *DriftService) runDriftCheck(ctx context.Context) ([]string, error) {
	logger := s.logger.With(
		zap.String("function", "runDriftCheck"),
		zap.String("stack", s.graph.Stack.StackName),
	)

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	findings, err := s.check(ctx, logger)
	s.record(findings, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	if len(findings) == 1 && findings[0] == NoDriftMessage {
		logger.Info("No drift detected",
			zap.String("operation", "drift_check"),
			zap.String("status", "in_sync"),
		)
		return findings, nil
	}
	for _, f := range findings {
		logger.Warn("Drift detected",
			zap.String("operation", "drift_check"),
			zap.String("finding", f),
		)
	}
	return findings, nil
}

func (s *DriftService) check(ctx context.Context, logger *zap.Logger) ([]string, error) {
	want, err := declared(s.graph)
	if err != nil {
		return nil, err
	}

	got := &liveState{}
	got.instance, err = s.awsClient.GetStackInstance(ctx, want.stack, want.instanceID)
	if err != nil {
		return nil, err
	}
	got.group, err = s.awsClient.GetSecurityGroup(ctx, want.stack, want.groupID)
	if err != nil {
		return nil, err
	}
	if want.eipID != "" {
		got.eip, err = s.awsClient.GetElasticIP(ctx, want.stack, want.eipID)
		if err != nil {
			return nil, err
		}
	}
	if want.record != nil {
		zoneID := want.record.Zone.ExistingID
		if zoneID == "" {
			zoneID, err = s.awsClient.FindHostedZoneID(ctx, want.zoneName)
			if err != nil {
				return nil, err
			}
		}
		got.record, err = s.awsClient.GetARecord(ctx, zoneID, want.record.Name)
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Live state loaded",
		zap.String("operation", "state_load"),
		zap.String("instance_id", got.instance.InstanceID),
		zap.String("security_group_id", got.group.GroupID),
	)
	return compareStates(ctx, want, got)
}

func (s *DriftService) record(findings []string, err error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil:
		s.metrics.RecordDriftCheck(metrics.ResultError, 0, duration)
	case len(findings) == 1 && findings[0] == NoDriftMessage:
		s.metrics.RecordDriftCheck(metrics.ResultInSync, 0, duration)
	default:
		s.metrics.RecordDriftCheck(metrics.ResultDrift, len(findings), duration)
	}
}
