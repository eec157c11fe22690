package driftChecker

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	awsm "coursechatbot/awsd/models"
)

// MockAWSClient is a mock implementation of AWSClient
type MockAWSClient struct {
	mock.Mock
}

// GetStackInstance mocks the GetStackInstance method
func (m *MockAWSClient) GetStackInstance(ctx context.Context, stack, nodeID string) (*awsm.Instance, error) {
	args := m.Called(ctx, stack, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awsm.Instance), args.Error(1)
}

// GetElasticIP mocks the GetElasticIP method
func (m *MockAWSClient) GetElasticIP(ctx context.Context, stack, nodeID string) (*awsm.ElasticIP, error) {
	args := m.Called(ctx, stack, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awsm.ElasticIP), args.Error(1)
}

// GetSecurityGroup mocks the GetSecurityGroup method
func (m *MockAWSClient) GetSecurityGroup(ctx context.Context, stack, nodeID string) (*awsm.SecurityGroup, error) {
	args := m.Called(ctx, stack, nodeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awsm.SecurityGroup), args.Error(1)
}

// FindHostedZoneID mocks the FindHostedZoneID method
func (m *MockAWSClient) FindHostedZoneID(ctx context.Context, zoneName string) (string, error) {
	args := m.Called(ctx, zoneName)
	return args.String(0), args.Error(1)
}

// GetARecord mocks the GetARecord method
func (m *MockAWSClient) GetARecord(ctx context.Context, zoneID, name string) (*awsm.DNSRecord, error) {
	args := m.Called(ctx, zoneID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*awsm.DNSRecord), args.Error(1)
}

// MockMetricsRecorder is a mock implementation of MetricsRecorder
type MockMetricsRecorder struct {
	mock.Mock
}

// RecordDriftCheck mocks the RecordDriftCheck method
func (m *MockMetricsRecorder) RecordDriftCheck(result string, findings int, duration time.Duration) {
	m.Called(result, findings, duration)
}
