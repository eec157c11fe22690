package awsd

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"coursechatbot/awsd/models"
	"coursechatbot/errors"
)

type recordedCall struct {
	operation string
	failed    bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (r *fakeRecorder) ObserveAPICall(operation string, err error) {
	r.calls = append(r.calls, recordedCall{operation: operation, failed: err != nil})
}

func filterValues(filters []types.Filter) map[string][]string {
	out := make(map[string][]string, len(filters))
	for _, f := range filters {
		out[aws.ToString(f.Name)] = f.Values
	}
	return out
}

func TestGetStackInstance(t *testing.T) {
	tests := []struct {
		name        string
		mockOutput  *ec2.DescribeInstancesOutput
		mockError   error
		expectError bool
		expected    *models.Instance
	}{
		{
			name: "Success Case",
			mockOutput: &ec2.DescribeInstancesOutput{
				Reservations: []types.Reservation{
					{
						Instances: []types.Instance{
							{
								InstanceId:       aws.String("i-1234567890abcdef0"),
								InstanceType:     types.InstanceTypeT2Micro,
								ImageId:          aws.String("ami-123"),
								KeyName:          aws.String("course-chatbot-key-pair"),
								PublicIpAddress:  aws.String("54.0.0.1"),
								PrivateIpAddress: aws.String("10.0.0.10"),
								SubnetId:         aws.String("subnet-1"),
								State:            &types.InstanceState{Name: types.InstanceStateNameRunning},
								SecurityGroups: []types.GroupIdentifier{
									{GroupId: aws.String("sg-1234")},
								},
								Tags: []types.Tag{
									{Key: aws.String("Name"), Value: aws.String("dev/courseChatbotInstance")},
									{Key: aws.String("Stack"), Value: aws.String("dev")},
								},
							},
						},
					},
				},
			},
			expected: &models.Instance{
				InstanceID:       "i-1234567890abcdef0",
				InstanceType:     "t2.micro",
				ImageID:          "ami-123",
				KeyName:          "course-chatbot-key-pair",
				State:            "running",
				PublicIP:         "54.0.0.1",
				PrivateIP:        "10.0.0.10",
				SubnetID:         "subnet-1",
				SecurityGroupIDs: []string{"sg-1234"},
				Tags:             map[string]string{"Name": "dev/courseChatbotInstance", "Stack": "dev"},
			},
		},
		{
			name:        "Empty Reservations",
			mockOutput:  &ec2.DescribeInstancesOutput{Reservations: []types.Reservation{}},
			expectError: true,
		},
		{
			name:        "AWS Error",
			mockError:   fmt.Errorf("some AWS error"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotFilters map[string][]string
			mockClient := &MockEC2Client{
				DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
					gotFilters = filterValues(params.Filters)
					return tt.mockOutput, tt.mockError
				},
			}

			client := NewAWSClientWithAPIs(mockClient, nil, nil, 100)
			instance, err := client.GetStackInstance(context.Background(), "dev", "courseChatbotInstance")

			assert.Equal(t, []string{"dev"}, gotFilters["tag:Stack"])
			assert.Equal(t, []string{"dev/courseChatbotInstance"}, gotFilters["tag:Name"])
			assert.NotContains(t, gotFilters["instance-state-name"], "terminated")

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrAWSInstance))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, instance)
		})
	}
}

func TestGetElasticIP(t *testing.T) {
	mockClient := &MockEC2Client{
		DescribeAddressesFunc: func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
			return &ec2.DescribeAddressesOutput{Addresses: []types.Address{{
				AllocationId:  aws.String("eipalloc-1"),
				AssociationId: aws.String("eipassoc-1"),
				InstanceId:    aws.String("i-1"),
				PublicIp:      aws.String("3.3.3.3"),
			}}}, nil
		},
	}

	client := NewAWSClientWithAPIs(mockClient, nil, nil, 100)
	eip, err := client.GetElasticIP(context.Background(), "dev", "courseChatbotEip")
	require.NoError(t, err)
	assert.Equal(t, "3.3.3.3", eip.PublicIP)
	assert.True(t, eip.Associated())

	mockClient.DescribeAddressesFunc = func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
		return &ec2.DescribeAddressesOutput{}, nil
	}
	_, err = client.GetElasticIP(context.Background(), "dev", "courseChatbotEip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAWSAddress))
}

func TestGetSecurityGroup(t *testing.T) {
	mockClient := &MockEC2Client{
		DescribeSecurityGroupsFunc: func(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: []types.SecurityGroup{{
				GroupId:   aws.String("sg-1"),
				GroupName: aws.String("courseChatbotSg"),
				IpPermissions: []types.IpPermission{
					{
						IpProtocol: aws.String("tcp"),
						FromPort:   aws.Int32(22),
						ToPort:     aws.Int32(22),
						IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}, {CidrIp: aws.String("10.0.0.0/8")}},
					},
				},
			}}}, nil
		},
	}

	client := NewAWSClientWithAPIs(mockClient, nil, nil, 100)
	sg, err := client.GetSecurityGroup(context.Background(), "dev", "courseChatbotSg")
	require.NoError(t, err)
	assert.Equal(t, []models.IngressPermission{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, Source: "0.0.0.0/0"},
		{Protocol: "tcp", FromPort: 22, ToPort: 22, Source: "10.0.0.0/8"},
	}, sg.Ingress)
}

func TestFindHostedZoneID(t *testing.T) {
	tests := []struct {
		name        string
		zones       []r53types.HostedZone
		expected    string
		expectError bool
	}{
		{
			name:     "exact match with trailing dot",
			zones:    []r53types.HostedZone{{Id: aws.String("/hostedzone/Z123"), Name: aws.String("course.chatbot.com.")}},
			expected: "Z123",
		},
		{
			name:        "next zone in listing is not a match",
			zones:       []r53types.HostedZone{{Id: aws.String("/hostedzone/Z999"), Name: aws.String("other.com.")}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := &MockRoute53Client{
				ListHostedZonesByNameFunc: func(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error) {
					return &route53.ListHostedZonesByNameOutput{HostedZones: tt.zones}, nil
				},
			}
			client := NewAWSClientWithAPIs(nil, mockClient, nil, 100)
			id, err := client.FindHostedZoneID(context.Background(), "course.chatbot.com")
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrAWSDNS))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestGetARecord(t *testing.T) {
	recorder := &fakeRecorder{}
	mockClient := &MockRoute53Client{
		ListResourceRecordSetsFunc: func(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
			assert.Equal(t, r53types.RRTypeA, params.StartRecordType)
			return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: []r53types.ResourceRecordSet{{
				Name:            aws.String("course.chatbot.com."),
				Type:            r53types.RRTypeA,
				TTL:             aws.Int64(300),
				ResourceRecords: []r53types.ResourceRecord{{Value: aws.String("3.3.3.3")}},
			}}}, nil
		},
	}

	client := NewAWSClientWithAPIs(nil, mockClient, nil, 100).WithRecorder(recorder)
	record, err := client.GetARecord(context.Background(), "Z123", "course.chatbot.com")
	require.NoError(t, err)
	assert.Equal(t, &models.DNSRecord{Name: "course.chatbot.com.", Type: "A", TTL: 300, Values: []string{"3.3.3.3"}}, record)
	assert.Equal(t, []recordedCall{{operation: "ListResourceRecordSets"}}, recorder.calls)
}

func TestVerifyAccount(t *testing.T) {
	recorder := &fakeRecorder{}
	mockClient := &MockSTSClient{
		GetCallerIdentityFunc: func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return &sts.GetCallerIdentityOutput{Account: aws.String("111111111111")}, nil
		},
	}
	client := NewAWSClientWithAPIs(nil, nil, mockClient, 100).WithRecorder(recorder)

	require.NoError(t, client.VerifyAccount(context.Background(), "111111111111"))

	err := client.VerifyAccount(context.Background(), "222222222222")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAWSIdentity))

	mockClient.GetCallerIdentityFunc = func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
		return nil, fmt.Errorf("expired token")
	}
	_, err = client.CallerAccount(context.Background())
	require.Error(t, err)
	assert.Len(t, recorder.calls, 3)
	assert.True(t, recorder.calls[2].failed)
}

func TestCallHonoursCancelledContext(t *testing.T) {
	mockClient := &MockEC2Client{
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			t.Fatal("API must not be called after cancellation")
			return nil, nil
		},
	}
	client := NewAWSClientWithAPIs(mockClient, nil, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetStackInstance(ctx, "dev", "courseChatbotInstance")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseIngress(t *testing.T) {
	tests := []struct {
		name     string
		input    []types.IpPermission
		expected []models.IngressPermission
	}{
		{
			name:     "empty permissions",
			input:    []types.IpPermission{},
			expected: []models.IngressPermission{},
		},
		{
			name: "permission without ranges is skipped",
			input: []types.IpPermission{
				{IpProtocol: aws.String("tcp"), FromPort: aws.Int32(80), ToPort: aws.Int32(80)},
			},
			expected: []models.IngressPermission{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseIngress(tt.input))
		})
	}
}

func TestLookupLogsCarryPackage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	failure := fmt.Errorf("throttled")
	client := NewAWSClientWithAPIs(
		&MockEC2Client{
			DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
				return nil, failure
			},
			DescribeAddressesFunc: func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
				return nil, failure
			},
			DescribeSecurityGroupsFunc: func(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
				return nil, failure
			},
		},
		&MockRoute53Client{
			ListHostedZonesByNameFunc: func(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error) {
				return nil, failure
			},
			ListResourceRecordSetsFunc: func(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
				return nil, failure
			},
		},
		&MockSTSClient{},
		100,
	)

	ctx := context.Background()
	_, _ = client.GetStackInstance(ctx, "course-chatbot", "courseChatbotInstance")
	_, _ = client.GetElasticIP(ctx, "course-chatbot", "courseChatbotEip")
	_, _ = client.GetSecurityGroup(ctx, "course-chatbot", "courseChatbotSg")
	_, _ = client.FindHostedZoneID(ctx, "course.chatbot.com")
	_, _ = client.GetARecord(ctx, "Z123", "course.chatbot.com")

	expected := []string{"GetStackInstance", "GetElasticIP", "GetSecurityGroup", "FindHostedZoneID", "GetARecord"}
	entries := logs.All()
	require.Len(t, entries, len(expected))
	for i, entry := range entries {
		fields := entry.ContextMap()
		assert.Equal(t, packageName, fields["package"], entry.Message)
		assert.Equal(t, expected[i], fields["function"])
		assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	}
}
