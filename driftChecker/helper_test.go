package driftChecker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awsm "coursechatbot/awsd/models"
	"coursechatbot/descriptor/descriptortest"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// inSyncState returns live state that matches the fixture graph exactly
func inSyncState() *liveState {
	perm := func(port int) awsm.IngressPermission {
		return awsm.IngressPermission{Protocol: "tcp", FromPort: port, ToPort: port, Source: "0.0.0.0/0"}
	}
	return &liveState{
		instance: &awsm.Instance{
			InstanceID:       "i-12345",
			InstanceType:     "t2.micro",
			ImageID:          "ami-12345",
			KeyName:          "course-chatbot-key-pair",
			State:            "running",
			PublicIP:         "54.214.227.242",
			SecurityGroupIDs: []string{"sg-1"},
		},
		group: &awsm.SecurityGroup{
			GroupID: "sg-1",
			Ingress: []awsm.IngressPermission{perm(5000), perm(443), perm(80), perm(22)},
		},
		eip: &awsm.ElasticIP{
			AllocationID:  "eipalloc-1",
			AssociationID: "eipassoc-1",
			InstanceID:    "i-12345",
			PublicIP:      "54.214.227.242",
		},
		record: &awsm.DNSRecord{
			Name:   "course.chatbot.com.",
			Type:   "A",
			TTL:    300,
			Values: []string{"54.214.227.242"},
		},
	}
}

func TestDeclared(t *testing.T) {
	want, err := declared(descriptortest.Graph(t))
	require.NoError(t, err)

	assert.Equal(t, descriptortest.StackName, want.stack)
	assert.Equal(t, "courseChatbotInstance", want.instanceID)
	assert.Equal(t, "courseChatbotSg", want.groupID)
	assert.Equal(t, "courseChatbotEip", want.eipID)
	assert.Equal(t, "course.chatbot.com", want.zoneName)
	require.NotNil(t, want.record)
	assert.Equal(t, "course.chatbot.com", want.record.Name)

	existing := descriptortest.Graph(t, func(s *models.StackSpec) {
		s.DNS.CreateZone = false
		s.DNS.ExistingZoneID = "Z0123"
	})
	want, err = declared(existing)
	require.NoError(t, err)
	assert.Empty(t, want.zoneName)
	assert.Equal(t, "Z0123", want.record.Zone.ExistingID)

	_, err = declared(&models.ResourceGraph{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDriftChecker))
}

func TestCompareStates(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*liveState)
		expected []string
	}{
		{
			name:     "no drift",
			mutate:   func(*liveState) {},
			expected: []string{NoDriftMessage},
		},
		{
			name: "instance type drift",
			mutate: func(s *liveState) {
				s.instance.InstanceType = "t2.large"
			},
			expected: []string{"InstanceType drift detected: AWS=t2.large, declared=t2.micro"},
		},
		{
			name: "key pair and state drift",
			mutate: func(s *liveState) {
				s.instance.KeyName = "other-key"
				s.instance.State = "stopped"
			},
			expected: []string{
				"Instance state drift detected: AWS=stopped, declared=running",
				"KeyName drift detected: AWS=other-key, declared=course-chatbot-key-pair",
			},
		},
		{
			name: "security group detached",
			mutate: func(s *liveState) {
				s.instance.SecurityGroupIDs = []string{"sg-default"}
			},
			expected: []string{"Security group drift detected: sg-1 is not attached to instance i-12345"},
		},
		{
			name: "ingress rule missing and extra rule present",
			mutate: func(s *liveState) {
				s.group.Ingress = append(s.group.Ingress[1:], awsm.IngressPermission{Protocol: "tcp", FromPort: 3306, ToPort: 3306, Source: "0.0.0.0/0"})
			},
			expected: []string{
				"Ingress drift detected: missing rule tcp/5000/0.0.0.0/0",
				"Ingress drift detected: unexpected rule tcp/3306/0.0.0.0/0",
			},
		},
		{
			name: "port range opened",
			mutate: func(s *liveState) {
				s.group.Ingress = append(s.group.Ingress, awsm.IngressPermission{Protocol: "tcp", FromPort: 8000, ToPort: 9000, Source: "10.0.0.0/8"})
			},
			expected: []string{"Ingress drift detected: unexpected port range tcp/8000-9000/10.0.0.0/8"},
		},
		{
			name: "elastic IP disassociated",
			mutate: func(s *liveState) {
				s.eip.AssociationID = ""
				s.eip.InstanceID = ""
				s.instance.PublicIP = "3.3.3.3"
			},
			expected: []string{"Elastic IP drift detected: 54.214.227.242 is not associated"},
		},
		{
			name: "instance public IP differs from elastic IP",
			mutate: func(s *liveState) {
				s.instance.PublicIP = "3.3.3.3"
			},
			expected: []string{"Public IP drift detected: AWS=3.3.3.3, declared=54.214.227.242"},
		},
		{
			name: "DNS record points elsewhere",
			mutate: func(s *liveState) {
				s.record.Values = []string{"9.9.9.9"}
				s.record.TTL = 60
			},
			expected: []string{
				"DNS TTL drift detected: AWS=60, declared=300",
				"DNS drift detected: course.chatbot.com resolves to [9.9.9.9], declared=54.214.227.242",
			},
		},
	}

	want, err := declared(descriptortest.Graph(t))
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inSyncState()
			tt.mutate(got)

			drifts, err := compareStates(context.Background(), want, got)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, drifts)
		})
	}
}

func TestCompareStates_Cancelled(t *testing.T) {
	want, err := declared(descriptortest.Graph(t))
	require.NoError(t, err)

	got := inSyncState()
	got.instance.InstanceType = "t2.large"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = compareStates(ctx, want, got)
	assert.ErrorIs(t, err, context.Canceled)
}
