package provision

import (
	"fmt"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// MockEngine is a pulumi.MockResourceMonitor that fakes the AWS provider and
// records every registration.
type MockEngine struct {
	Zones       []string
	ImageID     string
	PublicIP    string
	FailType    string
	mu          sync.Mutex
	registered  []string
	deps        map[string][]string
	tags        map[string]map[string]string
	invocations []string
}

// NewMockEngine returns mocks for a region with two availability zones
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Zones:    []string{"us-east-1a", "us-east-1b"},
		ImageID:  "ami-0123456789abcdef0",
		PublicIP: "54.214.227.242",
		deps:     make(map[string][]string),
		tags:     make(map[string]map[string]string),
	}
}

// NewResource fakes resource creation
func (m *MockEngine) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.registered = append(m.registered, args.TypeToken+"::"+args.Name)
	if args.RegisterRPC != nil {
		m.deps[args.Name] = args.RegisterRPC.GetDependencies()
	}
	if v, ok := args.Inputs["tags"]; ok && v.IsObject() {
		tags := make(map[string]string)
		for k, tv := range v.ObjectValue() {
			if tv.IsString() {
				tags[string(k)] = tv.StringValue()
			}
		}
		m.tags[args.Name] = tags
	}
	m.mu.Unlock()

	if args.TypeToken == m.FailType {
		return "", nil, fmt.Errorf("provider rejected %s", args.Name)
	}

	outputs := args.Inputs.Copy()
	switch args.TypeToken {
	case "aws:ec2/eip:Eip":
		outputs["publicIp"] = resource.NewStringProperty(m.PublicIP)
		outputs["allocationId"] = resource.NewStringProperty("eipalloc-" + args.Name)
	case "aws:ec2/instance:Instance":
		outputs["publicIp"] = resource.NewStringProperty("3.3.3.3")
	case "aws:iam/role:Role", "aws:iam/instanceProfile:InstanceProfile":
		outputs["name"] = resource.NewStringProperty(args.Name)
	case "aws:route53/zone:Zone":
		outputs["zoneId"] = resource.NewStringProperty("Z" + args.Name)
	}
	return args.Name + "_id", outputs, nil
}

// Call fakes the provider lookups used by Apply
func (m *MockEngine) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	m.mu.Lock()
	m.invocations = append(m.invocations, args.Token)
	m.mu.Unlock()

	switch args.Token {
	case "aws:index/getAvailabilityZones:getAvailabilityZones":
		names := make([]resource.PropertyValue, 0, len(m.Zones))
		for _, z := range m.Zones {
			names = append(names, resource.NewStringProperty(z))
		}
		return resource.PropertyMap{
			"id":      resource.NewStringProperty("us-east-1"),
			"names":   resource.NewArrayProperty(names),
			"zoneIds": resource.NewArrayProperty(names),
		}, nil
	case "aws:ssm/getParameter:getParameter":
		return resource.PropertyMap{
			"id":    args.Args["name"],
			"name":  args.Args["name"],
			"type":  resource.NewStringProperty("String"),
			"value": resource.NewStringProperty(m.ImageID),
		}, nil
	}
	return args.Args, nil
}

// Registered returns "<type token>::<name>" for every resource seen so far
func (m *MockEngine) Registered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.registered...)
}

// Dependencies returns the explicit dependency URNs sent for name
func (m *MockEngine) Dependencies(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deps[name]
}

// Tags returns the tags sent for name
func (m *MockEngine) Tags(name string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags[name]
}

// Invocations returns the invoke tokens called so far
func (m *MockEngine) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invocations...)
}
