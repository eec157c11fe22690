package awsd

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"coursechatbot/awsd/models"
	"coursechatbot/configuration"
	"coursechatbot/errors"
	"coursechatbot/logger"
)

const (
	packageName = "awsd"
)

// EC2API is the subset of the EC2 client used to read live state
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// Route53API is the subset of the Route 53 client used to read live state
type Route53API interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
}

// STSAPI resolves the identity behind the loaded credentials
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// APIRecorder observes every AWS call made by the client
type APIRecorder interface {
	ObserveAPICall(operation string, err error)
}

// AwsClient reads the live state of a deployed stack
type AwsClient struct {
	ec2         EC2API
	route53     Route53API
	sts         STSAPI
	rateLimiter *rate.Limiter
	recorder    APIRecorder
}

// NewAWSClientWithAPIs wires a client around already constructed service APIs
func NewAWSClientWithAPIs(ec2Client EC2API, route53Client Route53API, stsClient STSAPI, ratePerSecond int) *AwsClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &AwsClient{
		ec2:         ec2Client,
		route53:     route53Client,
		sts:         stsClient,
		rateLimiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond*2),
	}
}

// NewAWSClient loads the SDK configuration for the configured region. Static
// credentials and a LocalStack endpoint are used only when configured.
func NewAWSClient(ctx context.Context, cfg *configuration.Config) (*AwsClient, error) {
	logger := logger.For(packageName, "NewAWSClient")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
		config.WithRetryMaxAttempts(cfg.MaxRetries + 1),
	}
	if cfg.AcessKeyID != "" && cfg.AccessSecret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AcessKeyID, cfg.AccessSecret, "")))
	}
	if cfg.LocalStackURL != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.LocalStackURL))
		logger.Info("Using local AWS endpoint",
			zap.String("operation", "aws_config"),
			zap.String("endpoint", cfg.LocalStackURL),
		)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS configuration",
			zap.String("operation", "aws_config"),
			zap.Error(err),
		)
		return nil, errors.New(errors.ErrAWSClient, "failed to load AWS configuration",
			map[string]interface{}{
				"region": cfg.AWSRegion,
			}, err)
	}

	logger.Info("AWS client configured",
		zap.String("operation", "aws_config"),
		zap.String("region", cfg.AWSRegion),
		zap.Int("rate_limit", cfg.APIRateLimit),
	)
	return NewAWSClientWithAPIs(
		ec2.NewFromConfig(awsCfg),
		route53.NewFromConfig(awsCfg),
		sts.NewFromConfig(awsCfg),
		cfg.APIRateLimit,
	), nil
}

// WithRecorder attaches an observer for API calls
func (c *AwsClient) WithRecorder(r APIRecorder) *AwsClient {
	c.recorder = r
	return c
}

// call waits on the limiter, runs fn and reports the outcome
func (c *AwsClient) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if c.recorder != nil {
		c.recorder.ObserveAPICall(operation, err)
	}
	return err
}

// nameTag is the Name tag the descriptor puts on every taggable node
func nameTag(stack, nodeID string) string {
	return stack + "/" + nodeID
}

func stackFilters(stack, nodeID string) []types.Filter {
	return []types.Filter{
		{Name: aws.String("tag:Stack"), Values: []string{stack}},
		{Name: aws.String("tag:Name"), Values: []string{nameTag(stack, nodeID)}},
	}
}

// GetStackInstance finds the live instance declared as nodeID in the stack.
// Terminated instances are ignored.
func (c *AwsClient) GetStackInstance(ctx context.Context, stack, nodeID string) (*models.Instance, error) {
	logger := logger.For(packageName, "GetStackInstance").With(
		zap.String("stack", stack),
		zap.String("node", nodeID),
	)

	filters := append(stackFilters(stack, nodeID), types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: []string{"pending", "running", "stopping", "stopped"},
	})

	var output *ec2.DescribeInstancesOutput
	err := c.call(ctx, "DescribeInstances", func(ctx context.Context) error {
		var err error
		output, err = c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
		return err
	})
	if err != nil {
		logger.Error("Failed to describe instances",
			zap.String("operation", "instance_lookup"),
			zap.Error(err),
		)
		return nil, errors.New(errors.ErrAWSInstance, "failed to describe instances",
			map[string]interface{}{"stack": stack, "node": nodeID}, err)
	}

	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		logger.Warn("Instance not found",
			zap.String("operation", "instance_lookup"),
		)
		return nil, errors.New(errors.ErrAWSInstance, "no instance found for stack",
			map[string]interface{}{"stack": stack, "node": nodeID}, nil)
	}

	i := output.Reservations[0].Instances[0]
	instance := &models.Instance{
		InstanceID:       aws.ToString(i.InstanceId),
		InstanceType:     string(i.InstanceType),
		ImageID:          aws.ToString(i.ImageId),
		KeyName:          aws.ToString(i.KeyName),
		PublicIP:         aws.ToString(i.PublicIpAddress),
		PrivateIP:        aws.ToString(i.PrivateIpAddress),
		SubnetID:         aws.ToString(i.SubnetId),
		SecurityGroupIDs: parseSecurityGroups(i.SecurityGroups),
		Tags:             parseTags(i.Tags),
	}
	if i.State != nil {
		instance.State = string(i.State.Name)
	}

	logger.Info("Instance found",
		zap.String("operation", "instance_lookup"),
		zap.String("instance_id", instance.InstanceID),
		zap.String("state", instance.State),
	)
	return instance, nil
}

// GetElasticIP finds the address declared as nodeID in the stack
func (c *AwsClient) GetElasticIP(ctx context.Context, stack, nodeID string) (*models.ElasticIP, error) {
	logger := logger.For(packageName, "GetElasticIP").With(
		zap.String("stack", stack),
		zap.String("node", nodeID),
	)

	var output *ec2.DescribeAddressesOutput
	err := c.call(ctx, "DescribeAddresses", func(ctx context.Context) error {
		var err error
		output, err = c.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
			Filters: stackFilters(stack, nodeID),
		})
		return err
	})
	if err != nil {
		logger.Error("Failed to describe addresses",
			zap.String("operation", "address_lookup"),
			zap.Error(err),
		)
		return nil, errors.New(errors.ErrAWSAddress, "failed to describe addresses",
			map[string]interface{}{"stack": stack, "node": nodeID}, err)
	}
	if len(output.Addresses) == 0 {
		return nil, errors.New(errors.ErrAWSAddress, "no elastic IP found for stack",
			map[string]interface{}{"stack": stack, "node": nodeID}, nil)
	}

	a := output.Addresses[0]
	return &models.ElasticIP{
		AllocationID:  aws.ToString(a.AllocationId),
		AssociationID: aws.ToString(a.AssociationId),
		InstanceID:    aws.ToString(a.InstanceId),
		PublicIP:      aws.ToString(a.PublicIp),
		Tags:          parseTags(a.Tags),
	}, nil
}

// GetSecurityGroup finds the firewall declared as nodeID in the stack
func (c *AwsClient) GetSecurityGroup(ctx context.Context, stack, nodeID string) (*models.SecurityGroup, error) {
	logger := logger.For(packageName, "GetSecurityGroup").With(
		zap.String("stack", stack),
		zap.String("node", nodeID),
	)

	var output *ec2.DescribeSecurityGroupsOutput
	err := c.call(ctx, "DescribeSecurityGroups", func(ctx context.Context) error {
		var err error
		output, err = c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters: stackFilters(stack, nodeID),
		})
		return err
	})
	if err != nil {
		logger.Error("Failed to describe security groups",
			zap.String("operation", "security_group_lookup"),
			zap.Error(err),
		)
		return nil, errors.New(errors.ErrAWSInstance, "failed to describe security groups",
			map[string]interface{}{"stack": stack, "node": nodeID}, err)
	}
	if len(output.SecurityGroups) == 0 {
		return nil, errors.New(errors.ErrAWSInstance, "no security group found for stack",
			map[string]interface{}{"stack": stack, "node": nodeID}, nil)
	}

	sg := output.SecurityGroups[0]
	return &models.SecurityGroup{
		GroupID:   aws.ToString(sg.GroupId),
		GroupName: aws.ToString(sg.GroupName),
		Ingress:   parseIngress(sg.IpPermissions),
		Tags:      parseTags(sg.Tags),
	}, nil
}

// FindHostedZoneID resolves a public zone name to its bare id
func (c *AwsClient) FindHostedZoneID(ctx context.Context, zoneName string) (string, error) {
	logger := logger.For(packageName, "FindHostedZoneID").With(
		zap.String("zone", zoneName),
	)

	var output *route53.ListHostedZonesByNameOutput
	err := c.call(ctx, "ListHostedZonesByName", func(ctx context.Context) error {
		var err error
		output, err = c.route53.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
			DNSName:  aws.String(zoneName),
			MaxItems: aws.Int32(1),
		})
		return err
	})
	if err != nil {
		logger.Error("Failed to list hosted zones",
			zap.String("operation", "zone_lookup"),
			zap.Error(err),
		)
		return "", errors.New(errors.ErrAWSDNS, "failed to list hosted zones",
			map[string]interface{}{"zone": zoneName}, err)
	}

	for _, z := range output.HostedZones {
		if fqdn(aws.ToString(z.Name)) == fqdn(zoneName) {
			return strings.TrimPrefix(aws.ToString(z.Id), "/hostedzone/"), nil
		}
	}
	return "", errors.New(errors.ErrAWSDNS, "hosted zone not found",
		map[string]interface{}{"zone": zoneName}, nil)
}

// GetARecord reads the A record set for name in the zone
func (c *AwsClient) GetARecord(ctx context.Context, zoneID, name string) (*models.DNSRecord, error) {
	logger := logger.For(packageName, "GetARecord").With(
		zap.String("zone_id", zoneID),
		zap.String("name", name),
	)

	var output *route53.ListResourceRecordSetsOutput
	err := c.call(ctx, "ListResourceRecordSets", func(ctx context.Context) error {
		var err error
		output, err = c.route53.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    aws.String(zoneID),
			StartRecordName: aws.String(name),
			StartRecordType: r53types.RRTypeA,
			MaxItems:        aws.Int32(1),
		})
		return err
	})
	if err != nil {
		logger.Error("Failed to list record sets",
			zap.String("operation", "record_lookup"),
			zap.Error(err),
		)
		return nil, errors.New(errors.ErrAWSDNS, "failed to list record sets",
			map[string]interface{}{"zone_id": zoneID, "name": name}, err)
	}

	for _, rs := range output.ResourceRecordSets {
		if fqdn(aws.ToString(rs.Name)) != fqdn(name) || rs.Type != r53types.RRTypeA {
			continue
		}
		record := &models.DNSRecord{
			Name: aws.ToString(rs.Name),
			Type: string(rs.Type),
			TTL:  aws.ToInt64(rs.TTL),
		}
		for _, rr := range rs.ResourceRecords {
			record.Values = append(record.Values, aws.ToString(rr.Value))
		}
		return record, nil
	}
	return nil, errors.New(errors.ErrAWSDNS, "A record not found",
		map[string]interface{}{"zone_id": zoneID, "name": name}, nil)
}

// CallerAccount returns the account id of the loaded credentials
func (c *AwsClient) CallerAccount(ctx context.Context) (string, error) {
	var output *sts.GetCallerIdentityOutput
	err := c.call(ctx, "GetCallerIdentity", func(ctx context.Context) error {
		var err error
		output, err = c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		return err
	})
	if err != nil {
		return "", errors.New(errors.ErrAWSIdentity, "failed to resolve caller identity", nil, err)
	}
	return aws.ToString(output.Account), nil
}

// VerifyAccount fails when the credentials belong to a different account
func (c *AwsClient) VerifyAccount(ctx context.Context, expected string) error {
	account, err := c.CallerAccount(ctx)
	if err != nil {
		return err
	}
	if account != expected {
		return errors.New(errors.ErrAWSIdentity, "credentials belong to a different account",
			map[string]interface{}{
				"expected": expected,
				"actual":   account,
			}, nil)
	}
	return nil
}

func fqdn(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, ".")) + "."
}

func parseTags(tags []types.Tag) map[string]string {
	result := make(map[string]string, len(tags))
	for _, tag := range tags {
		if tag.Key != nil && tag.Value != nil {
			result[*tag.Key] = *tag.Value
		}
	}
	return result
}

func parseSecurityGroups(groups []types.GroupIdentifier) []string {
	result := make([]string, 0, len(groups))
	for _, group := range groups {
		result = append(result, aws.ToString(group.GroupId))
	}
	return result
}

// parseIngress flattens permissions to one entry per source range
func parseIngress(perms []types.IpPermission) []models.IngressPermission {
	result := make([]models.IngressPermission, 0)
	for _, p := range perms {
		for _, r := range p.IpRanges {
			result = append(result, models.IngressPermission{
				Protocol: aws.ToString(p.IpProtocol),
				FromPort: int(aws.ToInt32(p.FromPort)),
				ToPort:   int(aws.ToInt32(p.ToPort)),
				Source:   aws.ToString(r.CidrIp),
			})
		}
	}
	return result
}
