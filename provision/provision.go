// Package provision hands a resource graph to Pulumi, the provisioning
// engine that reconciles it against the cloud.
package provision

import (
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/route53"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ssm"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"coursechatbot/descriptor"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

const (
	packageName = "provision"
)

// created tracks an engine resource and the attributes other nodes may reference
type created struct {
	resource pulumi.Resource
	attrs    map[string]pulumi.StringOutput
}

// Result lists the engine resources by node id
type Result struct {
	Resources map[string]pulumi.Resource
	Outputs   map[string]pulumi.StringOutput
}

type applier struct {
	ctx    *pulumi.Context
	graph  *models.ResourceGraph
	zones  []string
	image  string
	nodes  map[string]*created
	logger *zap.Logger
}

// Apply registers every node of the graph with the engine in creation order
// and exports the graph outputs. Engine errors are returned as
// PROVISION_ERROR and never retried here.
func Apply(ctx *pulumi.Context, graph *models.ResourceGraph) (*Result, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Apply"),
		zap.String("stack", graph.Stack.StackName),
	)

	order, err := descriptor.CreationOrder(graph)
	if err != nil {
		return nil, err
	}

	a := &applier{
		ctx:    ctx,
		graph:  graph,
		nodes:  make(map[string]*created, len(graph.Nodes)),
		logger: logger,
	}
	if err := a.resolveLookups(); err != nil {
		return nil, err
	}

	for _, nodeID := range order {
		node, _ := graph.Node(nodeID)
		c, err := a.register(node)
		if err != nil {
			logger.Error("Failed to register resource",
				zap.String("operation", "resource_register"),
				zap.String("node", node.ID),
				zap.String("kind", string(node.Kind)),
				zap.Error(err),
			)
			return nil, errors.New(errors.ErrProvision, "engine rejected resource "+node.ID,
				map[string]interface{}{
					"node": node.ID,
					"kind": string(node.Kind),
				}, err)
		}
		a.nodes[nodeID] = c
		logger.Debug("Resource registered",
			zap.String("operation", "resource_register"),
			zap.String("node", node.ID),
			zap.String("kind", string(node.Kind)),
		)
	}

	result := &Result{
		Resources: make(map[string]pulumi.Resource, len(a.nodes)),
		Outputs:   make(map[string]pulumi.StringOutput, len(graph.Outputs)),
	}
	for nodeID, c := range a.nodes {
		result.Resources[nodeID] = c.resource
	}
	for _, o := range graph.Outputs {
		value, err := a.ref(o.Value)
		if err != nil {
			return nil, err
		}
		ctx.Export(o.Name, value)
		result.Outputs[o.Name] = value
	}

	logger.Info("Graph submitted to engine",
		zap.String("operation", "graph_apply"),
		zap.Int("resources", len(result.Resources)),
		zap.Int("outputs", len(result.Outputs)),
	)
	return result, nil
}

// resolveLookups reads the deploy-time facts the graph leaves open: the
// region's availability zones and the base image id.
func (a *applier) resolveLookups() error {
	maxAZ := 0
	for _, n := range a.graph.NodesOfKind(models.KindSubnet) {
		if p := n.Props.(models.SubnetProps); p.AZIndex+1 > maxAZ {
			maxAZ = p.AZIndex + 1
		}
	}
	if maxAZ > 0 {
		zones, err := aws.GetAvailabilityZones(a.ctx, &aws.GetAvailabilityZonesArgs{
			State: pulumi.StringRef("available"),
		})
		if err != nil {
			return errors.New(errors.ErrProvision, "cannot list availability zones", nil, err)
		}
		if len(zones.Names) < maxAZ {
			return errors.New(errors.ErrProvision, "region has too few availability zones",
				map[string]interface{}{
					"region":    a.graph.Stack.Region,
					"required":  maxAZ,
					"available": len(zones.Names),
				}, nil)
		}
		a.zones = zones.Names
	}

	for _, n := range a.graph.NodesOfKind(models.KindInstance) {
		image := n.Props.(models.InstanceProps).Image
		if image.ID != "" {
			a.image = image.ID
			continue
		}
		param, err := ssm.LookupParameter(a.ctx, &ssm.LookupParameterArgs{Name: image.SSMParameter})
		if err != nil {
			return errors.New(errors.ErrProvision, "cannot resolve image parameter",
				map[string]interface{}{"parameter": image.SSMParameter}, err)
		}
		a.image = param.Value
	}
	return nil
}

func (a *applier) ref(r models.Ref) (pulumi.StringOutput, error) {
	c, ok := a.nodes[r.Node]
	if !ok {
		return pulumi.StringOutput{}, errors.New(errors.ErrGraph, "reference to unregistered node",
			map[string]interface{}{"node": r.Node}, nil)
	}
	out, ok := c.attrs[r.Attr]
	if !ok {
		return pulumi.StringOutput{}, errors.New(errors.ErrGraph, "reference to unknown attribute",
			map[string]interface{}{"node": r.Node, "attr": r.Attr}, nil)
	}
	return out, nil
}

// options turns dependencies that no reference carries into explicit engine
// dependencies.
func (a *applier) options(node models.Node) []pulumi.ResourceOption {
	var extra []pulumi.Resource
	for _, dep := range node.ExplicitDependencies() {
		extra = append(extra, a.nodes[dep].resource)
	}
	if len(extra) == 0 {
		return nil
	}
	return []pulumi.ResourceOption{pulumi.DependsOn(extra)}
}

func tags(node models.Node) pulumi.StringMap {
	if len(node.Tags) == 0 {
		return nil
	}
	m := make(pulumi.StringMap, len(node.Tags))
	for k, v := range node.Tags {
		m[k] = pulumi.String(v)
	}
	return m
}

func withID(res pulumi.CustomResource, attrs map[string]pulumi.StringOutput) *created {
	if attrs == nil {
		attrs = map[string]pulumi.StringOutput{}
	}
	attrs[models.AttrID] = res.ID().ToStringOutput()
	return &created{resource: res, attrs: attrs}
}

// resolve looks up every reference of node among the registered outputs
func (a *applier) resolve(node models.Node) (map[models.Ref]pulumi.StringOutput, error) {
	resolved := make(map[models.Ref]pulumi.StringOutput)
	for _, r := range node.Props.References() {
		out, err := a.ref(r)
		if err != nil {
			return nil, err
		}
		resolved[r] = out
	}
	return resolved, nil
}

// register creates the engine resource for node. References are resolved
// before anything is sent to the engine.
func (a *applier) register(node models.Node) (*created, error) {
	resolved, err := a.resolve(node)
	if err != nil {
		return nil, err
	}
	ctx, opts := a.ctx, a.options(node)
	ref := func(r models.Ref) pulumi.StringOutput {
		return resolved[r]
	}

	var c *created
	switch p := node.Props.(type) {
	case models.NetworkProps:
		var vpc *ec2.Vpc
		vpc, err = ec2.NewVpc(ctx, node.ID, &ec2.VpcArgs{
			CidrBlock:          pulumi.String(p.CIDR),
			EnableDnsHostnames: pulumi.Bool(p.EnableDNSHostnames),
			EnableDnsSupport:   pulumi.Bool(true),
			Tags:               tags(node),
		}, opts...)
		if err == nil {
			c = withID(vpc, nil)
		}

	case models.InternetGatewayProps:
		var igw *ec2.InternetGateway
		igw, err = ec2.NewInternetGateway(ctx, node.ID, &ec2.InternetGatewayArgs{
			VpcId: ref(p.Network),
			Tags:  tags(node),
		}, opts...)
		if err == nil {
			c = withID(igw, nil)
		}

	case models.SubnetProps:
		var subnet *ec2.Subnet
		subnet, err = ec2.NewSubnet(ctx, node.ID, &ec2.SubnetArgs{
			VpcId:               ref(p.Network),
			CidrBlock:           pulumi.String(p.CIDR),
			AvailabilityZone:    pulumi.String(a.zones[p.AZIndex]),
			MapPublicIpOnLaunch: pulumi.Bool(p.MapPublicIP),
			Tags:                tags(node),
		}, opts...)
		if err == nil {
			c = withID(subnet, nil)
		}

	case models.RouteTableProps:
		var rt *ec2.RouteTable
		rt, err = ec2.NewRouteTable(ctx, node.ID, &ec2.RouteTableArgs{
			VpcId: ref(p.Network),
			Tags:  tags(node),
		}, opts...)
		if err == nil {
			c = withID(rt, nil)
		}

	case models.RouteProps:
		var route *ec2.Route
		route, err = ec2.NewRoute(ctx, node.ID, &ec2.RouteArgs{
			RouteTableId:         ref(p.RouteTable),
			DestinationCidrBlock: pulumi.String(p.Destination),
			GatewayId:            ref(p.Gateway),
		}, opts...)
		if err == nil {
			c = withID(route, nil)
		}

	case models.RouteTableAssociationProps:
		var assoc *ec2.RouteTableAssociation
		assoc, err = ec2.NewRouteTableAssociation(ctx, node.ID, &ec2.RouteTableAssociationArgs{
			RouteTableId: ref(p.RouteTable),
			SubnetId:     ref(p.Subnet),
		}, opts...)
		if err == nil {
			c = withID(assoc, nil)
		}

	case models.SecurityGroupProps:
		ingress := make(ec2.SecurityGroupIngressArray, 0, len(p.Ingress))
		for _, r := range p.Ingress {
			ingress = append(ingress, &ec2.SecurityGroupIngressArgs{
				Description: pulumi.String(r.Description),
				Protocol:    pulumi.String(r.Protocol),
				FromPort:    pulumi.Int(r.Port),
				ToPort:      pulumi.Int(r.Port),
				CidrBlocks:  pulumi.StringArray{pulumi.String(r.Source)},
			})
		}
		var egress ec2.SecurityGroupEgressArray
		if p.AllowAllOutbound {
			egress = ec2.SecurityGroupEgressArray{&ec2.SecurityGroupEgressArgs{
				Description: pulumi.String("allow all outbound traffic"),
				Protocol:    pulumi.String("-1"),
				FromPort:    pulumi.Int(0),
				ToPort:      pulumi.Int(0),
				CidrBlocks:  pulumi.StringArray{pulumi.String("0.0.0.0/0")},
			}}
		}
		var sg *ec2.SecurityGroup
		sg, err = ec2.NewSecurityGroup(ctx, node.ID, &ec2.SecurityGroupArgs{
			VpcId:       ref(p.Network),
			Description: pulumi.String(p.Description),
			Ingress:     ingress,
			Egress:      egress,
			Tags:        tags(node),
		}, opts...)
		if err == nil {
			c = withID(sg, nil)
		}

	case models.RoleProps:
		var policy string
		policy, err = descriptor.AssumeRolePolicy(p.ServicePrincipal)
		if err != nil {
			return nil, err
		}
		var role *iam.Role
		role, err = iam.NewRole(ctx, node.ID, &iam.RoleArgs{
			AssumeRolePolicy: pulumi.String(policy),
			Tags:             tags(node),
		}, opts...)
		if err == nil {
			c = withID(role, map[string]pulumi.StringOutput{models.AttrName: role.Name})
		}

	case models.PolicyAttachmentProps:
		var attachment *iam.RolePolicyAttachment
		attachment, err = iam.NewRolePolicyAttachment(ctx, node.ID, &iam.RolePolicyAttachmentArgs{
			Role:      ref(p.Role),
			PolicyArn: pulumi.String(p.PolicyARN),
		}, opts...)
		if err == nil {
			c = withID(attachment, nil)
		}

	case models.InstanceProfileProps:
		var profile *iam.InstanceProfile
		profile, err = iam.NewInstanceProfile(ctx, node.ID, &iam.InstanceProfileArgs{
			Role: ref(p.Role),
		}, opts...)
		if err == nil {
			c = withID(profile, map[string]pulumi.StringOutput{models.AttrName: profile.Name})
		}

	case models.InstanceProps:
		// The script only runs at first boot; editing it must not replace the host.
		var instance *ec2.Instance
		instance, err = ec2.NewInstance(ctx, node.ID, &ec2.InstanceArgs{
			Ami:                     pulumi.String(a.image),
			InstanceType:            pulumi.String(p.InstanceType),
			SubnetId:                ref(p.Subnet),
			VpcSecurityGroupIds:     pulumi.StringArray{ref(p.SecurityGroup)},
			IamInstanceProfile:      ref(p.InstanceProfile),
			KeyName:                 pulumi.String(p.KeyName),
			UserData:                pulumi.String(p.UserData),
			UserDataReplaceOnChange: pulumi.Bool(false),
			Tags:                    tags(node),
		}, opts...)
		if err == nil {
			c = withID(instance, map[string]pulumi.StringOutput{models.AttrPublicIP: instance.PublicIp})
		}

	case models.ElasticIPProps:
		var eip *ec2.Eip
		eip, err = ec2.NewEip(ctx, node.ID, &ec2.EipArgs{
			Domain: pulumi.String(p.Domain),
			Tags:   tags(node),
		}, opts...)
		if err == nil {
			c = withID(eip, map[string]pulumi.StringOutput{
				models.AttrPublicIP:     eip.PublicIp,
				models.AttrAllocationID: eip.AllocationId,
			})
		}

	case models.ElasticIPAssociationProps:
		var assoc *ec2.EipAssociation
		assoc, err = ec2.NewEipAssociation(ctx, node.ID, &ec2.EipAssociationArgs{
			AllocationId: ref(p.ElasticIP),
			InstanceId:   ref(p.Instance),
		}, opts...)
		if err == nil {
			c = withID(assoc, nil)
		}

	case models.HostedZoneProps:
		var zone *route53.Zone
		zone, err = route53.NewZone(ctx, node.ID, &route53.ZoneArgs{
			Name: pulumi.String(p.ZoneName),
			Tags: tags(node),
		}, opts...)
		if err == nil {
			c = withID(zone, map[string]pulumi.StringOutput{models.AttrZoneID: zone.ZoneId})
		}

	case models.DNSRecordProps:
		zoneID := pulumi.String(p.Zone.ExistingID).ToStringOutput()
		if p.Zone.Zone != nil {
			zoneID = ref(*p.Zone.Zone)
		}
		var record *route53.Record
		record, err = route53.NewRecord(ctx, node.ID, &route53.RecordArgs{
			ZoneId:  zoneID,
			Name:    pulumi.String(p.Name),
			Type:    pulumi.String(p.Type),
			Ttl:     pulumi.Int(p.TTL),
			Records: pulumi.StringArray{ref(p.Address)},
		}, opts...)
		if err == nil {
			c = withID(record, nil)
		}

	default:
		return nil, errors.New(errors.ErrGraph, "unsupported node kind",
			map[string]interface{}{"node": node.ID, "kind": string(node.Kind)}, nil)
	}

	if err != nil {
		return nil, err
	}
	return c, nil
}
