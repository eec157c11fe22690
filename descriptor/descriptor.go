// Package descriptor builds the resource graph of the course chatbot stack.
//
// Build is a pure function of its inputs: it performs no I/O, reads no clock
// and uses no randomness, so the same inputs always produce the same graph.
// Submitting the graph is left to a provisioning engine (see package
// provision).
package descriptor

import (
	"fmt"
	"net"
	"sort"

	"github.com/apparentlymart/go-cidr/cidr"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// Logical ids of the declared resources
const (
	NetworkID              = "courseChatbotVpc"
	InternetGatewayID      = "courseChatbotIgw"
	PublicRouteTableID     = "courseChatbotPublicRouteTable"
	DefaultRouteID         = "courseChatbotPublicDefaultRoute"
	SecurityGroupID        = "courseChatbotSg"
	RoleID                 = "courseChatbotRole"
	InstanceProfileID      = "courseChatbotInstanceProfile"
	InstanceID             = "courseChatbotInstance"
	ElasticIPID            = "courseChatbotEip"
	ElasticIPAssociationID = "courseChatbotEipAssoc"
	HostedZoneID           = "courseChatbotZone"
	DNSRecordID            = "courseChatbotARecord"

	PublicIPOutput   = "courseChatbotPublicIp"
	InstanceIDOutput = "courseChatbotInstanceId"
)

const (
	ec2ServicePrincipal = "ec2.amazonaws.com"
	anywhereIPv4        = "0.0.0.0/0"
)

// SubnetID returns the logical id of the n-th public subnet, counting from 1
func SubnetID(n int) string {
	return fmt.Sprintf("courseChatbotPublicSubnet%d", n)
}

// SubnetAssociationID returns the logical id of the n-th subnet's route table association
func SubnetAssociationID(n int) string {
	return fmt.Sprintf("courseChatbotPublicSubnet%dRouteTableAssoc", n)
}

// PolicyAttachmentID returns the logical id of a managed policy attachment
func PolicyAttachmentID(policyName string) string {
	return RoleID + policyName
}

var taggable = map[models.Kind]bool{
	models.KindNetwork:         true,
	models.KindInternetGateway: true,
	models.KindSubnet:          true,
	models.KindRouteTable:      true,
	models.KindSecurityGroup:   true,
	models.KindRole:            true,
	models.KindInstance:        true,
	models.KindElasticIP:       true,
	models.KindHostedZone:      true,
}

// Build validates the inputs and returns the stack's resource graph.
// No graph is returned when validation fails.
func Build(sc models.StackContext, spec models.StackSpec) (*models.ResourceGraph, error) {
	if err := Validate(sc, spec); err != nil {
		return nil, err
	}

	b := &builder{graph: &models.ResourceGraph{Stack: sc, Variant: spec.Variant}}

	network := b.add(NetworkID, models.KindNetwork, models.NetworkProps{
		CIDR:               spec.NetworkCIDR,
		MaxAZs:             spec.MaxAZs,
		EnableDNSHostnames: true,
	})
	igw := b.add(InternetGatewayID, models.KindInternetGateway, models.InternetGatewayProps{Network: id(network)})
	routeTable := b.add(PublicRouteTableID, models.KindRouteTable, models.RouteTableProps{Network: id(network)})
	b.add(DefaultRouteID, models.KindRoute, models.RouteProps{
		RouteTable:  id(routeTable),
		Gateway:     id(igw),
		Destination: anywhereIPv4,
	})

	subnetCIDRs, err := carveSubnets(spec.NetworkCIDR, spec.SubnetMask, spec.MaxAZs)
	if err != nil {
		return nil, err
	}
	var firstSubnet string
	for i, block := range subnetCIDRs {
		subnet := b.add(SubnetID(i+1), models.KindSubnet, models.SubnetProps{
			Network:     id(network),
			CIDR:        block,
			AZIndex:     i,
			MapPublicIP: true,
		})
		b.add(SubnetAssociationID(i+1), models.KindRouteTableAssociation, models.RouteTableAssociationProps{
			RouteTable: id(routeTable),
			Subnet:     id(subnet),
		})
		if firstSubnet == "" {
			firstSubnet = subnet
		}
	}

	sg := b.add(SecurityGroupID, models.KindSecurityGroup, models.SecurityGroupProps{
		Network:          id(network),
		Description:      "course chatbot instance access",
		Ingress:          append([]models.IngressRule(nil), spec.Ingress...),
		AllowAllOutbound: true,
	})

	role := b.add(RoleID, models.KindRole, models.RoleProps{ServicePrincipal: ec2ServicePrincipal})
	for _, name := range NewPolicySet(spec.ManagedPolicies...).Names() {
		b.add(PolicyAttachmentID(name), models.KindPolicyAttachment, models.PolicyAttachmentProps{
			Role:       models.Ref{Node: role, Attr: models.AttrName},
			PolicyName: name,
			PolicyARN:  managedPolicyARN(name),
		})
	}
	profile := b.add(InstanceProfileID, models.KindInstanceProfile, models.InstanceProfileProps{
		Role: models.Ref{Node: role, Attr: models.AttrName},
	})

	instance := b.add(InstanceID, models.KindInstance, models.InstanceProps{
		InstanceType:    spec.InstanceType,
		Image:           spec.Image,
		Subnet:          id(firstSubnet),
		SecurityGroup:   id(sg),
		InstanceProfile: models.Ref{Node: profile, Attr: models.AttrName},
		KeyName:         spec.KeyPairName,
		UserData:        BootstrapScript(spec).Render(),
	})

	// The address is allocated only once the instance exists and is released
	// before it is destroyed.
	eip := b.add(ElasticIPID, models.KindElasticIP, models.ElasticIPProps{Domain: "vpc"}, instance)
	b.add(ElasticIPAssociationID, models.KindElasticIPAssociation, models.ElasticIPAssociationProps{
		ElasticIP: models.Ref{Node: eip, Attr: models.AttrAllocationID},
		Instance:  id(instance),
	})

	zone := models.ZoneTarget{ExistingID: spec.DNS.ExistingZoneID}
	if spec.DNS.CreateZone {
		z := b.add(HostedZoneID, models.KindHostedZone, models.HostedZoneProps{ZoneName: spec.DNS.DomainName})
		zone = models.ZoneTarget{Zone: &models.Ref{Node: z, Attr: models.AttrZoneID}}
	}
	b.add(DNSRecordID, models.KindDNSRecord, models.DNSRecordProps{
		Zone:    zone,
		Name:    spec.DNS.DomainName,
		Type:    "A",
		TTL:     spec.DNS.TTL,
		Address: models.Ref{Node: eip, Attr: models.AttrPublicIP},
	})

	b.graph.Outputs = []models.Output{
		{Name: PublicIPOutput, Value: models.Ref{Node: eip, Attr: models.AttrPublicIP}},
		{Name: InstanceIDOutput, Value: id(instance)},
	}

	if _, err := CreationOrder(b.graph); err != nil {
		return nil, err
	}
	return b.graph, nil
}

type builder struct {
	graph *models.ResourceGraph
}

// add declares a node whose dependencies are its references plus extra.
func (b *builder) add(nodeID string, kind models.Kind, props models.Props, extra ...string) string {
	deps := make(map[string]struct{})
	for _, r := range props.References() {
		deps[r.Node] = struct{}{}
	}
	for _, e := range extra {
		deps[e] = struct{}{}
	}
	dependsOn := make([]string, 0, len(deps))
	for d := range deps {
		dependsOn = append(dependsOn, d)
	}
	sort.Strings(dependsOn)

	var tags map[string]string
	if taggable[kind] {
		tags = map[string]string{
			"Name":  b.graph.Stack.StackName + "/" + nodeID,
			"Stack": b.graph.Stack.StackName,
		}
	}

	b.graph.Nodes = append(b.graph.Nodes, models.Node{
		ID:        nodeID,
		Kind:      kind,
		DependsOn: dependsOn,
		Tags:      tags,
		Props:     props,
	})
	return nodeID
}

func id(node string) models.Ref {
	return models.Ref{Node: node, Attr: models.AttrID}
}

// carveSubnets splits the network into count consecutive blocks of the given mask
func carveSubnets(networkCIDR string, mask, count int) ([]string, error) {
	_, base, err := net.ParseCIDR(networkCIDR)
	if err != nil {
		return nil, errors.New(errors.ErrValidation, "invalid network CIDR",
			map[string]interface{}{"cidr": networkCIDR}, err)
	}
	prefix, _ := base.Mask.Size()
	blocks := make([]string, 0, count)
	for i := 0; i < count; i++ {
		subnet, err := cidr.Subnet(base, mask-prefix, i)
		if err != nil {
			return nil, errors.New(errors.ErrValidation, "cannot carve subnet",
				map[string]interface{}{"cidr": networkCIDR, "mask": mask, "index": i}, err)
		}
		blocks = append(blocks, subnet.String())
	}
	return blocks, nil
}
