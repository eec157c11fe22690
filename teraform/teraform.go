// Package teraform renders a resource graph as Terraform configuration so a
// stack can be reviewed or applied with Terraform instead of Pulumi.
package teraform

import (
	"regexp"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/zap"

	"coursechatbot/descriptor"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

const (
	packageName = "teraform"

	zonesData = "available"
	imageData = "image"
)

// resourceTypes maps node kinds to Terraform resource types
var resourceTypes = map[models.Kind]string{
	models.KindNetwork:               "aws_vpc",
	models.KindInternetGateway:       "aws_internet_gateway",
	models.KindSubnet:                "aws_subnet",
	models.KindRouteTable:            "aws_route_table",
	models.KindRoute:                 "aws_route",
	models.KindRouteTableAssociation: "aws_route_table_association",
	models.KindSecurityGroup:         "aws_security_group",
	models.KindRole:                  "aws_iam_role",
	models.KindPolicyAttachment:      "aws_iam_role_policy_attachment",
	models.KindInstanceProfile:       "aws_iam_instance_profile",
	models.KindInstance:              "aws_instance",
	models.KindElasticIP:             "aws_eip",
	models.KindElasticIPAssociation:  "aws_eip_association",
	models.KindHostedZone:            "aws_route53_zone",
	models.KindDNSRecord:             "aws_route53_record",
}

var invalidName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ResourceName turns a node id into a Terraform resource name
func ResourceName(nodeID string) string {
	return invalidName.ReplaceAllString(nodeID, "_")
}

type renderer struct {
	graph *models.ResourceGraph
	kinds map[string]models.Kind
}

// RenderHCL renders the graph as a Terraform configuration file
func RenderHCL(graph *models.ResourceGraph) ([]byte, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "RenderHCL"),
		zap.String("stack", graph.Stack.StackName),
	)

	order, err := descriptor.CreationOrder(graph)
	if err != nil {
		return nil, err
	}

	r := &renderer{graph: graph, kinds: make(map[string]models.Kind, len(graph.Nodes))}
	for _, n := range graph.Nodes {
		r.kinds[n.ID] = n.Kind
	}

	f := hclwrite.NewEmptyFile()
	body := f.Body()
	r.header(body)

	for _, nodeID := range order {
		node, _ := graph.Node(nodeID)
		if err := r.resource(body, node); err != nil {
			logger.Error("Failed to render resource",
				zap.String("operation", "hcl_render"),
				zap.String("node", node.ID),
				zap.Error(err),
			)
			return nil, err
		}
	}

	for _, o := range graph.Outputs {
		body.AppendNewline()
		out := body.AppendNewBlock("output", []string{o.Name}).Body()
		out.SetAttributeTraversal("value", r.traversal(o.Value))
	}

	logger.Info("Terraform configuration rendered",
		zap.String("operation", "hcl_render"),
		zap.Int("resources", len(order)),
	)
	return hclwrite.Format(f.Bytes()), nil
}

// WriteHCL renders the graph and writes it to path
func WriteHCL(fsys afero.Fs, path string, graph *models.ResourceGraph) error {
	src, err := RenderHCL(graph)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fsys, path, src, 0644); err != nil {
		return errors.New(errors.ErrRender, "cannot write terraform configuration",
			map[string]interface{}{"path": path}, err)
	}
	zap.L().Info("Terraform configuration written",
		zap.String("package", packageName),
		zap.String("operation", "hcl_write"),
		zap.String("path", path),
	)
	return nil
}

func (r *renderer) header(body *hclwrite.Body) {
	tf := body.AppendNewBlock("terraform", nil).Body()
	providers := tf.AppendNewBlock("required_providers", nil).Body()
	providers.SetAttributeValue("aws", cty.ObjectVal(map[string]cty.Value{
		"source":  cty.StringVal("hashicorp/aws"),
		"version": cty.StringVal(">= 5.0"),
	}))

	body.AppendNewline()
	provider := body.AppendNewBlock("provider", []string{"aws"}).Body()
	provider.SetAttributeValue("region", cty.StringVal(r.graph.Stack.Region))
	if r.graph.Stack.Account != "" {
		provider.SetAttributeValue("allowed_account_ids", cty.ListVal([]cty.Value{cty.StringVal(r.graph.Stack.Account)}))
	}

	if len(r.graph.NodesOfKind(models.KindSubnet)) > 0 {
		body.AppendNewline()
		zones := body.AppendNewBlock("data", []string{"aws_availability_zones", zonesData}).Body()
		zones.SetAttributeValue("state", cty.StringVal("available"))
	}

	for _, n := range r.graph.NodesOfKind(models.KindInstance) {
		if param := n.Props.(models.InstanceProps).Image.SSMParameter; param != "" {
			body.AppendNewline()
			image := body.AppendNewBlock("data", []string{"aws_ssm_parameter", imageData}).Body()
			image.SetAttributeValue("name", cty.StringVal(param))
		}
	}
}

// traversal renders a reference as <type>.<name>.<attr>
func (r *renderer) traversal(ref models.Ref) hcl.Traversal {
	return hcl.Traversal{
		hcl.TraverseRoot{Name: resourceTypes[r.kinds[ref.Node]]},
		hcl.TraverseAttr{Name: ResourceName(ref.Node)},
		hcl.TraverseAttr{Name: ref.Attr},
	}
}

func (r *renderer) resource(body *hclwrite.Body, node models.Node) error {
	resourceType, ok := resourceTypes[node.Kind]
	if !ok {
		return errors.New(errors.ErrRender, "unsupported node kind",
			map[string]interface{}{"node": node.ID, "kind": string(node.Kind)}, nil)
	}

	body.AppendNewline()
	b := body.AppendNewBlock("resource", []string{resourceType, ResourceName(node.ID)}).Body()

	switch p := node.Props.(type) {
	case models.NetworkProps:
		b.SetAttributeValue("cidr_block", cty.StringVal(p.CIDR))
		b.SetAttributeValue("enable_dns_hostnames", cty.BoolVal(p.EnableDNSHostnames))
		b.SetAttributeValue("enable_dns_support", cty.True)

	case models.InternetGatewayProps:
		b.SetAttributeTraversal("vpc_id", r.traversal(p.Network))

	case models.SubnetProps:
		b.SetAttributeTraversal("vpc_id", r.traversal(p.Network))
		b.SetAttributeValue("cidr_block", cty.StringVal(p.CIDR))
		b.SetAttributeTraversal("availability_zone", hcl.Traversal{
			hcl.TraverseRoot{Name: "data"},
			hcl.TraverseAttr{Name: "aws_availability_zones"},
			hcl.TraverseAttr{Name: zonesData},
			hcl.TraverseAttr{Name: "names"},
			hcl.TraverseIndex{Key: cty.NumberIntVal(int64(p.AZIndex))},
		})
		b.SetAttributeValue("map_public_ip_on_launch", cty.BoolVal(p.MapPublicIP))

	case models.RouteTableProps:
		b.SetAttributeTraversal("vpc_id", r.traversal(p.Network))

	case models.RouteProps:
		b.SetAttributeTraversal("route_table_id", r.traversal(p.RouteTable))
		b.SetAttributeValue("destination_cidr_block", cty.StringVal(p.Destination))
		b.SetAttributeTraversal("gateway_id", r.traversal(p.Gateway))

	case models.RouteTableAssociationProps:
		b.SetAttributeTraversal("route_table_id", r.traversal(p.RouteTable))
		b.SetAttributeTraversal("subnet_id", r.traversal(p.Subnet))

	case models.SecurityGroupProps:
		b.SetAttributeTraversal("vpc_id", r.traversal(p.Network))
		b.SetAttributeValue("description", cty.StringVal(p.Description))
		for _, rule := range p.Ingress {
			in := b.AppendNewBlock("ingress", nil).Body()
			in.SetAttributeValue("description", cty.StringVal(rule.Description))
			in.SetAttributeValue("protocol", cty.StringVal(rule.Protocol))
			in.SetAttributeValue("from_port", cty.NumberIntVal(int64(rule.Port)))
			in.SetAttributeValue("to_port", cty.NumberIntVal(int64(rule.Port)))
			in.SetAttributeValue("cidr_blocks", cty.ListVal([]cty.Value{cty.StringVal(rule.Source)}))
		}
		if p.AllowAllOutbound {
			out := b.AppendNewBlock("egress", nil).Body()
			out.SetAttributeValue("protocol", cty.StringVal("-1"))
			out.SetAttributeValue("from_port", cty.NumberIntVal(0))
			out.SetAttributeValue("to_port", cty.NumberIntVal(0))
			out.SetAttributeValue("cidr_blocks", cty.ListVal([]cty.Value{cty.StringVal("0.0.0.0/0")}))
		}

	case models.RoleProps:
		policy, err := descriptor.AssumeRolePolicy(p.ServicePrincipal)
		if err != nil {
			return err
		}
		b.SetAttributeValue("assume_role_policy", cty.StringVal(policy))

	case models.PolicyAttachmentProps:
		b.SetAttributeTraversal("role", r.traversal(p.Role))
		b.SetAttributeValue("policy_arn", cty.StringVal(p.PolicyARN))

	case models.InstanceProfileProps:
		b.SetAttributeTraversal("role", r.traversal(p.Role))

	case models.InstanceProps:
		if p.Image.ID != "" {
			b.SetAttributeValue("ami", cty.StringVal(p.Image.ID))
		} else {
			b.SetAttributeTraversal("ami", hcl.Traversal{
				hcl.TraverseRoot{Name: "data"},
				hcl.TraverseAttr{Name: "aws_ssm_parameter"},
				hcl.TraverseAttr{Name: imageData},
				hcl.TraverseAttr{Name: "value"},
			})
		}
		b.SetAttributeValue("instance_type", cty.StringVal(p.InstanceType))
		b.SetAttributeTraversal("subnet_id", r.traversal(p.Subnet))
		b.SetAttributeRaw("vpc_security_group_ids", hclwrite.TokensForTuple([]hclwrite.Tokens{
			hclwrite.TokensForTraversal(r.traversal(p.SecurityGroup)),
		}))
		b.SetAttributeTraversal("iam_instance_profile", r.traversal(p.InstanceProfile))
		b.SetAttributeValue("key_name", cty.StringVal(p.KeyName))
		b.SetAttributeValue("user_data", cty.StringVal(p.UserData))
		b.SetAttributeValue("user_data_replace_on_change", cty.False)

	case models.ElasticIPProps:
		b.SetAttributeValue("domain", cty.StringVal(p.Domain))

	case models.ElasticIPAssociationProps:
		b.SetAttributeTraversal("allocation_id", r.traversal(p.ElasticIP))
		b.SetAttributeTraversal("instance_id", r.traversal(p.Instance))

	case models.HostedZoneProps:
		b.SetAttributeValue("name", cty.StringVal(p.ZoneName))

	case models.DNSRecordProps:
		if p.Zone.Zone != nil {
			b.SetAttributeTraversal("zone_id", r.traversal(*p.Zone.Zone))
		} else {
			b.SetAttributeValue("zone_id", cty.StringVal(p.Zone.ExistingID))
		}
		b.SetAttributeValue("name", cty.StringVal(p.Name))
		b.SetAttributeValue("type", cty.StringVal(p.Type))
		b.SetAttributeValue("ttl", cty.NumberIntVal(int64(p.TTL)))
		b.SetAttributeRaw("records", hclwrite.TokensForTuple([]hclwrite.Tokens{
			hclwrite.TokensForTraversal(r.traversal(p.Address)),
		}))
	}

	if len(node.Tags) > 0 {
		tags := make(map[string]cty.Value, len(node.Tags))
		for k, v := range node.Tags {
			tags[k] = cty.StringVal(v)
		}
		b.SetAttributeValue("tags", cty.MapVal(tags))
	}

	if extra := node.ExplicitDependencies(); len(extra) > 0 {
		deps := make([]hclwrite.Tokens, 0, len(extra))
		for _, dep := range extra {
			deps = append(deps, hclwrite.TokensForTraversal(hcl.Traversal{
				hcl.TraverseRoot{Name: resourceTypes[r.kinds[dep]]},
				hcl.TraverseAttr{Name: ResourceName(dep)},
			}))
		}
		b.SetAttributeRaw("depends_on", hclwrite.TokensForTuple(deps))
	}
	return nil
}
