package models

// Kind is the type of a resource declaration
type Kind string

const (
	KindNetwork               Kind = "network"
	KindInternetGateway       Kind = "internet_gateway"
	KindSubnet                Kind = "subnet"
	KindRouteTable            Kind = "route_table"
	KindRoute                 Kind = "route"
	KindRouteTableAssociation Kind = "route_table_association"
	KindSecurityGroup         Kind = "security_group"
	KindRole                  Kind = "role"
	KindPolicyAttachment      Kind = "policy_attachment"
	KindInstanceProfile       Kind = "instance_profile"
	KindInstance              Kind = "instance"
	KindElasticIP             Kind = "elastic_ip"
	KindElasticIPAssociation  Kind = "elastic_ip_association"
	KindHostedZone            Kind = "hosted_zone"
	KindDNSRecord             Kind = "dns_record"
)

// Attributes a reference can point at. Values are only known once the
// provisioning engine has created the target.
const (
	AttrID           = "id"
	AttrName         = "name"
	AttrPublicIP     = "public_ip"
	AttrAllocationID = "allocation_id"
	AttrZoneID       = "zone_id"
)

// Ref points at an attribute of another node in the same graph
type Ref struct {
	Node string `json:"node"`
	Attr string `json:"attr"`
}

// Props carries the kind specific configuration of a node
type Props interface {
	References() []Ref
}

// Node is a single resource declaration
type Node struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	DependsOn []string          `json:"depends_on"`
	Tags      map[string]string `json:"tags,omitempty"`
	Props     Props             `json:"props"`
}

// ExplicitDependencies returns the dependencies no reference carries
func (n Node) ExplicitDependencies() []string {
	referenced := make(map[string]bool)
	for _, r := range n.Props.References() {
		referenced[r.Node] = true
	}
	var extra []string
	for _, dep := range n.DependsOn {
		if !referenced[dep] {
			extra = append(extra, dep)
		}
	}
	return extra
}

// Output is a value exported once the graph is reconciled
type Output struct {
	Name  string `json:"name"`
	Value Ref    `json:"value"`
}

// ResourceGraph is the set of declared resources and their dependency edges
type ResourceGraph struct {
	Stack   StackContext `json:"stack"`
	Variant Variant      `json:"variant"`
	Nodes   []Node       `json:"nodes"`
	Outputs []Output     `json:"outputs"`
}

// Node returns the node with the given id
func (g *ResourceGraph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodesOfKind returns the nodes of a kind in declaration order
func (g *ResourceGraph) NodesOfKind(kind Kind) []Node {
	var nodes []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

type NetworkProps struct {
	CIDR               string `json:"cidr"`
	MaxAZs             int    `json:"max_azs"`
	EnableDNSHostnames bool   `json:"enable_dns_hostnames"`
}

func (NetworkProps) References() []Ref { return nil }

type InternetGatewayProps struct {
	Network Ref `json:"network"`
}

func (p InternetGatewayProps) References() []Ref { return []Ref{p.Network} }

// SubnetProps places a subnet in the AZIndex-th available zone of the
// region, resolved at deploy time.
type SubnetProps struct {
	Network     Ref    `json:"network"`
	CIDR        string `json:"cidr"`
	AZIndex     int    `json:"az_index"`
	MapPublicIP bool   `json:"map_public_ip"`
}

func (p SubnetProps) References() []Ref { return []Ref{p.Network} }

type RouteTableProps struct {
	Network Ref `json:"network"`
}

func (p RouteTableProps) References() []Ref { return []Ref{p.Network} }

type RouteProps struct {
	RouteTable  Ref    `json:"route_table"`
	Gateway     Ref    `json:"gateway"`
	Destination string `json:"destination"`
}

func (p RouteProps) References() []Ref { return []Ref{p.RouteTable, p.Gateway} }

type RouteTableAssociationProps struct {
	RouteTable Ref `json:"route_table"`
	Subnet     Ref `json:"subnet"`
}

func (p RouteTableAssociationProps) References() []Ref { return []Ref{p.RouteTable, p.Subnet} }

type SecurityGroupProps struct {
	Network          Ref           `json:"network"`
	Description      string        `json:"description"`
	Ingress          []IngressRule `json:"ingress"`
	AllowAllOutbound bool          `json:"allow_all_outbound"`
}

func (p SecurityGroupProps) References() []Ref { return []Ref{p.Network} }

type RoleProps struct {
	ServicePrincipal string `json:"service_principal"`
}

func (RoleProps) References() []Ref { return nil }

type PolicyAttachmentProps struct {
	Role       Ref    `json:"role"`
	PolicyName string `json:"policy_name"`
	PolicyARN  string `json:"policy_arn"`
}

func (p PolicyAttachmentProps) References() []Ref { return []Ref{p.Role} }

type InstanceProfileProps struct {
	Role Ref `json:"role"`
}

func (p InstanceProfileProps) References() []Ref { return []Ref{p.Role} }

type InstanceProps struct {
	InstanceType    string   `json:"instance_type"`
	Image           ImageRef `json:"image"`
	Subnet          Ref      `json:"subnet"`
	SecurityGroup   Ref      `json:"security_group"`
	InstanceProfile Ref      `json:"instance_profile"`
	KeyName         string   `json:"key_name"`
	UserData        string   `json:"user_data"`
}

func (p InstanceProps) References() []Ref {
	return []Ref{p.Subnet, p.SecurityGroup, p.InstanceProfile}
}

type ElasticIPProps struct {
	Domain string `json:"domain"`
}

func (ElasticIPProps) References() []Ref { return nil }

type ElasticIPAssociationProps struct {
	ElasticIP Ref `json:"elastic_ip"`
	Instance  Ref `json:"instance"`
}

func (p ElasticIPAssociationProps) References() []Ref { return []Ref{p.ElasticIP, p.Instance} }

type HostedZoneProps struct {
	ZoneName string `json:"zone_name"`
}

func (HostedZoneProps) References() []Ref { return nil }

// ZoneTarget is either a zone declared in the graph or an existing zone id
type ZoneTarget struct {
	Zone       *Ref   `json:"zone,omitempty"`
	ExistingID string `json:"existing_id,omitempty"`
}

type DNSRecordProps struct {
	Zone    ZoneTarget `json:"zone"`
	Name    string     `json:"name"`
	Type    string     `json:"type"`
	TTL     int        `json:"ttl"`
	Address Ref        `json:"address"`
}

func (p DNSRecordProps) References() []Ref {
	refs := []Ref{p.Address}
	if p.Zone.Zone != nil {
		refs = append(refs, *p.Zone.Zone)
	}
	return refs
}
