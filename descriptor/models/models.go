package models

import "strconv"

// StackContext identifies where a graph is deployed
type StackContext struct {
	Account   string `json:"account,omitempty"`
	Region    string `json:"region"`
	StackName string `json:"stack_name"`
}

// Variant selects the package installation method of the bootstrap script
type Variant string

const (
	VariantStandard     Variant = "standard"
	VariantSourcePython Variant = "source-python"
)

// Assets are the local files embedded into the bootstrap script, already loaded
type Assets struct {
	NginxConfig    string `json:"-"`
	TLSCertificate string `json:"-"`
	TLSPrivateKey  string `json:"-"`
	ServiceUnit    string `json:"-"`
}

// IngressRule is one (protocol, port, source) tuple of the security rule set
type IngressRule struct {
	Protocol    string `json:"protocol"`
	Port        int    `json:"port"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// Key returns the identity of the rule; descriptions do not participate
func (r IngressRule) Key() string {
	return r.Protocol + "/" + strconv.Itoa(r.Port) + "/" + r.Source
}

// DNSSpec configures the DNS integration
type DNSSpec struct {
	DomainName     string `json:"domain_name"`
	CreateZone     bool   `json:"create_zone"`
	ExistingZoneID string `json:"existing_zone_id,omitempty"`
	TTL            int    `json:"ttl"`
}

// ImageRef references the base image either directly or through an SSM parameter
type ImageRef struct {
	ID           string `json:"id,omitempty"`
	SSMParameter string `json:"ssm_parameter,omitempty"`
}

// StackSpec holds every input of a build
type StackSpec struct {
	Variant         Variant       `json:"variant"`
	NetworkCIDR     string        `json:"network_cidr"`
	SubnetMask      int           `json:"subnet_mask"`
	MaxAZs          int           `json:"max_azs"`
	Ingress         []IngressRule `json:"ingress"`
	InstanceType    string        `json:"instance_type"`
	Image           ImageRef      `json:"image"`
	KeyPairName     string        `json:"key_pair_name"`
	ManagedPolicies []string      `json:"managed_policies"`
	AppName         string        `json:"app_name"`
	PythonVersion   string        `json:"python_version,omitempty"`
	DNS             DNSSpec       `json:"dns"`
	Assets          Assets        `json:"-"`
}
