package models

// Instance is the live view of the stack's compute instance
type Instance struct {
	InstanceID       string
	InstanceType     string
	ImageID          string
	KeyName          string
	State            string
	PublicIP         string
	PrivateIP        string
	SubnetID         string
	SecurityGroupIDs []string
	Tags             map[string]string
}

// ElasticIP is the live view of an allocated address
type ElasticIP struct {
	AllocationID  string
	AssociationID string
	InstanceID    string
	PublicIP      string
	Tags          map[string]string
}

// Associated reports whether the address is attached to an instance
func (e *ElasticIP) Associated() bool {
	return e.AssociationID != "" && e.InstanceID != ""
}

// IngressPermission is one flattened (protocol, port range, source) entry
type IngressPermission struct {
	Protocol string
	FromPort int
	ToPort   int
	Source   string
}

// SecurityGroup represents the live firewall attached to the instance
type SecurityGroup struct {
	GroupID   string
	GroupName string
	Ingress   []IngressPermission
	Tags      map[string]string
}

// DNSRecord is a resource record set as returned by Route 53
type DNSRecord struct {
	Name   string
	Type   string
	TTL    int64
	Values []string
}
