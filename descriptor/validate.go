package descriptor

import (
	"fmt"
	"net"
	"strings"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

const maxSubnetMask = 28

var allowedProtocols = map[string]bool{"tcp": true, "udp": true}

// Validate checks every structural invariant of a build input and reports
// all violations at once.
func Validate(sc models.StackContext, spec models.StackSpec) error {
	var v []string
	add := func(format string, args ...interface{}) {
		v = append(v, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(sc.StackName) == "" {
		add("stack name is required")
	}
	if strings.TrimSpace(sc.Region) == "" {
		add("region is required")
	}

	switch spec.Variant {
	case models.VariantStandard:
	case models.VariantSourcePython:
		if spec.PythonVersion == "" {
			add("variant %q requires a python source version", spec.Variant)
		}
	default:
		add("unknown variant %q", spec.Variant)
	}

	v = append(v, validateNetwork(spec)...)
	v = append(v, validateIngress(spec.Ingress)...)

	if spec.InstanceType == "" {
		add("instance type is required")
	}
	if (spec.Image.ID == "") == (spec.Image.SSMParameter == "") {
		add("exactly one of image id or image SSM parameter must be set")
	}
	if spec.KeyPairName == "" {
		add("key pair name is required")
	}
	if spec.AppName == "" || strings.ContainsAny(spec.AppName, "/ \t\n") {
		add("app name %q is not a valid directory and unit name", spec.AppName)
	}

	v = append(v, validateDNS(spec.DNS)...)
	v = append(v, validateAssets(spec.Assets)...)

	if len(v) == 0 {
		return nil
	}
	return errors.New(errors.ErrValidation,
		"stack spec failed validation: "+strings.Join(v, "; "),
		map[string]interface{}{
			"stack":      sc.StackName,
			"violations": v,
		}, nil)
}

func validateNetwork(spec models.StackSpec) []string {
	var v []string
	ip, network, err := net.ParseCIDR(spec.NetworkCIDR)
	if err != nil || ip.To4() == nil {
		return append(v, fmt.Sprintf("network CIDR %q is not a valid IPv4 CIDR", spec.NetworkCIDR))
	}
	prefix, _ := network.Mask.Size()
	if spec.MaxAZs < 1 {
		v = append(v, fmt.Sprintf("availability zone count %d must be at least 1", spec.MaxAZs))
	}
	if spec.SubnetMask <= prefix || spec.SubnetMask > maxSubnetMask {
		return append(v, fmt.Sprintf("subnet mask /%d must be longer than /%d and at most /%d", spec.SubnetMask, prefix, maxSubnetMask))
	}
	if spec.MaxAZs >= 1 && 1<<(spec.SubnetMask-prefix) < spec.MaxAZs {
		v = append(v, fmt.Sprintf("network %s cannot hold %d /%d subnets", spec.NetworkCIDR, spec.MaxAZs, spec.SubnetMask))
	}
	return v
}

func validateIngress(rules []models.IngressRule) []string {
	var v []string
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if !allowedProtocols[r.Protocol] {
			v = append(v, fmt.Sprintf("ingress protocol %q is not supported", r.Protocol))
		}
		if r.Port < 0 || r.Port > 65535 {
			v = append(v, fmt.Sprintf("ingress port %d is out of range 0-65535", r.Port))
		}
		if _, _, err := net.ParseCIDR(r.Source); err != nil {
			v = append(v, fmt.Sprintf("ingress source %q is not a valid CIDR", r.Source))
		}
		if seen[r.Key()] {
			v = append(v, fmt.Sprintf("duplicate ingress rule %s", r.Key()))
		}
		seen[r.Key()] = true
	}
	return v
}

func validateDNS(dns models.DNSSpec) []string {
	var v []string
	if dns.DomainName == "" {
		v = append(v, "domain name is required")
	}
	switch {
	case dns.CreateZone && dns.ExistingZoneID != "":
		v = append(v, "DNS strategy conflict: both a new hosted zone and existing zone "+dns.ExistingZoneID+" are selected")
	case !dns.CreateZone && dns.ExistingZoneID == "":
		v = append(v, "no DNS strategy selected: create a hosted zone or reference an existing one")
	}
	if dns.TTL <= 0 {
		v = append(v, fmt.Sprintf("record TTL %d must be positive", dns.TTL))
	}
	return v
}

func validateAssets(a models.Assets) []string {
	var v []string
	for _, asset := range []struct {
		name    string
		content string
	}{
		{"nginx config", a.NginxConfig},
		{"TLS certificate", a.TLSCertificate},
		{"TLS private key", a.TLSPrivateKey},
		{"service unit", a.ServiceUnit},
	} {
		switch {
		case asset.content == "":
			v = append(v, "missing required asset: "+asset.name)
		case embedsTerminator(asset.content):
			v = append(v, fmt.Sprintf("asset %s contains the reserved line %q", asset.name, assetTerminator))
		}
	}
	return v
}
