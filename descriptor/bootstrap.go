package descriptor

import (
	"fmt"
	"strings"

	"coursechatbot/descriptor/models"
)

// Step classifies a bootstrap command
type Step string

const (
	StepPackageIndex      Step = "package_index"
	StepToolInstall       Step = "tool_install"
	StepProxyInstall      Step = "proxy_install"
	StepProxyConfig       Step = "proxy_config"
	StepTLSPlacement      Step = "tls_placement"
	StepProxyStart        Step = "proxy_start"
	StepAppDirectory      Step = "app_directory"
	StepServiceUnit       Step = "service_unit"
	StepServiceEnable     Step = "service_enable"
	StepRuntimeInstall    Step = "runtime_install"
	StepCertManager       Step = "cert_manager"
	StepInterpreterSource Step = "interpreter_source"
	StepPipInstall        Step = "pip_install"
)

// assetTerminator closes every here-document that embeds an asset. An asset
// containing this line cannot be embedded verbatim.
const assetTerminator = "CHATBOT_ASSET_EOF"

const (
	nginxSSLDir = "/etc/nginx/ssl"
	pythonFTP   = "https://www.python.org/ftp/python"
)

// Command is one shell command of the bootstrap script
type Command struct {
	Step Step
	Line string
}

// Script is the ordered bootstrap command sequence
type Script []Command

// Render returns the script as instance user data
func (s Script) Render() string {
	lines := make([]string, 0, len(s)+1)
	lines = append(lines, "#!/bin/bash")
	for _, c := range s {
		lines = append(lines, c.Line)
	}
	return strings.Join(lines, "\n")
}

// Index returns the position of the first command of a step, or -1
func (s Script) Index(step Step) int {
	for i, c := range s {
		if c.Step == step {
			return i
		}
	}
	return -1
}

// LastIndex returns the position of the last command of a step, or -1
func (s Script) LastIndex(step Step) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Step == step {
			return i
		}
	}
	return -1
}

// BootstrapScript composes the bootstrap commands for the spec's variant.
// Asset blobs are embedded verbatim through quoted here-documents.
func BootstrapScript(spec models.StackSpec) Script {
	app := spec.AppName
	appDir := "/opt/" + app
	unit := app + ".service"

	s := Script{
		{StepPackageIndex, "yum update -y"},
		{StepToolInstall, "yum install git -y"},
		{StepProxyInstall, "yum install nginx -y"},
		{StepTLSPlacement, "mkdir -p " + nginxSSLDir},
		{StepProxyConfig, writeFile("/etc/nginx/nginx.conf", spec.Assets.NginxConfig)},
		{StepTLSPlacement, writeFile(nginxSSLDir+"/cert.pem", spec.Assets.TLSCertificate)},
		{StepTLSPlacement, writeFile(nginxSSLDir+"/key.pem", spec.Assets.TLSPrivateKey)},
		{StepTLSPlacement, "chmod 600 " + nginxSSLDir + "/key.pem"},
		{StepProxyStart, "systemctl enable nginx"},
		{StepProxyStart, "systemctl start nginx"},
		{StepAppDirectory, "mkdir -p " + appDir},
		{StepAppDirectory, "chmod 777 " + appDir},
		{StepServiceUnit, writeFile("/etc/systemd/system/"+unit, spec.Assets.ServiceUnit)},
		{StepServiceEnable, "systemctl daemon-reload"},
		{StepServiceEnable, "systemctl enable " + unit},
		{StepPackageIndex, "yum update -y"},
	}

	switch spec.Variant {
	case models.VariantSourcePython:
		src := "Python-" + spec.PythonVersion
		s = append(s,
			Command{StepRuntimeInstall, "yum install python3-pip gcc openssl-devel bzip2-devel libffi-devel wget -y"},
			Command{StepCertManager, "amazon-linux-extras install epel -y"},
			Command{StepCertManager, "yum install certbot python2-certbot-nginx -y"},
			// TODO: configure/make/altinstall are missing; the source tree is only unpacked.
			Command{StepInterpreterSource, fmt.Sprintf(
				"test -d /usr/src/%[1]s || (cd /usr/src && wget %[2]s/%[3]s/%[1]s.tgz && tar xzf %[1]s.tgz)",
				src, pythonFTP, spec.PythonVersion)},
		)
	default:
		s = append(s, Command{StepRuntimeInstall, "yum install python3-pip -y"})
	}

	return append(s, Command{StepPipInstall, "pip3 install virtualenv"})
}

func writeFile(path, content string) string {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return "cat > " + path + " <<'" + assetTerminator + "'\n" + content + assetTerminator
}

// embedsTerminator reports whether content would end its here-document early
func embedsTerminator(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimRight(line, "\r") == assetTerminator {
			return true
		}
	}
	return false
}
