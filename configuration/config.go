package configuration

import (
	stderrors "errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

const (
	packageName = "configuration"
)

// Config holds the application configuration
type Config struct {
	StackName     string
	AWSRegion     string
	AWSAccountID  string
	AcessKeyID    string
	AccessSecret  string
	LocalStackURL string

	Variant             models.Variant
	DomainName          string
	CreateHostedZone    bool
	HostedZoneID        string
	RecordTTL           int
	KeyPairName         string
	InstanceType        string
	ImageID             string
	ImageSSMParameter   string
	VPCCIDR             string
	SubnetCIDRMask      int
	MaxAZs              int
	IngressPorts        []int
	IngressSource       string
	ManagedPolicies     []string
	AppName             string
	PythonSourceVersion string

	NginxConfPath   string
	TLSCertPath     string
	TLSKeyPath      string
	ServiceUnitPath string

	CheckInterval     int
	ComparisonTimeout int
	MaxRetries        int
	APIRateLimit      int
	MetricsAddr       string
	LedgerPath        string
	HCLOutputPath     string
	LogLevel          string
}

// Initialize sets up the configuration system
func Initialize() (*Config, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Initialize"),
	)

	// Set default values
	viper.SetDefault("STACK_NAME", "course-chatbot")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("DEPLOY_VARIANT", string(models.VariantStandard))
	viper.SetDefault("DOMAIN_NAME", "course.chatbot.com")
	viper.SetDefault("RECORD_TTL", 300)
	viper.SetDefault("KEY_PAIR_NAME", "course-chatbot-key-pair")
	viper.SetDefault("INSTANCE_TYPE", "t2.micro")
	viper.SetDefault("IMAGE_SSM_PARAMETER", "/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-x86_64-gp2")
	viper.SetDefault("VPC_CIDR", "10.0.0.0/16")
	viper.SetDefault("SUBNET_CIDR_MASK", 24)
	viper.SetDefault("MAX_AZS", 2)
	viper.SetDefault("INGRESS_PORTS", "22,80,443,5000")
	viper.SetDefault("INGRESS_SOURCE", "0.0.0.0/0")
	viper.SetDefault("MANAGED_POLICIES", "AmazonSSMManagedInstanceCore,CloudWatchLogsFullAccess")
	viper.SetDefault("APP_NAME", "chatbot")
	viper.SetDefault("PYTHON_SOURCE_VERSION", "3.11.9")
	viper.SetDefault("NGINX_CONF_PATH", "configurations/nginx.conf")
	viper.SetDefault("TLS_CERT_PATH", "configurations/cert.pem")
	viper.SetDefault("TLS_KEY_PATH", "configurations/key.pem")
	viper.SetDefault("SERVICE_UNIT_PATH", "configurations/chatbot.service")
	viper.SetDefault("CHECK_INTERVAL_MINUTES", 5)
	viper.SetDefault("COMPARISON_TIMEOUT_SECONDS", 30)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("API_RATE_LIMIT", 10)
	viper.SetDefault("METRICS_ADDR", ":9090")
	viper.SetDefault("LEDGER_PATH", "deployments.db")
	viper.SetDefault("HCL_OUTPUT_PATH", "main.tf")
	viper.SetDefault("LOG_LEVEL", "info")

	// Configure Viper to read from environment
	viper.AutomaticEnv()

	// Read from .env file unless a config file was chosen already
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigFile(".env")
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New(errors.ErrConfigParse, "error reading config file",
				map[string]interface{}{
					"config_file": viper.ConfigFileUsed(),
				}, err)
		}
		logger.Info("No .env file found, using environment variables and defaults",
			zap.String("operation", "config_loading"),
		)
	}

	stackName, err := requireString("STACK_NAME")
	if err != nil {
		return nil, err
	}

	variant := models.Variant(viper.GetString("DEPLOY_VARIANT"))
	if variant != models.VariantStandard && variant != models.VariantSourcePython {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid DEPLOY_VARIANT",
			map[string]interface{}{
				"config_key": "DEPLOY_VARIANT",
				"value":      string(variant),
			}, nil)
	}
	logger.Info("Deployment variant configured",
		zap.String("variant", string(variant)),
		zap.String("operation", "config_validation"),
	)

	// The new-zone strategy is the default only when no existing zone is given
	hostedZoneID := viper.GetString("HOSTED_ZONE_ID")
	createZone := viper.GetBool("CREATE_HOSTED_ZONE")
	if !viper.IsSet("CREATE_HOSTED_ZONE") && hostedZoneID == "" {
		createZone = true
	}
	logger.Info("DNS strategy configured",
		zap.Bool("create_hosted_zone", createZone),
		zap.String("hosted_zone_id", hostedZoneID),
		zap.String("operation", "config_validation"),
	)

	ports, err := parsePorts(viper.GetString("INGRESS_PORTS"))
	if err != nil {
		return nil, err
	}

	ints := map[string]int{}
	for _, key := range []string{"RECORD_TTL", "SUBNET_CIDR_MASK", "MAX_AZS", "CHECK_INTERVAL_MINUTES", "COMPARISON_TIMEOUT_SECONDS", "API_RATE_LIMIT"} {
		value, err := requirePositiveInt(key)
		if err != nil {
			return nil, err
		}
		ints[key] = value
	}

	// Validate retry settings
	maxRetries := viper.GetInt("MAX_RETRIES")
	if maxRetries < 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid MAX_RETRIES",
			map[string]interface{}{
				"config_key": "MAX_RETRIES",
				"value":      maxRetries,
			}, nil)
	}

	config := &Config{
		StackName:     stackName,
		AWSRegion:     viper.GetString("AWS_REGION"),
		AWSAccountID:  viper.GetString("AWS_ACCOUNT_ID"),
		AcessKeyID:    viper.GetString("AWS_ACCESS_KEY_ID"),
		AccessSecret:  viper.GetString("AWS_SECRET_ACCESS_KEY"),
		LocalStackURL: viper.GetString("LOCALSTACK_URL"),

		Variant:             variant,
		DomainName:          viper.GetString("DOMAIN_NAME"),
		CreateHostedZone:    createZone,
		HostedZoneID:        hostedZoneID,
		RecordTTL:           ints["RECORD_TTL"],
		KeyPairName:         viper.GetString("KEY_PAIR_NAME"),
		InstanceType:        viper.GetString("INSTANCE_TYPE"),
		ImageID:             viper.GetString("IMAGE_ID"),
		ImageSSMParameter:   viper.GetString("IMAGE_SSM_PARAMETER"),
		VPCCIDR:             viper.GetString("VPC_CIDR"),
		SubnetCIDRMask:      ints["SUBNET_CIDR_MASK"],
		MaxAZs:              ints["MAX_AZS"],
		IngressPorts:        ports,
		IngressSource:       viper.GetString("INGRESS_SOURCE"),
		ManagedPolicies:     splitList(viper.GetString("MANAGED_POLICIES")),
		AppName:             viper.GetString("APP_NAME"),
		PythonSourceVersion: viper.GetString("PYTHON_SOURCE_VERSION"),

		NginxConfPath:   viper.GetString("NGINX_CONF_PATH"),
		TLSCertPath:     viper.GetString("TLS_CERT_PATH"),
		TLSKeyPath:      viper.GetString("TLS_KEY_PATH"),
		ServiceUnitPath: viper.GetString("SERVICE_UNIT_PATH"),

		CheckInterval:     ints["CHECK_INTERVAL_MINUTES"],
		ComparisonTimeout: ints["COMPARISON_TIMEOUT_SECONDS"],
		MaxRetries:        maxRetries,
		APIRateLimit:      ints["API_RATE_LIMIT"],
		MetricsAddr:       viper.GetString("METRICS_ADDR"),
		LedgerPath:        viper.GetString("LEDGER_PATH"),
		HCLOutputPath:     viper.GetString("HCL_OUTPUT_PATH"),
		LogLevel:          viper.GetString("LOG_LEVEL"),
	}

	logger.Info("Configuration loaded successfully",
		zap.String("operation", "config_complete"),
		zap.String("stack", config.StackName),
		zap.String("region", config.AWSRegion),
	)
	return config, nil
}

// StackContext returns the deployment target. STACK_NAME is the only stack
// identity: it is written into the Stack and Name tags and read back by the
// drift watcher.
func (c *Config) StackContext() models.StackContext {
	return models.StackContext{
		Account:   c.AWSAccountID,
		Region:    c.AWSRegion,
		StackName: c.StackName,
	}
}

// StackSpec maps the configuration and the loaded assets onto descriptor input
func (c *Config) StackSpec(assets models.Assets) models.StackSpec {
	ingress := make([]models.IngressRule, 0, len(c.IngressPorts))
	for _, p := range c.IngressPorts {
		ingress = append(ingress, models.IngressRule{
			Protocol:    "tcp",
			Port:        p,
			Source:      c.IngressSource,
			Description: "allow tcp " + strconv.Itoa(p),
		})
	}

	image := models.ImageRef{SSMParameter: c.ImageSSMParameter}
	if c.ImageID != "" {
		image = models.ImageRef{ID: c.ImageID}
	}

	return models.StackSpec{
		Variant:         c.Variant,
		NetworkCIDR:     c.VPCCIDR,
		SubnetMask:      c.SubnetCIDRMask,
		MaxAZs:          c.MaxAZs,
		Ingress:         ingress,
		InstanceType:    c.InstanceType,
		Image:           image,
		KeyPairName:     c.KeyPairName,
		ManagedPolicies: append([]string(nil), c.ManagedPolicies...),
		AppName:         c.AppName,
		PythonVersion:   c.PythonSourceVersion,
		DNS: models.DNSSpec{
			DomainName:     c.DomainName,
			CreateZone:     c.CreateHostedZone,
			ExistingZoneID: c.HostedZoneID,
			TTL:            c.RecordTTL,
		},
		Assets: assets,
	}
}

func requireString(key string) (string, error) {
	value := strings.TrimSpace(viper.GetString(key))
	if value == "" {
		return "", errors.New(errors.ErrConfigInvalid, "invalid "+key,
			map[string]interface{}{
				"config_key": key,
			}, nil)
	}
	zap.L().Info("Setting configured",
		zap.String("package", packageName),
		zap.String("config_key", key),
		zap.String("value", value),
		zap.String("operation", "config_validation"),
	)
	return value, nil
}

func requirePositiveInt(key string) (int, error) {
	value := viper.GetInt(key)
	if value <= 0 {
		return 0, errors.New(errors.ErrConfigInvalid, "invalid "+key,
			map[string]interface{}{
				"config_key": key,
				"value":      value,
			}, nil)
	}
	zap.L().Info("Setting configured",
		zap.String("package", packageName),
		zap.String("config_key", key),
		zap.Int("value", value),
		zap.String("operation", "config_validation"),
	)
	return value, nil
}

// parsePorts reads a comma separated port list. Range checks belong to the
// descriptor, which validates the whole rule set.
func parsePorts(raw string) ([]int, error) {
	var ports []int
	for _, item := range splitList(raw) {
		p, err := strconv.Atoi(item)
		if err != nil {
			return nil, errors.New(errors.ErrConfigInvalid, "invalid INGRESS_PORTS",
				map[string]interface{}{
					"config_key": "INGRESS_PORTS",
					"value":      item,
				}, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
