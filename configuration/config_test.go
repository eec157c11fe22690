package configuration_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursechatbot/configuration"
	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// createTempEnvFile writes a temporary .env file and returns its path
func createTempEnvFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stack.env")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write temp env file: %v", err)
	}
	return path
}

func TestInitialize_TableDriven(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		envFile    string // if set, will write a .env file with this content
		expectErr  bool
		errType    errors.ErrorType
		assertions func(*testing.T, *configuration.Config)
	}{
		{
			name: "Defaults",
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.Equal(t, "course-chatbot", cfg.StackName)
				assert.Equal(t, "us-east-1", cfg.AWSRegion)
				assert.Equal(t, models.VariantStandard, cfg.Variant)
				assert.True(t, cfg.CreateHostedZone)
				assert.Empty(t, cfg.HostedZoneID)
				assert.Equal(t, []int{22, 80, 443, 5000}, cfg.IngressPorts)
				assert.Equal(t, []string{"AmazonSSMManagedInstanceCore", "CloudWatchLogsFullAccess"}, cfg.ManagedPolicies)
				assert.Equal(t, 24, cfg.SubnetCIDRMask)
				assert.Equal(t, 2, cfg.MaxAZs)
				assert.Equal(t, 5, cfg.CheckInterval)
				assert.Equal(t, 3, cfg.MaxRetries)
			},
		},
		{
			name: "Valid configuration from environment variables",
			env: map[string]string{
				"STACK_NAME":                 "chatbot-prod",
				"AWS_REGION":                 "us-west-2",
				"AWS_ACCESS_KEY_ID":          "AKIAEXAMPLE",
				"AWS_SECRET_ACCESS_KEY":      "secret123",
				"DEPLOY_VARIANT":             "source-python",
				"HOSTED_ZONE_ID":             "Z0123456789ABC",
				"INGRESS_PORTS":              "22, 443",
				"CHECK_INTERVAL_MINUTES":     "10",
				"COMPARISON_TIMEOUT_SECONDS": "60",
				"LOG_LEVEL":                  "debug",
			},
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.Equal(t, "chatbot-prod", cfg.StackName)
				assert.Equal(t, "us-west-2", cfg.AWSRegion)
				assert.Equal(t, "AKIAEXAMPLE", cfg.AcessKeyID)
				assert.Equal(t, "secret123", cfg.AccessSecret)
				assert.Equal(t, models.VariantSourcePython, cfg.Variant)
				assert.False(t, cfg.CreateHostedZone)
				assert.Equal(t, "Z0123456789ABC", cfg.HostedZoneID)
				assert.Equal(t, []int{22, 443}, cfg.IngressPorts)
				assert.Equal(t, 10, cfg.CheckInterval)
				assert.Equal(t, 60, cfg.ComparisonTimeout)
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		{
			name: "Both DNS strategies are passed through for the descriptor to reject",
			env: map[string]string{
				"CREATE_HOSTED_ZONE": "true",
				"HOSTED_ZONE_ID":     "Z0123456789ABC",
			},
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.True(t, cfg.CreateHostedZone)
				assert.Equal(t, "Z0123456789ABC", cfg.HostedZoneID)
			},
		},
		{
			name: "Configuration from temp .env file",
			envFile: `
STACK_NAME=envfile-stack
AWS_REGION=ap-south-1
KEY_PAIR_NAME=envfile-key
MANAGED_POLICIES=AmazonSSMManagedInstanceCore,AmazonSSMManagedInstanceCore
MAX_RETRIES=2
`,
			assertions: func(t *testing.T, cfg *configuration.Config) {
				assert.Equal(t, "envfile-stack", cfg.StackName)
				assert.Equal(t, "ap-south-1", cfg.AWSRegion)
				assert.Equal(t, "envfile-key", cfg.KeyPairName)
				assert.Equal(t, []string{"AmazonSSMManagedInstanceCore", "AmazonSSMManagedInstanceCore"}, cfg.ManagedPolicies)
				assert.Equal(t, 2, cfg.MaxRetries)
			},
		},
		{
			name:      "Invalid CHECK_INTERVAL_MINUTES from env",
			env:       map[string]string{"CHECK_INTERVAL_MINUTES": "-1"},
			expectErr: true,
			errType:   errors.ErrConfigInvalid,
		},
		{
			name:      "Invalid DEPLOY_VARIANT",
			env:       map[string]string{"DEPLOY_VARIANT": "conda"},
			expectErr: true,
			errType:   errors.ErrConfigInvalid,
		},
		{
			name:      "Invalid INGRESS_PORTS",
			env:       map[string]string{"INGRESS_PORTS": "22,http"},
			expectErr: true,
			errType:   errors.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()

			// Write .env file if content is specified
			if tt.envFile != "" {
				viper.SetConfigFile(createTempEnvFile(t, tt.envFile))
			}

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := configuration.Initialize()
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.errType))
				return
			}
			require.NoError(t, err)
			if tt.assertions != nil {
				tt.assertions(t, cfg)
			}
		})
	}
}

func TestConfig_StackSpec(t *testing.T) {
	viper.Reset()
	t.Setenv("IMAGE_ID", "ami-0123456789abcdef0")

	cfg, err := configuration.Initialize()
	require.NoError(t, err)

	assets := models.Assets{NginxConfig: "n", TLSCertificate: "c", TLSPrivateKey: "k", ServiceUnit: "s"}
	spec := cfg.StackSpec(assets)

	assert.Equal(t, models.ImageRef{ID: "ami-0123456789abcdef0"}, spec.Image)
	assert.Equal(t, "10.0.0.0/16", spec.NetworkCIDR)
	assert.Equal(t, assets, spec.Assets)
	require.Len(t, spec.Ingress, 4)
	assert.Equal(t, models.IngressRule{Protocol: "tcp", Port: 5000, Source: "0.0.0.0/0", Description: "allow tcp 5000"}, spec.Ingress[3])
	assert.True(t, spec.DNS.CreateZone)
	assert.Equal(t, 300, spec.DNS.TTL)

	sc := cfg.StackContext()
	assert.Equal(t, "course-chatbot", sc.StackName)
	assert.Equal(t, "us-east-1", sc.Region)
}

func TestLoadAssets(t *testing.T) {
	base := &configuration.Config{
		NginxConfPath:   "/cfg/nginx.conf",
		TLSCertPath:     "/cfg/cert.pem",
		TLSKeyPath:      "/cfg/key.pem",
		ServiceUnitPath: "/cfg/chatbot.service",
	}

	newFs := func(t *testing.T, skip string) afero.Fs {
		fsys := afero.NewMemMapFs()
		for path, content := range map[string]string{
			"/cfg/nginx.conf":      "events {}\n",
			"/cfg/cert.pem":        "CERT\n",
			"/cfg/key.pem":         "KEY\n",
			"/cfg/chatbot.service": "[Unit]\n",
		} {
			if path == skip {
				continue
			}
			require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0600))
		}
		return fsys
	}

	t.Run("all assets present", func(t *testing.T) {
		assets, err := configuration.LoadAssets(newFs(t, ""), base)
		require.NoError(t, err)
		assert.Equal(t, models.Assets{
			NginxConfig:    "events {}\n",
			TLSCertificate: "CERT\n",
			TLSPrivateKey:  "KEY\n",
			ServiceUnit:    "[Unit]\n",
		}, assets)
	})

	t.Run("configured key file missing", func(t *testing.T) {
		_, err := configuration.LoadAssets(newFs(t, "/cfg/key.pem"), base)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAssetMissing))
	})

	t.Run("key path omitted leaves the asset empty", func(t *testing.T) {
		cfg := *base
		cfg.TLSKeyPath = ""
		assets, err := configuration.LoadAssets(newFs(t, "/cfg/key.pem"), &cfg)
		require.NoError(t, err)
		assert.Empty(t, assets.TLSPrivateKey)
		assert.Equal(t, "CERT\n", assets.TLSCertificate)
	})
}
