package configuration

import (
	stderrors "errors"
	"io/fs"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"coursechatbot/descriptor/models"
	"coursechatbot/errors"
)

// LoadAssets reads the local files embedded into the bootstrap script.
// An empty path leaves the asset empty so the descriptor can report it as
// missing; a configured path that cannot be read is an error here.
func LoadAssets(fsys afero.Fs, cfg *Config) (models.Assets, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "LoadAssets"),
	)

	var assets models.Assets
	for _, a := range []struct {
		name   string
		path   string
		target *string
	}{
		{"nginx_config", cfg.NginxConfPath, &assets.NginxConfig},
		{"tls_certificate", cfg.TLSCertPath, &assets.TLSCertificate},
		{"tls_private_key", cfg.TLSKeyPath, &assets.TLSPrivateKey},
		{"service_unit", cfg.ServiceUnitPath, &assets.ServiceUnit},
	} {
		if a.path == "" {
			logger.Warn("Asset path not configured",
				zap.String("asset", a.name),
				zap.String("operation", "asset_load"),
			)
			continue
		}

		raw, err := afero.ReadFile(fsys, a.path)
		if err != nil {
			errType := errors.ErrConfigInvalid
			if stderrors.Is(err, fs.ErrNotExist) {
				errType = errors.ErrAssetMissing
			}
			return models.Assets{}, errors.New(errType, "cannot read asset "+a.name,
				map[string]interface{}{
					"asset": a.name,
					"path":  a.path,
				}, err)
		}
		*a.target = string(raw)

		// Content is opaque; only its size is logged.
		logger.Info("Asset loaded",
			zap.String("asset", a.name),
			zap.String("path", a.path),
			zap.Int("bytes", len(raw)),
			zap.String("operation", "asset_load"),
		)
	}
	return assets, nil
}
