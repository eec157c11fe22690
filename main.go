package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"coursechatbot/configuration"
	"coursechatbot/descriptor"
	"coursechatbot/errors"
	"coursechatbot/logger"
	"coursechatbot/provision"
)

const (
	packageName = "main"
)

// newDeployStack returns the Pulumi program. Assets are read from fsys.
func newDeployStack(fsys afero.Fs) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		logger := logger.For(packageName, "deployStack").With(zap.String("pulumi_stack", ctx.Stack()))

		config, err := configuration.Initialize()
		if err != nil {
			logger.Error("Failed to load configuration",
				zap.String("operation", "config_load"),
				zap.Error(err),
			)
			return err
		}

		assets, err := configuration.LoadAssets(fsys, config)
		if err != nil {
			logger.Error("Failed to load assets",
				zap.String("operation", "asset_load"),
				zap.Error(err),
			)
			return err
		}

		// Resources are tagged with STACK_NAME whatever the Pulumi stack is
		// called, so the drift watcher finds them by the same name.
		graph, err := descriptor.Build(config.StackContext(), config.StackSpec(assets))
		if err != nil {
			logger.Error("Stack description rejected",
				zap.String("operation", "graph_build"),
				zap.Error(err),
			)
			return err
		}
		logger.Info("Stack described",
			zap.String("operation", "graph_build"),
			zap.String("stack", graph.Stack.StackName),
			zap.String("variant", string(graph.Variant)),
			zap.Int("resources", len(graph.Nodes)),
		)

		if _, err := provision.Apply(ctx, graph); err != nil {
			logger.Error("Provisioning failed",
				zap.String("operation", "graph_apply"),
				zap.Error(err),
			)
			return err
		}
		return nil
	}
}

func main() {
	if err := logger.InitializeFromEnv(); err != nil {
		panic(errors.New(errors.ErrConfigParse, "Failed to initialize logger",
			map[string]interface{}{
				"operation": "logger_init",
			}, err))
	}
	defer logger.Sync()

	pulumi.Run(newDeployStack(afero.NewOsFs()))
}
