// Command synth describes the stack offline. It validates the configuration,
// prints the creation and destruction order, writes the equivalent Terraform
// configuration and records the synthesis in the local ledger.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"coursechatbot/configuration"
	"coursechatbot/descriptor"
	"coursechatbot/errors"
	"coursechatbot/ledger"
	"coursechatbot/logger"
	"coursechatbot/teraform"
)

const (
	packageName = "main"
)

func synthesize(ctx context.Context, config *configuration.Config, fsys afero.Fs, store *ledger.Store, out io.Writer) error {
	logger := logger.For(packageName, "synthesize").With(zap.String("stack", config.StackName))

	assets, err := configuration.LoadAssets(fsys, config)
	if err != nil {
		return err
	}
	graph, err := descriptor.Build(config.StackContext(), config.StackSpec(assets))
	if err != nil {
		return err
	}

	creation, err := descriptor.CreationOrder(graph)
	if err != nil {
		return err
	}
	destruction, err := descriptor.DestructionOrder(graph)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "stack %s (%s), %d resources\n", graph.Stack.StackName, graph.Variant, len(graph.Nodes))
	fmt.Fprintf(out, "create:  %s\n", strings.Join(creation, " -> "))
	fmt.Fprintf(out, "destroy: %s\n", strings.Join(destruction, " -> "))

	if err := teraform.WriteHCL(fsys, config.HCLOutputPath, graph); err != nil {
		return err
	}
	fmt.Fprintf(out, "terraform configuration written to %s\n", config.HCLOutputPath)

	previous, err := store.Latest(ctx, graph.Stack.StackName)
	if err != nil {
		return err
	}
	current, err := store.Record(ctx, graph)
	if err != nil {
		return err
	}
	for _, n := range ledger.Compare(previous, current) {
		fmt.Fprintf(out, "note [%s]: %s\n", n.Kind, n.Message)
		logger.Info("Synthesis notice",
			zap.String("operation", "ledger_compare"),
			zap.String("kind", string(n.Kind)),
		)
	}
	return nil
}

func main() {
	if err := logger.InitializeFromEnv(); err != nil {
		panic(errors.New(errors.ErrConfigParse, "Failed to initialize logger",
			map[string]interface{}{
				"operation": "logger_init",
			}, err))
	}
	defer logger.Sync()

	logger := logger.For(packageName, "main")

	config, err := configuration.Initialize()
	if err != nil {
		logger.Error("Failed to load configuration",
			zap.String("operation", "config_load"),
			zap.Error(err),
		)
		os.Exit(1)
	}

	db, err := ledger.Open(config.LedgerPath)
	if err != nil {
		logger.Error("Failed to open ledger",
			zap.String("operation", "ledger_open"),
			zap.String("path", config.LedgerPath),
			zap.Error(err),
		)
		os.Exit(1)
	}
	defer db.Close()

	if err := synthesize(context.Background(), config, afero.NewOsFs(), ledger.NewStore(db), os.Stdout); err != nil {
		logger.Error("Synthesis failed",
			zap.String("operation", "synthesize"),
			zap.Error(err),
		)
		db.Close()
		os.Exit(1)
	}
}
