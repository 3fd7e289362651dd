package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/bootstrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds payctl. The config path comes from --config, then
// PAYCTL_CONFIG, then config.yaml.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("payctl")
	v.SetDefault("config", "config.yaml")
	v.SetDefault("actor", "payctl")
	_ = v.BindEnv("config")
	_ = v.BindEnv("actor")

	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Operator tool for booking payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to the service config file")
	root.PersistentFlags().String("actor", "", "Operator id recorded on admin decisions")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("actor", root.PersistentFlags().Lookup("actor"))

	root.AddCommand(
		newSweepCommand(v),
		newDecisionCommand(v, "approve"),
		newDecisionCommand(v, "reject"),
		newPaymentCommand(v),
	)
	return root
}

// open loads the config and builds the shared components. The caller closes
// the returned deps.
func open(ctx context.Context, v *viper.Viper) (*config.Config, *bootstrap.Deps, error) {
	cfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, nil, err
	}
	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init: %w", err)
	}
	return cfg, deps, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
