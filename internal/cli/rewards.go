package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"lava-reports/internal/app"
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Generate USD-valued rewards reports",
}

var (
	valueSave bool
)

var valueCmd = &cobra.Command{
	Use:   "value <amount><denom>...",
	Short: "Price raw token amounts in USD",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Value(cmd.Context(), app.ValueOptions{Tokens: args, Save: valueSave})
	},
}

func rewardsSubcommand(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().Rewards(cmd.Context(), kind)
		},
	}
}

func init() {
	shorts := map[string]string{
		app.RewardsProviders:           "Estimated rewards of every provider",
		app.RewardsProviderDelegators:  "Estimated rewards of each provider's delegators",
		app.RewardsValidators:          "Self-bond and outstanding rewards of every validator",
		app.RewardsValidatorDelegators: "Summed rewards of each validator's delegators",
		app.RewardsAll:                 "All rewards reports plus a USD summary",
	}
	for _, kind := range app.RewardsKinds {
		rewardsCmd.AddCommand(rewardsSubcommand(kind, shorts[kind]))
	}
	rewardsCmd.Long = "Available reports: " + strings.Join(app.RewardsKinds, ", ")

	valueCmd.Flags().BoolVar(&valueSave, "save", false, "Also write a token_value report")
}
