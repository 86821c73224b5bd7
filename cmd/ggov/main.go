// Command ggov runs an agenda-governance node.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	root := NewRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

func NewRootCmd(log *slog.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "ggov SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage: true,

		Long: `ggov collects signed validator votes on agendas, per governance height.

Initial setup involves:

1. Pick your insecure passphrase.
2. Discover your validator public key and libp2p ID with:
     $ ggov validator-pubkey 'my-passphrase'
     $ ggov libp2p-id 'my-passphrase'
3. Create the governance state at the starting height:
     $ ggov init --store-path ./data --height 1
4. Run the node, listing the other nodes' multiaddrs:
     $ ggov run 'my-passphrase' --store-path ./data \
         --peer /ip4/10.0.0.2/tcp/123/p2p/$LIBP2P_ID --http-addr 127.0.0.1:8080

Every flag may also be set through an environment variable
named GGOV_ followed by the flag name in upper case with dashes replaced by underscores,
for example GGOV_STORE_PATH.
`,
	}

	rootCmd.AddCommand(
		NewValidatorPublicKeyCmd(log),
		NewLibp2pIDCmd(log),

		NewInitCmd(log),
		NewShowCmd(log),

		NewRunCmd(log),
	)

	return rootCmd
}
