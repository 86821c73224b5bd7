package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/gordian-engine/ggov/cmd/internal/gcmd"
	"github.com/gordian-engine/ggov/gcrypto"
	"github.com/gordian-engine/ggov/ggov"
)

func NewValidatorPublicKeyCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "validator-pubkey INSECURE_PASSPHRASE",

		Aliases: []string{"validator-pub-key"},

		Short: "Print the validator public key derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := gcmd.SignerFromInsecurePassphrase(gcmd.ValidatorKeyPrefix, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", signer.PubKey().PubKeyBytes())

			return nil
		},
	}
}

func NewLibp2pIDCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use: "libp2p-id INSECURE_PASSPHRASE",

		Short: "Print the libp2p ID derived from the given insecure passphrase",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			privKey, err := gcmd.Libp2pKeyFromInsecurePassphrase(gcmd.NetworkKeyPrefix, args[0])
			if err != nil {
				return fmt.Errorf("failed to generate libp2p network key: %w", err)
			}

			id, err := libp2ppeer.IDFromPrivateKey(privKey)
			if err != nil {
				return fmt.Errorf("failed to generate ID from libp2p private key: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)

			return nil
		},
	}
}

const heightFlag = "height"

func NewInitCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "init",

		Short: "Create a fresh governance state, overwriting any existing state",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}

			s, closeStore, err := openStorage(ctx, v)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					log.Warn("Error closing storage", "err", err)
				}
			}()

			height := v.GetUint64(heightFlag)
			if err := ggov.Create(ctx, s, height); err != nil {
				return err
			}

			log.Info("Created governance state", "height", height)
			return nil
		},
	}

	addStoreFlags(cmd.Flags())
	cmd.Flags().Uint64(heightFlag, 1, "Initial governance height")

	return cmd
}

func NewShowCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "show",

		Short: "Print the persisted governance state as JSON",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}

			s, closeStore, err := openStorage(ctx, v)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					log.Warn("Error closing storage", "err", err)
				}
			}()

			st, err := ggov.LoadState(ctx, s, gcrypto.NewEd25519Registry())
			if err != nil {
				return err
			}

			out := struct {
				Height uint64
				Votes  map[ggov.AgendaHash][]string
			}{
				Height: st.Height,
				Votes:  make(map[ggov.AgendaHash][]string, len(st.Votes)),
			}
			for agenda, voters := range st.Votes {
				hexVoters := make([]string, len(voters))
				for i, pk := range voters {
					hexVoters[i] = fmt.Sprintf("%x", pk.PubKeyBytes())
				}
				out.Votes[agenda] = hexVoters
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	addStoreFlags(cmd.Flags())

	return cmd
}
