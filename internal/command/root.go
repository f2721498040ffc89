package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "nostr-comments"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "nostr-comments - NIP-22 comments for any web page",
		Long:          "nostr-comments reads, posts and watches Nostr comments attached to a web page URL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "path to configuration file")
	cmd.PersistentFlags().String("url", "", "page url the comments belong to")
	cmd.PersistentFlags().StringArray("relay", nil, "relay url (repeatable)")
	cmd.PersistentFlags().String("mention", "", "hex pubkey to notify and read relays from")
	cmd.PersistentFlags().Int("pow", -1, "minimum proof-of-work difficulty (-1 uses config)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewInitCmd(),
		NewListCmd(),
		NewWatchCmd(),
		NewPostCmd(),
		NewLikeCmd(),
		NewKeygenCmd(),
		NewRelayCmd(),
		NewRelaysCmd(),
	)

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd(Version).Execute()
}
