package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/config"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an example configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			example, err := config.GetExampleConfig()
			if err != nil {
				return fmt.Errorf("failed to read example config: %w", err)
			}

			path, _ := cmd.Flags().GetString("out")
			if path == "" {
				_, err := cmd.OutOrStdout().Write(example)
				return err
			}

			force, _ := cmd.Flags().GetBool("force")
			flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			if !force {
				flags |= os.O_EXCL
			}
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				if os.IsExist(err) {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
				return fmt.Errorf("failed to create config file: %w", err)
			}
			defer f.Close()

			if _, err := f.Write(example); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("out", "", "write to this file instead of stdout")
	cmd.Flags().Bool("force", false, "overwrite an existing file")

	return cmd
}
