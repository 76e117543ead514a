package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user or group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		if err := b.Session.Authorizables().Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete %s: %w", args[0], err)
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}
