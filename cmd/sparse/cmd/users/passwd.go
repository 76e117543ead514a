package users

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
)

var oldPasswordFlag string

var passwdCmd = &cobra.Command{
	Use:   "passwd <id>",
	Short: "Change a user's password",
	Long: `Reads the new password from stdin. Administrators may change any password;
other users (--as) must supply their current one with --old-password.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Fprint(os.Stderr, "Enter new password: ")
		var password string
		if scanner.Scan() {
			password = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		if err := b.Session.Authorizables().ChangePassword(cmd.Context(), args[0], password, oldPasswordFlag); err != nil {
			return fmt.Errorf("failed to change password: %w", err)
		}
		fmt.Printf("Password changed for %s\n", args[0])
		return nil
	},
}

func init() {
	passwdCmd.Flags().StringVar(&oldPasswordFlag, "old-password", "", "Current password, required unless acting as an administrator")
}
