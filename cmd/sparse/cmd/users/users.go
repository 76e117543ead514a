package users

import (
	"github.com/spf13/cobra"
)

// UsersCmd groups user management subcommands.
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long:  `Create, list, delete and change the passwords of users in the authorizables store.`,
}

func init() {
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(deleteCmd)
	UsersCmd.AddCommand(passwdCmd)
}
