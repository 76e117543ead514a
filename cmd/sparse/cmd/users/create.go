package users

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
	"github.com/zathomas/sparsemapcontent/internal/authorizable"
)

var (
	nameFlag       string
	passwordFlag   string
	stdinFlag      bool
	principalsFlag []string
	propsFlag      []string
)

var createCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprint(os.Stderr, "Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}

		props, err := cmdutil.ParseProperties(propsFlag)
		if err != nil {
			return err
		}

		if len(principalsFlag) > 0 {
			props[authorizable.PrincipalsField] = principalsFlag
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		created, err := b.Session.Authorizables().CreateUser(cmd.Context(), id, nameFlag, password, props)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if !created {
			return fmt.Errorf("authorizable %q already exists", id)
		}

		fmt.Printf("Created user %s\n", id)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password (omit for a user that cannot log in)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read the password from stdin")
	createCmd.Flags().StringArrayVar(&principalsFlag, "principal", nil, "Principal to hold, may be repeated")
	createCmd.Flags().StringArrayVar(&propsFlag, "prop", nil, "Property as name=value, may be repeated")
}
