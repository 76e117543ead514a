package users

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
	"github.com/zathomas/sparsemapcontent/internal/authorizable"
)

var (
	whereFlag  string
	filterFlag []string
	groupsFlag bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List users visible to the acting user",
	Long: `Lists users, optionally narrowed by exact property matches (--match name=value)
and a boolean expression over their properties (--where 'level == "senior"').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := cmdutil.ParseProperties(filterFlag)
		if err != nil {
			return err
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		kind := authorizable.KindUser
		if groupsFlag {
			kind = authorizable.KindAny
		}
		it, err := b.Session.Authorizables().Search(cmd.Context(), criteria, whereFlag, kind)
		if err != nil {
			return fmt.Errorf("failed to search users: %w", err)
		}
		found, err := it.Collect()
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tPRINCIPALS")
		for _, a := range found {
			typ := "user"
			if a.IsGroup() {
				typ = "group"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID(), a.Name(), typ, strings.Join(a.Principals(), ", "))
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&whereFlag, "where", "", "Boolean expression over user properties")
	listCmd.Flags().StringArrayVar(&filterFlag, "match", nil, "Exact property match as name=value, may be repeated")
	listCmd.Flags().BoolVar(&groupsFlag, "include-groups", false, "Include groups in the listing")
}
