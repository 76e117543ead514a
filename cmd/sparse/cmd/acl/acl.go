package acl

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
)

var (
	effectiveFlag bool
	propertyFlag  string
)

// ACLCmd groups commands that read and change access control lists.
var ACLCmd = &cobra.Command{
	Use:   "acl",
	Short: "Inspect and change access control lists",
	Long: `ACLs live in zones: "admin" (flat), "authorizables" and "content" (hierarchical).
Paths are "/" separated; "/" is the root of a hierarchical zone.
Permissions are comma separated names such as read,write or anything.`,
}

var showCmd = &cobra.Command{
	Use:   "show <zone> <path>",
	Short: "Show the ACL stored on a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, err := accesscontrol.ParseZone(args[0])
		if err != nil {
			return err
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		access := b.Session.AccessControl()
		var list *accesscontrol.ACL
		if effectiveFlag {
			list, err = access.EffectiveACL(cmd.Context(), zone, args[1])
		} else {
			list, err = access.GetACL(cmd.Context(), zone, args[1])
		}
		if err != nil {
			return fmt.Errorf("failed to read ACL: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRINCIPAL\tPROPERTY\tGRANTED\tDENIED")
		for _, e := range list.Entries() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Principal, orDash(e.Property), e.Grant, e.Deny)
		}
		return w.Flush()
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <zone> <path> <principal> <permissions>",
	Short: "Grant permissions, clearing matching denials",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, err := accesscontrol.ParsePermission(args[3])
		if err != nil {
			return err
		}
		mod := accesscontrol.Grant(args[2], perm)
		if propertyFlag != "" {
			mod = accesscontrol.GrantProperty(args[2], propertyFlag, perm)
		}
		return modify(cmd, args[0], args[1], mod)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <zone> <path> <principal> <permissions>",
	Short: "Deny permissions, clearing matching grants",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, err := accesscontrol.ParsePermission(args[3])
		if err != nil {
			return err
		}
		mod := accesscontrol.DenyTo(args[2], perm)
		if propertyFlag != "" {
			mod = accesscontrol.DenyProperty(args[2], propertyFlag, perm)
		}
		return modify(cmd, args[0], args[1], mod)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <zone> <path> <principal>",
	Short: "Remove a principal's entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return modify(cmd, args[0], args[1], accesscontrol.Revoke(args[2], propertyFlag))
	},
}

func modify(cmd *cobra.Command, zoneName, path string, mod accesscontrol.Modification) error {
	zone, err := accesscontrol.ParseZone(zoneName)
	if err != nil {
		return err
	}

	b, err := cmdutil.OpenRepository(cmd)
	if err != nil {
		return err
	}
	defer b.Close(cmd.Context())

	if err := b.Session.AccessControl().SetACL(cmd.Context(), zone, path, mod); err != nil {
		return fmt.Errorf("failed to update ACL: %w", err)
	}
	fmt.Printf("Updated ACL on %s:%s\n", zone, accesscontrol.NormalizePath(path))
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func init() {
	showCmd.Flags().BoolVar(&effectiveFlag, "effective", false, "Merge entries inherited from parent paths")
	for _, c := range []*cobra.Command{grantCmd, denyCmd, revokeCmd} {
		c.Flags().StringVar(&propertyFlag, "property", "", "Apply to a single property instead of the object")
	}

	ACLCmd.AddCommand(showCmd)
	ACLCmd.AddCommand(grantCmd)
	ACLCmd.AddCommand(denyCmd)
	ACLCmd.AddCommand(revokeCmd)
}
