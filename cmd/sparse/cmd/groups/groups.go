package groups

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
	"github.com/zathomas/sparsemapcontent/internal/authorizable"
)

var (
	nameFlag    string
	membersFlag []string
	propsFlag   []string
)

// GroupsCmd groups group management subcommands.
var GroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups and their members",
	Long:  `Members of a group hold the group's id as a principal.`,
}

var createCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := cmdutil.ParseProperties(propsFlag)
		if err != nil {
			return err
		}
		if len(membersFlag) > 0 {
			props[authorizable.MembersField] = membersFlag
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		created, err := b.Session.Authorizables().CreateGroup(cmd.Context(), args[0], nameFlag, props)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		if !created {
			return fmt.Errorf("authorizable %q already exists", args[0])
		}
		fmt.Printf("Created group %s\n", args[0])
		return nil
	},
}

var addMemberCmd = &cobra.Command{
	Use:   "add-member <group> <member>...",
	Short: "Add members to a group",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeMembers(cmd, args[0], func(g *authorizable.Group) {
			for _, id := range args[1:] {
				g.AddMember(id)
			}
		})
	},
}

var removeMemberCmd = &cobra.Command{
	Use:   "remove-member <group> <member>...",
	Short: "Remove members from a group",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeMembers(cmd, args[0], func(g *authorizable.Group) {
			for _, id := range args[1:] {
				g.RemoveMember(id)
			}
		})
	},
}

func changeMembers(cmd *cobra.Command, groupID string, change func(*authorizable.Group)) error {
	b, err := cmdutil.OpenRepository(cmd)
	if err != nil {
		return err
	}
	defer b.Close(cmd.Context())

	g, err := loadGroup(cmd.Context(), b.Session.Authorizables(), groupID)
	if err != nil {
		return err
	}
	change(g)
	if err := b.Session.Authorizables().UpdateAuthorizable(cmd.Context(), g); err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	fmt.Printf("Group %s now has %d member(s)\n", groupID, len(g.Members()))
	return nil
}

func loadGroup(ctx context.Context, authz *authorizable.Manager, id string) (*authorizable.Group, error) {
	a, err := authz.FindAuthorizable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	g, ok := a.(*authorizable.Group)
	if !ok {
		return nil, fmt.Errorf("group %q not found", id)
	}
	return g, nil
}

func init() {
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Display name")
	createCmd.Flags().StringArrayVar(&membersFlag, "member", nil, "Member id, may be repeated")
	createCmd.Flags().StringArrayVar(&propsFlag, "prop", nil, "Property as name=value, may be repeated")

	GroupsCmd.AddCommand(createCmd)
	GroupsCmd.AddCommand(addMemberCmd)
	GroupsCmd.AddCommand(removeMemberCmd)
}
