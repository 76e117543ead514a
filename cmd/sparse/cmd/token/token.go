package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/cmdutil"
	"github.com/zathomas/sparsemapcontent/internal/accesscontrol"
)

var (
	targetFlag    string
	principalFlag string
	validForFlag  time.Duration
	validatorFlag string
)

// TokenCmd groups proxy principal token commands.
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage proxy principal tokens",
	Long: `A proxy token stored as content grants its principal to whoever can read it,
for as long as its validator accepts it.`,
}

var signCmd = &cobra.Command{
	Use:   "sign <path>",
	Short: "Sign a proxy token and store it at path",
	Long: `Signs a token for --principal against the --target object (zone:path) and stores
it as content at <path>. The acting user needs write-acl on the target.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if principalFlag == "" {
			return fmt.Errorf("--principal flag is required")
		}
		zoneName, target, ok := strings.Cut(targetFlag, ":")
		if !ok {
			return fmt.Errorf("--target must be zone:path, got %q", targetFlag)
		}
		zone, err := accesscontrol.ParseZone(zoneName)
		if err != nil {
			return err
		}

		b, err := cmdutil.OpenRepository(cmd)
		if err != nil {
			return err
		}
		defer b.Close(cmd.Context())

		tok := accesscontrol.NewToken(principalFlag, validatorFlag)
		now := time.Now()
		tok.SetValidity(now, now.Add(validForFlag))
		if err := b.Session.Content().StoreToken(cmd.Context(), args[0], tok, zone, target); err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}

		fmt.Printf("Stored token for %s at %s (target %s, expires %s)\n",
			principalFlag, tok.Path, tok.Target(), now.Add(validForFlag).Format(time.RFC3339))
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&targetFlag, "target", "", "Object the token is signed for, as zone:path")
	signCmd.Flags().StringVar(&principalFlag, "principal", "", "Proxy principal the token grants")
	signCmd.Flags().DurationVar(&validForFlag, "valid-for", 24*time.Hour, "Token lifetime")
	signCmd.Flags().StringVar(&validatorFlag, "validator", accesscontrol.DefaultValidator, "Validator plugin name")
	_ = signCmd.MarkFlagRequired("target")

	TokenCmd.AddCommand(signCmd)
}
