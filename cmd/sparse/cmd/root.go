package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/acl"
	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/groups"
	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/token"
	"github.com/zathomas/sparsemapcontent/cmd/sparse/cmd/users"
	"github.com/zathomas/sparsemapcontent/internal/config"
	"github.com/zathomas/sparsemapcontent/internal/logger"
)

var (
	cfg        *config.Config
	configFile string
	cliLog     = logger.NewWithWriter(os.Stderr, "sparse")
)

var rootCmd = &cobra.Command{
	Use:   "sparse",
	Short: "Administer a sparse content store",
	Long: `sparse manages the users, groups, ACLs and schema of a sparse content store.
Commands act through an administrative session unless --as names another user.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger.SetDebug(cfg.Debug)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: SPARSE_DATABASE_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: SPARSE_DEBUG)")
	rootCmd.PersistentFlags().String("as", "", "Act as this user instead of admin")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(groups.GroupsCmd)
	rootCmd.AddCommand(acl.ACLCmd)
	rootCmd.AddCommand(token.TokenCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
