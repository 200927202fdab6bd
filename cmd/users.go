package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/vibast-solutions/ms-go-accounts/app/database"
	"github.com/vibast-solutions/ms-go-accounts/app/mailer"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/app/types"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/spf13/cobra"
)

var provisionReq types.ProvisionUserRequest

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Administer user accounts",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all user accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		accounts, pool, err := newAccountServiceForUserCommands(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		users, err := accounts.ListUsers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tFIRST NAME\tLAST NAME\tPENDING RESET")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", u.ID, u.Email, u.FirstName, u.LastName, u.HasPendingReset())
		}
		return w.Flush()
	},
}

var usersStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate user statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		accounts, pool, err := newAccountServiceForUserCommands(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		stats, err := accounts.Stats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("total_users: %d\n", stats.TotalUsers)
		fmt.Printf("pending_resets: %d\n", stats.PendingResets)
		if stats.MinUserID != nil && stats.MaxUserID != nil {
			fmt.Printf("id_range: %d-%d\n", *stats.MinUserID, *stats.MaxUserID)
		}
		for _, ln := range stats.TopLastNames {
			fmt.Printf("last_name: %s (%d)\n", ln.LastName, ln.Users)
		}
		return nil
	},
}

var usersProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create an account or refresh the names of an existing one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := provisionReq.Validate(); err != nil {
			return err
		}

		accounts, pool, err := newAccountServiceForUserCommands(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		user, created, err := accounts.ProvisionUser(cmd.Context(), &provisionReq)
		if err != nil {
			return describeUserError(err)
		}

		action := "updated"
		if created {
			action = "created"
		}
		fmt.Printf("user %d (%s) %s\n", user.ID, user.Email, action)
		return nil
	},
}

var usersClearResetsCmd = &cobra.Command{
	Use:   "clear-resets",
	Short: "Invalidate every outstanding password reset token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		accounts, pool, err := newAccountServiceForUserCommands(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		cleared, err := accounts.ClearPendingResets(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d pending reset(s)\n", cleared)
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || userID == 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		accounts, pool, err := newAccountServiceForUserCommands(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		// Operators act on behalf of the account owner.
		if err := accounts.DeleteUser(cmd.Context(), userID, userID); err != nil {
			return describeUserError(err)
		}
		fmt.Printf("user %d deleted\n", userID)
		return nil
	},
}

func init() {
	usersProvisionCmd.Flags().StringVar(&provisionReq.Email, "email", "", "account email (required)")
	usersProvisionCmd.Flags().StringVar(&provisionReq.Password, "password", "", "initial password, only applied on creation (required)")
	usersProvisionCmd.Flags().StringVar(&provisionReq.FirstName, "first-name", "", "first name")
	usersProvisionCmd.Flags().StringVar(&provisionReq.LastName, "last-name", "", "last name")

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersStatsCmd)
	usersCmd.AddCommand(usersProvisionCmd)
	usersCmd.AddCommand(usersClearResetsCmd)
	usersCmd.AddCommand(usersDeleteCmd)
	rootCmd.AddCommand(usersCmd)
}

func openPool(ctx context.Context) (*config.Config, *database.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := configureLogging(cfg); err != nil {
		return nil, nil, err
	}

	pool, err := database.Open(ctx, cfg.MySQL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newAccountServiceForUserCommands(ctx context.Context) (service.AccountService, *database.Pool, error) {
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}

	resetMailer, err := mailer.New(cfg.Mail)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	creds := service.NewCredentials(cfg.JWT.Secret, cfg.JWT.SessionTTL, cfg.BcryptCost)
	accounts := service.NewAccountService(pool, creds, resetMailer, cfg.PasswordPolicy,
		service.WithMailTimeout(cfg.Mail.Timeout))
	return accounts, pool, nil
}

func describeUserError(err error) error {
	if service.IsClientError(err) {
		return fmt.Errorf("rejected: %w", err)
	}
	return fmt.Errorf("store failure: %w", err)
}
