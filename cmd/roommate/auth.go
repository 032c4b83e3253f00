package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/api"
	"github.com/roommate-match/go-client/model"
	"github.com/roommate-match/go-client/tui"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and keep the session for later commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		creds := api.Credentials{}
		creds.Username, _ = cmd.Flags().GetString("username")
		creds.Password, _ = cmd.Flags().GetString("password")
		if creds.Username == "" && tui.HasTTY {
			creds.Username = tui.Input(a.logger, "Username", "")
		}
		if creds.Password == "" && tui.HasTTY {
			creds.Password = tui.Password(a.logger, "Password", "")
		}
		if creds.Username == "" || creds.Password == "" {
			return errors.New("--username and --password are required when not running in a terminal")
		}
		var sess model.Session
		err := tui.Spin(cmd.Context(), "Logging in ...", func(ctx context.Context) (err error) {
			sess, err = a.client.Login(ctx, creds)
			return err
		})
		if err != nil {
			if api.IsUnauthorized(err) {
				return errors.New("invalid username or password")
			}
			return err
		}
		tui.ShowSuccess("Logged in as user %s (%s)", sess.Identity.ID, roleName(sess.Identity.Role))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the refresh token and forget the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		if sess, ok := a.sessions.Get(); ok && !tui.Confirm(a.logger, "Log out user "+sess.Identity.ID.String()+"?", true) {
			return nil
		}
		if err := a.client.Logout(cmd.Context()); err != nil {
			return err
		}
		tui.ShowSuccess("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		if err := a.requireLogin(); err != nil {
			return err
		}
		id := a.sessions.Identity()
		fmt.Printf("%s %s\n", tui.Bold("user "+id.ID.String()), tui.Secondary(roleName(id.Role)))
		return nil
	},
}

func roleName(r model.Role) string {
	if r.Privileged() {
		return "administrator"
	}
	if r == "" {
		return "user"
	}
	return string(r)
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "username")
	loginCmd.Flags().StringP("password", "p", "", "password, prompted for when omitted")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}
