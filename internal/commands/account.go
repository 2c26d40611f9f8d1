package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fintrack/internal/services"
	"fintrack/internal/session"
)

// readSecret returns flagValue, else the next line of stdin.
func (r *runtime) readSecret(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if r.stdin == nil {
		r.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := r.stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newSignInCommand(rt *runtime) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and remember the account locally",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			pw, err := rt.readSecret(cmd, password, "Password: ")
			if err != nil {
				return err
			}
			acc, err := app.Accounts.SignIn(cmd.Context(), app.Session, email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(acc.FullName, acc.Email, acc.ID))

			// prime the snapshot so offline commands have data
			if snap, err := app.Transactions.Refresh(cmd.Context(), app.Session); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d transactions\n", len(snap.Transactions))
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	_ = cmd.MarkFlagRequired("email")
	cmd.Flags().StringVar(&password, "password", "", "password; read from stdin when omitted")

	return cmd
}

func newSignUpCommand(rt *runtime) *cobra.Command {
	var in services.SignUpInput

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			var err error
			if in.Password, err = rt.readSecret(cmd, in.Password, "Password: "); err != nil {
				return err
			}
			if in.ConfirmPassword == "" {
				if in.ConfirmPassword, err = rt.readSecret(cmd, "", "Confirm password: "); err != nil {
					return err
				}
			}
			acc, err := app.Accounts.SignUp(cmd.Context(), app.Session, in)
			if err != nil {
				var verr *services.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("%s: %s", verr.Field, verr.Message)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created, signed in as %s\n", displayName(acc.FullName, acc.Email, acc.ID))
			return nil
		}),
	}

	cmd.Flags().StringVar(&in.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&in.Username, "username", "", "username")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Password, "password", "", "password; read from stdin when omitted")
	cmd.Flags().StringVar(&in.ConfirmPassword, "confirm", "", "password confirmation; read from stdin when omitted")

	return cmd
}

func newSignOutCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the signed-in account and its cached records",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			if err := app.Accounts.SignOut(cmd.Context(), app.Session); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func newAccountCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			acc, err := app.Accounts.Profile(cmd.Context(), app.Session)
			if errors.Is(err, session.ErrNotSignedIn) {
				return errors.New("not signed in, run `fintrack signin` first")
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", acc.ID)
			if acc.FullName != "" {
				fmt.Fprintf(out, "Name:     %s\n", acc.FullName)
			}
			if acc.Username != "" {
				fmt.Fprintf(out, "Username: %s\n", acc.Username)
			}
			if acc.Email != "" {
				fmt.Fprintf(out, "Email:    %s\n", acc.Email)
			}
			return nil
		}),
	}
}

func displayName(candidates ...string) string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return "unknown"
}
