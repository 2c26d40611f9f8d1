// Package commands implements the fintrack command line.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/core"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

// SheetsAppender appends transactions to a spreadsheet.
type SheetsAppender interface {
	Append(ctx context.Context, txs []core.Transaction) (int, error)
}

// App is everything a command needs. Close releases it after the command.
type App struct {
	Transactions *services.TransactionService
	Accounts     *services.AccountService
	Session      *session.Session
	Location     *time.Location
	// Sheets opens the Google Sheets exporter on demand.
	Sheets func(ctx context.Context) (SheetsAppender, error)
	Close  func() error
}

// Opener builds the App for a command that needs it.
type Opener func(ctx context.Context) (*App, error)

type runtime struct {
	open  Opener
	app   *App
	stdin *bufio.Reader
}

func (r *runtime) load(cmd *cobra.Command) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	app, err := r.open(cmd.Context())
	if err != nil {
		return nil, err
	}
	if app.Location == nil {
		app.Location = time.Local
	}
	r.app = app
	return app, nil
}

func (r *runtime) close() error {
	if r.app == nil || r.app.Close == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(open Opener, version string) *cobra.Command {
	rt := &runtime{open: open}

	rootCmd := &cobra.Command{
		Use:     "fintrack",
		Short:   "Track income and expenses against the FinTrack data service",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newSignInCommand(rt),
		newSignUpCommand(rt),
		newSignOutCommand(rt),
		newAccountCommand(rt),
		newSyncCommand(rt),
		newDashboardCommand(rt),
		newHistoryCommand(rt),
		newAddCommand(rt),
		newExportCommand(rt),
	)

	return rootCmd
}

// withApp adapts a run function that needs the App into a cobra RunE. The
// App is closed when the command returns.
func withApp(rt *runtime, run func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		app, err := rt.load(cmd)
		if err != nil {
			return fmt.Errorf("initializing: %w", err)
		}
		defer func() {
			if cerr := rt.close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return run(cmd, app, args)
	}
}
