package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"fintrack/internal/export"
)

func newExportCommand(rt *runtime) *cobra.Command {
	var filters filterFlags
	var format, outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transactions to an XLSX file or Google Sheets",
		Args:  cobra.NoArgs,
		RunE: withApp(rt, func(cmd *cobra.Command, app *App, _ []string) error {
			spec, err := filters.spec()
			if err != nil {
				return err
			}
			h, err := app.Transactions.History(cmd.Context(), app.Session, spec)
			if err != nil {
				return err
			}

			switch format {
			case "xlsx":
				if outPath == "" {
					outPath = "fintrack-" + time.Now().In(app.Location).Format("20060102") + ".xlsx"
				}
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				if err := export.WriteXLSX(f, h.Transactions, app.Location); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("writing %s: %w", outPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d transactions to %s\n", len(h.Transactions), outPath)
			case "sheets":
				if app.Sheets == nil {
					return fmt.Errorf("google sheets export is not configured")
				}
				sheets, err := app.Sheets(cmd.Context())
				if err != nil {
					return err
				}
				n, err := sheets.Append(cmd.Context(), h.Transactions)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Appended %d rows to Google Sheets\n", n)
			default:
				return fmt.Errorf("unknown format %q, use xlsx or sheets", format)
			}
			return nil
		}),
	}

	filters.bind(cmd)
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or sheets")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file for xlsx")

	return cmd
}
