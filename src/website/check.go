package website

import (
	"context"
	"fmt"
	"os"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/logging"
	"github.com/spf13/cobra"
)

func init() {
	checkCommand := &cobra.Command{
		Use:   "check",
		Short: "Compare image rows with stored files and report differences",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			svc, closeService, err := OpenImageService(ctx)
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to open image service")
			}

			report, err := svc.Check(ctx)
			closeService()
			if err != nil {
				logging.Fatal().Err(err).Msg("consistency check failed")
			}

			printReport(report)
			if !report.Consistent() {
				os.Exit(1)
			}
		},
	}

	WebsiteCommand.AddCommand(checkCommand)
}

func printReport(report *images.ConsistencyReport) {
	fmt.Printf("Checked %d rows against %d stored files.\n", report.Rows, report.Files)
	if report.Consistent() {
		fmt.Println("Everything matches.")
		return
	}

	if len(report.MissingFiles) > 0 {
		fmt.Printf("\nRows whose file is missing (%d):\n", len(report.MissingFiles))
		for _, name := range report.MissingFiles {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(report.OrphanFiles) > 0 {
		fmt.Printf("\nFiles with no row (%d):\n", len(report.OrphanFiles))
		for _, name := range report.OrphanFiles {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(report.SizeMismatch) > 0 {
		fmt.Printf("\nSize mismatches (%d):\n", len(report.SizeMismatch))
		for _, m := range report.SizeMismatch {
			fmt.Printf("  #%d %s: row says %d bytes, file is %d bytes\n", m.ID, m.Filename, m.RowSize, m.FileSize)
		}
	}
}
