package app

import (
	"fmt"
	"os"

	"github.com/blackwell-systems/appmirror/internal/output"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline progress and recent failures",
	Long: `Status reports how far the mirror has progressed: catalog size, version
records, download completion, on-disk artifact volume, and the most recent
failed downloads.`,
	Example: `  appmirror status`,
	RunE:    runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := db.Summarize()
	if err != nil {
		return err
	}

	fmt.Println("appmirror status")
	fmt.Println()
	fmt.Printf("  Apps:        %d\n", sum.Apps)
	fmt.Printf("  Versions:    %d\n", sum.Versions)
	fmt.Printf("  Downloaded:  %d (%s on disk)\n", sum.Downloaded, humanize.Bytes(uint64(sum.ArtifactBytes)))
	fmt.Printf("  Pending:     %d\n", sum.Pending)
	if sum.Versions > 0 {
		fmt.Printf("  Progress:    %.1f%%\n", float64(sum.Downloaded)/float64(sum.Versions)*100)
	}
	fmt.Println()

	if sum.FailedDownloads == 0 {
		fmt.Println("No failed downloads recorded.")
		return nil
	}

	failed, err := db.ListFailedDownloads(10)
	if err != nil {
		return err
	}
	fmt.Printf("Failed downloads: %d total, most recent:\n\n", sum.FailedDownloads)
	table := output.NewTable("APP", "VERSION", "WHEN", "ERROR")
	for _, f := range failed {
		table.AddRow(f.AddonKey, f.VersionID, humanize.Time(f.Timestamp), truncate(f.Error, 60))
	}
	table.Render(os.Stdout)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
