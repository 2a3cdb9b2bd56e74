package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/diodelink/diodelink/internal/api"
)

func newListCmd() *cobra.Command {
	var (
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transferables known to the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			list, err := app.api.ListTransferables(GetContext(), page, pageSize)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Size", "State", "Progress", "Created"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)

			rows := lo.Map(list.Results, func(t api.Transferable, _ int) []string {
				return []string{
					t.ID,
					t.Name,
					formatSize(t.Size),
					t.State,
					fmt.Sprintf("%d%%", t.Progress),
					t.CreatedAt.Local().Format(time.DateTime),
				}
			})
			table.AppendBulk(rows)
			table.Render()

			fmt.Printf("\n%d transferable(s)\n", list.Count)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Result page to fetch (0 = server default)")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Results per page (0 = server default)")

	return cmd
}

// formatSize renders a byte count in human units.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
