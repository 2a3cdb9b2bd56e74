package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove [id...]",
		Short: "Remove transferables from the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("provide at least one transferable id, or --all")
			}
			if all && len(args) > 0 {
				return fmt.Errorf("--all cannot be combined with explicit ids")
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := GetContext()
			if all {
				if err := app.api.DeleteAllTransferables(ctx); err != nil {
					return err
				}
				fmt.Println("Removed all transferables")
				return nil
			}

			for _, id := range args {
				if err := app.api.DeleteTransferable(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every transferable you own")

	return cmd
}
