package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity the gateway authenticated you as",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.api.Login(GetContext()); err != nil {
				return err
			}

			user, ok := app.identity.Current()
			if !ok {
				return fmt.Errorf("the gateway did not report an authenticated user")
			}
			fmt.Println(user.Username)
			return nil
		},
	}
}
