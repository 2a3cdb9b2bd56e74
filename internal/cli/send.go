package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/diodelink/diodelink/internal/progress"
	"github.com/diodelink/diodelink/internal/upload"
)

func newSendCmd() *cobra.Command {
	var (
		encrypt bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Upload a file to the gateway",
		Long: `Upload a file to the transfer gateway.

With --encrypt the file is encrypted on this machine with a single-use key;
the gateway receives only ciphertext and a sealed copy of the key it cannot
open itself. Requires DIODELINK_RECIPIENT_PUBLIC_KEY.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory; only single files can be sent", path)
			}

			name := filepath.Base(path)
			var reporter progress.Reporter = progress.NewNoOpProgress()
			if !quiet {
				reporter = progress.NewCLIProgress()
			}
			reporter.Start(name)

			res, err := app.uploads.Upload(GetContext(), upload.Target{
				Name:   name,
				Size:   info.Size(),
				Source: f,
			}, encrypt, reporter.Update)
			if err != nil {
				reporter.Error(err)
				if res != nil && res.State == upload.StateAborted {
					return fmt.Errorf("upload cancelled")
				}
				return err
			}
			reporter.Finish()

			fmt.Printf("Sent %s (%s)", name, formatSize(info.Size()))
			if res.Transferable != nil {
				fmt.Printf(" as %s", res.Transferable.ID)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&encrypt, "encrypt", "e", false, "Encrypt the file before it leaves this machine")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress bar")

	return cmd
}
