package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sknet/notify"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		publicKey, privateKey, err := notify.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("generate VAPID keys: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "# add these to your .env")
		fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\n", publicKey)
		fmt.Fprintf(out, "VAPID_PRIVATE_KEY=%s\n", privateKey)
		fmt.Fprintln(out, "VAPID_SUBSCRIBER=admin@example.com")
		return nil
	},
}
