package cmd

import (
	"os"
	"os/user"

	"github.com/jbohanon/aws-sts-fetch/internal/credentialexchange"
	"github.com/jbohanon/aws-sts-fetch/internal/util"
	"github.com/spf13/cobra"
)

var (
	clearCmd = &cobra.Command{
		Use:   "clear-cache <flags>",
		Short: "Clears any stored credentials in the OS secret store",
		Run:   clear,
	}
)

func init() {
	RootCmd.AddCommand(clearCmd)
}

func clear(cmd *cobra.Command, args []string) {
	currentUser, err := user.Current()
	if err != nil {
		util.Exit(err)
	}

	secretStore, err := credentialexchange.NewSecretStore("", credentialexchange.SELF_NAME, os.TempDir(), currentUser.Username)
	if err != nil {
		util.Exit(err)
	}

	if err := secretStore.ClearAll(); err != nil {
		util.Exit(err)
	}

	if err := os.Remove(credentialexchange.ConfigIniFile("")); err != nil && !os.IsNotExist(err) {
		util.Exit(err)
	}
}
