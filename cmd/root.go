package cmd

import (
	"fmt"
	"os"

	"github.com/jbohanon/aws-sts-fetch/internal/credentialexchange"
	"github.com/jbohanon/aws-sts-fetch/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	role           string
	cfgSectionName string
	cfgFile        string
	storeInProfile bool
	verbose        bool
	RootCmd        = &cobra.Command{
		Use:   "aws-sts-fetch",
		Short: "CLI tool for fetching AWS temporary credentials over the raw STS protocol",
		Long: `CLI tool for fetching AWS temporary credentials by exchanging a web identity token,
or by chain-assuming a second role with a SigV4-signed request.
Returns the credential_process payload on stdout or stores the credentials under a named profile section.`,
	}
)

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		util.Exit(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVarP(&role, "role", "r", "", "ARN of the role to assume, falls back to AWS_ROLE_ARN")
	RootCmd.PersistentFlags().StringVarP(&cfgSectionName, "cfg-section", "", "", "config section name in the AWS credentials file when --store-profile is set")
	RootCmd.PersistentFlags().BoolVarP(&storeInProfile, "store-profile", "s", false, "By default the credentials are returned to stdout to be used by the credential_process. Set this flag to instead store the credentials under a named profile section")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(fmt.Sprintf(".%s", credentialexchange.SELF_NAME))
	}

	viper.AutomaticEnv()

	util.IsTraceEnabled = verbose

	if err := viper.ReadInConfig(); err == nil {
		util.Traceln("Using config file: %s", viper.ConfigFileUsed())
	}
}
