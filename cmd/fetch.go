package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jbohanon/aws-sts-fetch/internal/cmdutils"
	"github.com/jbohanon/aws-sts-fetch/internal/credentialexchange"
	"github.com/jbohanon/aws-sts-fetch/internal/stsfetcher"
	"github.com/spf13/cobra"
)

var (
	ErrMissingParentCreds = errors.New("chained mode requires parent credentials in the environment")
)

var (
	cluster          string
	target           string
	uri              string
	timeoutSeconds   int
	reloadBeforeTime int
	tokenFile        string
	chained          bool
	fetchCmd         = &cobra.Command{
		Use:   "fetch <flags>",
		Short: "Fetch AWS credentials and out to stdout",
		Long: `Fetch AWS credentials and out to stdout by exchanging a web identity token,
or chain-assume the role with a request signed by the parent credentials taken from the environment.`,
		RunE: getFetch,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if role == "" {
				r, exists := os.LookupEnv(credentialexchange.AWS_ROLE_ARN)
				if !exists {
					return fmt.Errorf("roleVar not found, %s is empty, %w", credentialexchange.AWS_ROLE_ARN, credentialexchange.ErrMissingEnvVar)
				}
				role = r
			}
			return nil
		},
	}
)

func init() {
	fetchCmd.PersistentFlags().StringVarP(&cluster, "cluster", "c", "", "Name of the upstream cluster serving the credential endpoint")
	fetchCmd.MarkPersistentFlagRequired("cluster")
	fetchCmd.PersistentFlags().StringVarP(&target, "target", "t", "", "Base URL the cluster resolves to, e.g. https://sts.amazonaws.com")
	fetchCmd.MarkPersistentFlagRequired("target")
	fetchCmd.PersistentFlags().StringVarP(&uri, "uri", "u", "/", "Path and query to request on the resolved cluster")
	fetchCmd.PersistentFlags().IntVarP(&timeoutSeconds, "timeout", "", 5, "Timeout of the outbound call, in seconds")
	fetchCmd.PersistentFlags().IntVarP(&reloadBeforeTime, "reload-before", "", 0, "Triggers a credentials refresh before the stored credential expires. Value provided in seconds")
	fetchCmd.PersistentFlags().StringVarP(&tokenFile, "token-file", "", "", fmt.Sprintf("File holding the web identity token, falls back to %s", credentialexchange.WEB_ID_TOKEN_VAR))
	fetchCmd.PersistentFlags().BoolVarP(&chained, "chained", "", false, "Chain-assume the role signed with the parent credentials from the environment instead of exchanging a web identity token")
	RootCmd.AddCommand(fetchCmd)
}

func getFetch(cmd *cobra.Command, args []string) error {
	conf := credentialexchange.CredentialConfig{
		Cluster:        cluster,
		Uri:            uri,
		TimeoutSeconds: timeoutSeconds,
		Chained:        chained,
		BaseConfig: credentialexchange.BaseConfig{
			Role:             role,
			StoreInProfile:   storeInProfile,
			CfgSectionName:   cfgSectionName,
			ReloadBeforeTime: reloadBeforeTime,
		},
	}

	currentUser, err := user.Current()
	if err != nil {
		return err
	}

	secretStore, err := credentialexchange.NewSecretStore(role,
		fmt.Sprintf("%s-%s", credentialexchange.SELF_NAME, credentialexchange.RoleKeyConverter(role)),
		os.TempDir(), currentUser.Username)
	if err != nil {
		return err
	}

	var parentCreds *stsfetcher.Credentials
	var token string
	if chained {
		if parentCreds, err = parentCredsFromEnv(); err != nil {
			return err
		}
	} else {
		if token, err = webIdentityToken(); err != nil {
			return err
		}
	}

	fetcher := stsfetcher.New(
		stsfetcher.StaticResolver{cluster: target},
		stsfetcher.NewHTTPTransport(nil),
	)

	return cmdutils.GetCreds(cmd.Context(), fetcher, stsClientFactory, secretStore, conf, parentCreds, token)
}

func webIdentityToken() (string, error) {
	if tokenFile != "" {
		content, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", err
		}
		return string(content), nil
	}
	return credentialexchange.GetWebIdTokenFileContents()
}

func parentCredsFromEnv() (*stsfetcher.Credentials, error) {
	accessKey, okKey := os.LookupEnv("AWS_ACCESS_KEY_ID")
	secretKey, okSecret := os.LookupEnv("AWS_SECRET_ACCESS_KEY")
	if !okKey || !okSecret {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set, %w", ErrMissingParentCreds)
	}
	return &stsfetcher.Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}, nil
}

func stsClientFactory(ctx context.Context, creds credentialexchange.AWSCredentials) (credentialexchange.AuthIdentityApi, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(creds.AWSAccessKey, creds.AWSSecretKey, creds.AWSSessionToken)))
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}
