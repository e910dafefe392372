package cmdutils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jbohanon/aws-sts-fetch/internal/credentialexchange"
	"github.com/jbohanon/aws-sts-fetch/internal/stsfetcher"
)

var (
	ErrMissingArg       = errors.New("missing arg")
	ErrUnableToValidate = errors.New("unable to validate token")
	ErrClusterNotFound  = errors.New("cluster not found")
	ErrExpiredToken     = errors.New("expired token")
	ErrFetchFailed      = errors.New("fetch failed")
)

type SecretStorageImpl interface {
	AWSCredential() (*credentialexchange.AWSCredentials, error)
	Clear() error
	ClearAll() error
	SaveAWSCredential(cred *credentialexchange.AWSCredentials) error
}

// CredentialFetcher is the slice of stsfetcher.Fetcher used here.
type CredentialFetcher interface {
	Fetch(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error
	Cancel()
}

// IdentityClientFactory builds an STS client from a stored credential so its
// validity can be checked before a new fetch is attempted.
type IdentityClientFactory func(ctx context.Context, creds credentialexchange.AWSCredentials) (credentialexchange.AuthIdentityApi, error)

// GetCreds reuses a still-valid stored credential, otherwise it runs exactly
// one fetch and persists and emits the result.
func GetCreds(ctx context.Context, fetcher CredentialFetcher, clientFactory IdentityClientFactory, secretStore SecretStorageImpl, conf credentialexchange.CredentialConfig, parent *stsfetcher.Credentials, token string) error {
	if conf.BaseConfig.CfgSectionName == "" && conf.BaseConfig.StoreInProfile {
		return fmt.Errorf("config-section name must be provided if store-profile is enabled %w", ErrMissingArg)
	}

	storedCreds, err := secretStore.AWSCredential()
	if err != nil {
		return err
	}

	if storedCreds != nil {
		svc, err := clientFactory(ctx, *storedCreds)
		if err != nil {
			return fmt.Errorf("failed to validate: %s, %w", err, ErrUnableToValidate)
		}
		credsValid, err := credentialexchange.IsValid(ctx, storedCreds, conf.BaseConfig.ReloadBeforeTime, svc)
		if err != nil {
			return fmt.Errorf("failed to validate: %s, %w", err, ErrUnableToValidate)
		}
		if credsValid {
			return credentialexchange.SetCredentials(storedCreds, conf)
		}
	}

	return refreshCreds(ctx, fetcher, secretStore, conf, parent, token)
}

// fetchResult bridges the asynchronous callback contract onto the synchronous
// command flow.
type fetchResult struct {
	body   []byte
	status stsfetcher.FailureStatus
	failed bool
}

type resultCollector struct {
	ch chan fetchResult
}

func (c *resultCollector) OnSuccess(body []byte) {
	c.ch <- fetchResult{body: body}
}

func (c *resultCollector) OnFailure(status stsfetcher.FailureStatus) {
	c.ch <- fetchResult{failed: true, status: status}
}

func refreshCreds(ctx context.Context, fetcher CredentialFetcher, secretStore SecretStorageImpl, conf credentialexchange.CredentialConfig, parent *stsfetcher.Credentials, token string) error {
	endpoint := stsfetcher.Endpoint{
		Cluster: conf.Cluster,
		URI:     conf.Uri,
		Timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
	}

	collector := &resultCollector{ch: make(chan fetchResult, 1)}
	if err := fetcher.Fetch(endpoint, conf.BaseConfig.Role, token, parent, collector); err != nil {
		return fmt.Errorf("%s, %w", err, ErrFetchFailed)
	}

	var res fetchResult
	select {
	case res = <-collector.ch:
	case <-ctx.Done():
		fetcher.Cancel()
		return ctx.Err()
	}

	if res.failed {
		switch res.status {
		case stsfetcher.FailureClusterNotFound:
			return fmt.Errorf("%s, %w", res.status, ErrClusterNotFound)
		case stsfetcher.FailureExpiredToken:
			return fmt.Errorf("%s, %w", res.status, ErrExpiredToken)
		default:
			return fmt.Errorf("%s, %w", res.status, ErrFetchFailed)
		}
	}

	awsCreds, err := credentialexchange.ParseCredentials(res.body)
	if err != nil {
		return err
	}
	return completeCredStorage(secretStore, awsCreds, conf)
}

func completeCredStorage(secretStore SecretStorageImpl, awsCreds *credentialexchange.AWSCredentials, conf credentialexchange.CredentialConfig) error {
	awsCreds.Version = 1
	if err := secretStore.SaveAWSCredential(awsCreds); err != nil {
		return err
	}
	return credentialexchange.SetCredentials(awsCreds, conf)
}
