package cmdutils_test

import (
	"context"
	"errors"
	"os"
	"path"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jbohanon/aws-sts-fetch/internal/cmdutils"
	"github.com/jbohanon/aws-sts-fetch/internal/credentialexchange"
	"github.com/jbohanon/aws-sts-fetch/internal/stsfetcher"
	ini "gopkg.in/ini.v1"
)

const webIdentityResponse = `<AssumeRoleWithWebIdentityResponse xmlns="https://sts.amazonaws.com/doc/2011-06-15/">
  <AssumeRoleWithWebIdentityResult>
    <AssumedRoleUser>
      <Arn>arn:aws:sts::111122223333:assumed-role/dev/session-1700000000</Arn>
    </AssumedRoleUser>
    <Credentials>
      <AccessKeyId>ASIAEXAMPLE</AccessKeyId>
      <SecretAccessKey>somesecret</SecretAccessKey>
      <SessionToken>sometoken</SessionToken>
      <Expiration>2033-11-14T23:33:20Z</Expiration>
    </Credentials>
  </AssumeRoleWithWebIdentityResult>
</AssumeRoleWithWebIdentityResponse>`

type fakeFetcher struct {
	fetch     func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error
	cancelled bool
}

func (f *fakeFetcher) Fetch(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
	return f.fetch(endpoint, roleARN, webToken, parent, cb)
}

func (f *fakeFetcher) Cancel() { f.cancelled = true }

type fakeSecretStore struct {
	current *credentialexchange.AWSCredentials
	saved   *credentialexchange.AWSCredentials
}

func (s *fakeSecretStore) AWSCredential() (*credentialexchange.AWSCredentials, error) {
	return s.current, nil
}

func (s *fakeSecretStore) SaveAWSCredential(cred *credentialexchange.AWSCredentials) error {
	s.saved = cred
	s.current = cred
	return nil
}

func (s *fakeSecretStore) Clear() error    { return nil }
func (s *fakeSecretStore) ClearAll() error { return nil }

type mockIdentityApi struct {
	getCallId func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func (m *mockIdentityApi) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return m.getCallId(ctx, params, optFns...)
}

func happyIdentityFactory(t *testing.T) cmdutils.IdentityClientFactory {
	t.Helper()
	return func(ctx context.Context, creds credentialexchange.AWSCredentials) (credentialexchange.AuthIdentityApi, error) {
		m := &mockIdentityApi{}
		m.getCallId = func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
			return &sts.GetCallerIdentityOutput{Account: aws.String("account"), Arn: aws.String("arn")}, nil
		}
		return m, nil
	}
}

func profileConf(t *testing.T) credentialexchange.CredentialConfig {
	t.Helper()
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", path.Join(t.TempDir(), "credentials"))
	return credentialexchange.CredentialConfig{
		Cluster:        "sts-cluster",
		Uri:            "/",
		TimeoutSeconds: 5,
		BaseConfig: credentialexchange.BaseConfig{
			Role:             "somerole",
			StoreInProfile:   true,
			CfgSectionName:   "test-section",
			ReloadBeforeTime: 120,
		},
	}
}

func assertProfileAccessKey(t *testing.T, want string) {
	t.Helper()
	cfg, err := ini.Load(os.Getenv("AWS_SHARED_CREDENTIALS_FILE"))
	if err != nil {
		t.Fatalf("Fail to read file: %v", err)
	}
	if got := cfg.Section("test-section").Key("aws_access_key_id").String(); got != want {
		t.Errorf("Wanted: %s, Got: %s", want, got)
	}
}

func Test_GetCreds_with(t *testing.T) {
	ttests := map[string]struct {
		fetch     func(t *testing.T) *fakeFetcher
		stored    *credentialexchange.AWSCredentials
		expectErr bool
		errTyp    error
	}{
		"fetch success stores and emits credentials": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					if endpoint.Cluster != "sts-cluster" {
						t.Errorf("expected cluster: %s got: %s", "sts-cluster", endpoint.Cluster)
					}
					if roleARN != "somerole" {
						t.Errorf("expected role: %s got: %s", "somerole", roleARN)
					}
					cb.OnSuccess([]byte(webIdentityResponse))
					return nil
				}}
			},
		},
		"expired token failure": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					cb.OnFailure(stsfetcher.FailureExpiredToken)
					return nil
				}}
			},
			expectErr: true,
			errTyp:    cmdutils.ErrExpiredToken,
		},
		"cluster not found failure": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					cb.OnFailure(stsfetcher.FailureClusterNotFound)
					return nil
				}}
			},
			expectErr: true,
			errTyp:    cmdutils.ErrClusterNotFound,
		},
		"network failure": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					cb.OnFailure(stsfetcher.FailureNetwork)
					return nil
				}}
			},
			expectErr: true,
			errTyp:    cmdutils.ErrFetchFailed,
		},
		"overlapping fetch is surfaced": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					return stsfetcher.ErrFetchInProgress
				}}
			},
			expectErr: true,
			errTyp:    cmdutils.ErrFetchFailed,
		},
		"valid stored credential skips the fetch": {
			fetch: func(t *testing.T) *fakeFetcher {
				return &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
					t.Error("fetch must not run when the stored credential is valid")
					return nil
				}}
			},
			stored: &credentialexchange.AWSCredentials{
				AWSAccessKey: "ASIASTORED",
				Expires:      time.Now().Local().Add(15 * time.Minute),
			},
		},
	}
	for name, tt := range ttests {
		t.Run(name, func(t *testing.T) {
			conf := profileConf(t)
			store := &fakeSecretStore{current: tt.stored}

			err := cmdutils.GetCreds(context.TODO(), tt.fetch(t), happyIdentityFactory(t), store, conf, nil, "sometoken")

			if tt.expectErr {
				if err == nil {
					t.Fatalf("got <nil>, wanted %s", tt.errTyp)
				}
				if !errors.Is(err, tt.errTyp) {
					t.Errorf("got %s, wanted %s", err, tt.errTyp)
				}
				return
			}

			if err != nil {
				t.Fatalf("got %s, wanted <nil>", err)
			}

			if tt.stored != nil {
				assertProfileAccessKey(t, "ASIASTORED")
				if store.saved != nil {
					t.Error("stored credential must not be re-saved")
				}
				return
			}

			if store.saved == nil {
				t.Fatal("fetched credential not saved")
			}
			if store.saved.Version != 1 {
				t.Errorf("expected credential_process version 1, got %d", store.saved.Version)
			}
			assertProfileAccessKey(t, "ASIAEXAMPLE")
		})
	}
}

func Test_GetCreds_missing_section_name(t *testing.T) {
	conf := credentialexchange.CredentialConfig{
		BaseConfig: credentialexchange.BaseConfig{StoreInProfile: true},
	}

	err := cmdutils.GetCreds(context.TODO(), &fakeFetcher{}, happyIdentityFactory(t), &fakeSecretStore{}, conf, nil, "")
	if !errors.Is(err, cmdutils.ErrMissingArg) {
		t.Fatalf("got %v, wanted %s", err, cmdutils.ErrMissingArg)
	}
}

func Test_GetCreds_cancelled_context_cancels_fetch(t *testing.T) {
	conf := profileConf(t)
	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	fetcher := &fakeFetcher{fetch: func(endpoint stsfetcher.Endpoint, roleARN, webToken string, parent *stsfetcher.Credentials, cb stsfetcher.Callbacks) error {
		// never completes
		return nil
	}}

	err := cmdutils.GetCreds(ctx, fetcher, happyIdentityFactory(t), &fakeSecretStore{}, conf, nil, "sometoken")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, wanted %s", err, context.Canceled)
	}
	if !fetcher.cancelled {
		t.Error("outstanding fetch not cancelled")
	}
}
