package credentialexchange

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

var (
	ErrUnableAssume           = errors.New("unable to assume")
	ErrMissingEnvVar          = errors.New("missing env var")
	ErrInvalidResponsePayload = errors.New("invalid credential response payload")
)

// AWSCredentials is the credential_process shape (Version 1) written to
// stdout or persisted in the secret store.
type AWSCredentials struct {
	Version         int
	AWSAccessKey    string    `json:"AccessKeyId"`
	AWSSecretKey    string    `json:"SecretAccessKey"`
	AWSSessionToken string    `json:"SessionToken"`
	PrincipalARN    string    `json:"-"`
	Expires         time.Time `json:"Expiration"`
}

type stsResult struct {
	Credentials struct {
		AccessKeyId     string    `xml:"AccessKeyId"`
		SecretAccessKey string    `xml:"SecretAccessKey"`
		SessionToken    string    `xml:"SessionToken"`
		Expiration      time.Time `xml:"Expiration"`
	} `xml:"Credentials"`
	AssumedRoleUser struct {
		Arn string `xml:"Arn"`
	} `xml:"AssumedRoleUser"`
}

// stsResponse accepts either response root; the fetch core forwards the body
// verbatim so the action that produced it is not known here.
type stsResponse struct {
	XMLName           xml.Name
	WebIdentityResult stsResult `xml:"AssumeRoleWithWebIdentityResult"`
	ChainedResult     stsResult `xml:"AssumeRoleResult"`
}

// ParseCredentials decodes a raw AssumeRoleWithWebIdentity or AssumeRole
// response body into an AWSCredentials.
func ParseCredentials(body []byte) (*AWSCredentials, error) {
	resp := &stsResponse{}
	if err := xml.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrInvalidResponsePayload)
	}

	result := resp.WebIdentityResult
	if result.Credentials.AccessKeyId == "" {
		result = resp.ChainedResult
	}
	if result.Credentials.AccessKeyId == "" {
		return nil, fmt.Errorf("response carries no credentials element, %w", ErrInvalidResponsePayload)
	}

	return &AWSCredentials{
		AWSAccessKey:    result.Credentials.AccessKeyId,
		AWSSecretKey:    result.Credentials.SecretAccessKey,
		AWSSessionToken: result.Credentials.SessionToken,
		PrincipalARN:    result.AssumedRoleUser.Arn,
		Expires:         result.Credentials.Expiration.Local(),
	}, nil
}

type AuthIdentityApi interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IsValid reports whether a previously stored credential can still be used,
// i.e. STS accepts it and it is not inside the reload window.
func IsValid(ctx context.Context, currentCreds *AWSCredentials, reloadBeforeSeconds int, svc AuthIdentityApi) (bool, error) {
	if currentCreds == nil {
		return false, nil
	}

	if _, err := svc.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ExpiredToken" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check the current credential: %s, %w", err, ErrUnableAssume)
	}

	return !ReloadBeforeExpiry(currentCreds.Expires, reloadBeforeSeconds), nil
}
