package stsfetcher

import (
	"github.com/aws/aws-sdk-go-v2/aws"
)

// Credentials is an immutable snapshot of an STS credential triple.
// The fetcher only reads it while building the chained request and never
// retains it past the call.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c Credentials) sdkCredentials() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	}
}
