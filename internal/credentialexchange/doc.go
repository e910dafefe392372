// credentialexchange
//
// Caller-side handling of fetched STS credentials: decoding the raw response
// payload, validating a previously stored credential, and emitting credentials
// either as a credential_process payload on stdout or into an AWS shared
// credentials profile.
package credentialexchange
