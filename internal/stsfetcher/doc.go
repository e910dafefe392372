// stsfetcher
//
// Speaks the raw STS query protocol to exchange a web identity token for
// temporary credentials, or to chain-assume a second role signed with
// credentials obtained in a prior step.
//
// A Fetcher performs exactly one fetch per invocation and reports the raw
// response body or a failure status through the supplied callbacks. Caching,
// refresh scheduling and persistence are the caller's responsibility.
package stsfetcher
