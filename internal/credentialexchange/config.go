package credentialexchange

const (
	SELF_NAME        = "aws-sts-fetch"
	WEB_ID_TOKEN_VAR = "AWS_WEB_IDENTITY_TOKEN_FILE"
	AWS_ROLE_ARN     = "AWS_ROLE_ARN"
	INI_CONF_SECTION = "role"
)

type BaseConfig struct {
	Role             string
	Username         string
	CfgSectionName   string
	StoreInProfile   bool
	ReloadBeforeTime int
}

// CredentialConfig carries everything one fetch invocation needs: the
// endpoint to hit and how to treat the result.
type CredentialConfig struct {
	BaseConfig     BaseConfig
	Cluster        string
	Uri            string
	TimeoutSeconds int
	Region         string
	Chained        bool
}
