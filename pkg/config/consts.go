package config

const (
	EnvPrefix = "COURSEPASS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "COURSEPASS_DB_DSN"
	EnvDBHost = "COURSEPASS_DB_HOST"
	EnvDBUser = "COURSEPASS_DB_USER"
	EnvDBName = "COURSEPASS_DB_NAME"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
