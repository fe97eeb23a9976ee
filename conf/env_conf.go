package conf

import "os"

// Environment deployment environment
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// CurEnv current environment, set before InitConfig (flag or UPLOADER_ENV)
var CurEnv = EnvDev

// SetEnv set the current environment, unknown values fall back to dev
func SetEnv(env string) {
	switch Environment(env) {
	case EnvDev, EnvTest, EnvProd:
		CurEnv = Environment(env)
	default:
		CurEnv = EnvDev
	}
}

// GetYaml returns the config file path for the current environment
func GetYaml() string {
	if env := os.Getenv("UPLOADER_CONF"); env != "" {
		return env
	}
	switch CurEnv {
	case EnvProd:
		return "conf_prod.yaml"
	case EnvTest:
		return "conf_test.yaml"
	default:
		return "conf_dev.yaml"
	}
}
