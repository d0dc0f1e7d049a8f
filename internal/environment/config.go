package environment

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvConfig holds deployment-level settings read from the environment.
type EnvConfig struct {
	SqsQueueUrl  string
	AwsRegion    string
	NatsUrl      string
	CrashDir     string
	DefaultsPath string
}

// ReadEnvConfig loads a .env file if present and reads the worker's
// environment variables. Only the SQS queue URL is mandatory; everything
// else has a workable default.
func ReadEnvConfig() (*EnvConfig, error) {
	// A missing .env file is fine; deployments set real env vars.
	_ = godotenv.Load()

	result := &EnvConfig{
		SqsQueueUrl:  os.Getenv("SESSIOND_SQS_QUEUE_URL"),
		AwsRegion:    os.Getenv("SESSIOND_AWS_REGION"),
		NatsUrl:      os.Getenv("SESSIOND_NATS_URL"),
		CrashDir:     os.Getenv("SESSIOND_CRASH_DIR"),
		DefaultsPath: os.Getenv("SESSIOND_DEFAULTS_PATH"),
	}

	if result.SqsQueueUrl == "" {
		return nil, fmt.Errorf("SESSIOND_SQS_QUEUE_URL is not set")
	}
	if result.AwsRegion == "" {
		result.AwsRegion = "eu-central-1"
	}
	if result.NatsUrl == "" {
		result.NatsUrl = "nats://localhost:4222"
	}
	if result.CrashDir == "" {
		result.CrashDir = "/var/crash"
	}

	return result, nil
}
