// Package secrets resolves connection strings held in AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewClient creates a Secrets Manager client from the default AWS config.
// An empty region defers to the environment.
func NewClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// rdsSecret is the JSON layout RDS writes for managed database credentials.
type rdsSecret struct {
	DSN      string      `json:"dsn"`
	Engine   string      `json:"engine"`
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	DBName   string      `json:"dbname"`
}

// ResolveDSN reads a secret and returns a Postgres connection string. The
// secret may hold the DSN itself, a JSON object with a "dsn" key, or RDS
// managed credentials.
func ResolveDSN(ctx context.Context, client SecretsAPI, secretID string) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("reading secret %s: %w", secretID, err)
	}
	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if raw == "" {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	var s rdsSecret
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return "", fmt.Errorf("secret %s: %w", secretID, err)
	}
	if s.DSN != "" {
		return s.DSN, nil
	}
	if s.Host == "" || s.Username == "" {
		return "", fmt.Errorf("secret %s: expected dsn or host and username", secretID)
	}
	return buildDSN(s)
}

func buildDSN(s rdsSecret) (string, error) {
	host := s.Host
	if s.Port != "" {
		if _, err := strconv.Atoi(s.Port.String()); err != nil {
			return "", fmt.Errorf("invalid port %q", s.Port)
		}
		host += ":" + s.Port.String()
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.Username, s.Password),
		Host:   host,
		Path:   "/" + s.DBName,
	}
	return u.String(), nil
}
