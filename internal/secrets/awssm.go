package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/easygit/ghswitch/internal/config"
)

// secretsManagerAPI is the slice of the Secrets Manager client this store
// uses. Tests substitute a fake.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// awsStore keeps secrets in AWS Secrets Manager so a profile set can be
// shared across machines. Names are <prefix><namespace>/<key>.
type awsStore struct {
	client  secretsManagerAPI
	prefix  string
	timeout time.Duration
}

func newAWSStore(cfg config.AWSStoreConfig) (*awsStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &BackendError{
			Backend: "AWS Secrets Manager",
			Reason:  "loading AWS configuration failed",
			Fix:     "Configure credentials with `aws configure` or set AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY",
			Err:     err,
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ghswitch/"
	}
	return &awsStore{
		client:  secretsmanager.NewFromConfig(awsCfg),
		prefix:  prefix,
		timeout: 10 * time.Second,
	}, nil
}

func (s *awsStore) name(namespace, key string) string {
	return s.prefix + namespace + "/" + key
}

func (s *awsStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *awsStore) Get(namespace, key string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.name(namespace, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", &BackendError{Backend: "AWS Secrets Manager", Reason: "get failed", Err: err}
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", s.name(namespace, key))
	}
	return *out.SecretString, nil
}

func (s *awsStore) Set(namespace, key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	name := s.name(namespace, key)
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if isNotFound(err) {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(value),
		})
	}
	if err != nil {
		return &BackendError{Backend: "AWS Secrets Manager", Reason: "set failed", Err: err}
	}
	return nil
}

func (s *awsStore) Delete(namespace, key string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(s.name(namespace, key)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return &BackendError{Backend: "AWS Secrets Manager", Reason: "delete failed", Err: err}
	}
	return nil
}

func (s *awsStore) Name() string { return "AWS Secrets Manager (" + s.prefix + ")" }

func isNotFound(err error) bool {
	var nf *smtypes.ResourceNotFoundException
	return errors.As(err, &nf)
}
