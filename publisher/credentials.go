package publisher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-playground/validator/v10"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/**
contents of a generic registry credentials file, e.g.

	username = "deploy"
	password = "s3cret"
*/
type RegistryCredentials struct {
	Username string `toml:"username" validate:"required"`
	Password string `toml:"password" validate:"required"`
}

type CredentialsLoader func(path string) (*RegistryCredentials, error)

var validate = validator.New()

func LoadCredentialsFile(path string) (*RegistryCredentials, error) {
	var creds RegistryCredentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, fmt.Errorf("could not read registry credentials from %s: %w", path, err)
	}
	if err := validate.Struct(&creds); err != nil {
		return nil, fmt.Errorf("registry credentials in %s are incomplete: %w", path, err)
	}
	return &creds, nil
}

type RegistryToken struct {
	Username string
	Password string
	Endpoint string //registry host, no scheme
}

/**
TokenExchanger swaps ambient cloud credentials for a short-lived registry login
*/
type TokenExchanger interface {
	Exchange(ctx context.Context, mode models.RegistryMode) (*RegistryToken, error)
}

type ecrAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type ECRExchanger struct {
	CredentialsFile string //optional AWS shared credentials file
	logger          *zap.Logger

	//overridable for testing; built from the AWS config when nil
	ecr ecrAPI
	sts stsAPI
}

func NewECRExchanger(credentialsFile string, logger *zap.Logger) *ECRExchanger {
	return &ECRExchanger{CredentialsFile: credentialsFile, logger: logging.OrNop(logger)}
}

func (e *ECRExchanger) clients(ctx context.Context, mode models.RegistryMode) (ecrAPI, stsAPI, error) {
	if e.ecr != nil && e.sts != nil {
		return e.ecr, e.sts, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if mode.Region != "" {
		opts = append(opts, awsconfig.WithRegion(mode.Region))
	}
	if e.CredentialsFile != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{e.CredentialsFile}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return ecr.NewFromConfig(cfg), sts.NewFromConfig(cfg), nil
}

/**
asks STS who we are (for the log) and ECR for an authorization token at the same time. The token is
base64 "AWS:<password>"
*/
func (e *ECRExchanger) Exchange(ctx context.Context, mode models.RegistryMode) (*RegistryToken, error) {
	ecrClient, stsClient, clientErr := e.clients(ctx, mode)
	if clientErr != nil {
		return nil, clientErr
	}

	var identity *sts.GetCallerIdentityOutput
	var authorization *ecr.GetAuthorizationTokenOutput

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		identity, err = stsClient.GetCallerIdentity(groupCtx, &sts.GetCallerIdentityInput{})
		return err
	})
	group.Go(func() error {
		var err error
		authorization, err = ecrClient.GetAuthorizationToken(groupCtx, &ecr.GetAuthorizationTokenInput{})
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	e.logger.Info("exchanged credentials for a registry token",
		zap.String("identity", aws.ToString(identity.Arn)),
		zap.String("registry", mode.Host))
	return tokenFromAuthorization(authorization)
}

func tokenFromAuthorization(out *ecr.GetAuthorizationTokenOutput) (*RegistryToken, error) {
	if out == nil || len(out.AuthorizationData) == 0 {
		return nil, errors.New("registry returned no authorization data")
	}
	data := out.AuthorizationData[0]
	decoded, decErr := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if decErr != nil {
		return nil, fmt.Errorf("authorization token is not valid base64: %w", decErr)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.New("authorization token is not in user:password form")
	}
	return &RegistryToken{
		Username: parts[0],
		Password: parts[1],
		Endpoint: models.StripScheme(aws.ToString(data.ProxyEndpoint)),
	}, nil
}
