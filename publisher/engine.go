package publisher

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/guardian/kuberunner/common/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

/**
ImageEngine is the subset of a container engine that the publisher needs
*/
type ImageEngine interface {
	Build(ctx context.Context, contextDir string, tag string) error
	Login(ctx context.Context, auth RegistryAuth) error
	Tag(ctx context.Context, source string, target string) error
	Push(ctx context.Context, ref string, auth *RegistryAuth) error
}

type DockerEngine struct {
	cli    *client.Client
	logger *zap.Logger
}

// NewDockerEngine connects to the engine given by DOCKER_HOST and friends.
func NewDockerEngine(logger *zap.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerEngine{cli: cli, logger: logging.OrNop(logger)}, nil
}

func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

func (d *DockerEngine) Build(ctx context.Context, contextDir string, tag string) error {
	buildContext, tarErr := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if tarErr != nil {
		return tarErr
	}
	defer buildContext.Close()

	response, buildErr := d.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if buildErr != nil {
		return buildErr
	}
	defer response.Body.Close()
	return d.drain(response.Body, "build")
}

func (d *DockerEngine) Login(ctx context.Context, auth RegistryAuth) error {
	result, err := d.cli.RegistryLogin(ctx, toAuthConfig(&auth))
	if err != nil {
		return err
	}
	d.logger.Debug("registry login", zap.String("registry", auth.ServerAddress), zap.String("status", result.Status))
	return nil
}

func (d *DockerEngine) Tag(ctx context.Context, source string, target string) error {
	return d.cli.ImageTag(ctx, source, target)
}

func (d *DockerEngine) Push(ctx context.Context, ref string, auth *RegistryAuth) error {
	encoded, encErr := registry.EncodeAuthConfig(toAuthConfig(auth))
	if encErr != nil {
		return encErr
	}
	progress, pushErr := d.cli.ImagePush(ctx, ref, types.ImagePushOptions{RegistryAuth: encoded})
	if pushErr != nil {
		return pushErr
	}
	defer progress.Close()
	return d.drain(progress, "push")
}

/**
the engine reports build and push failures inside the progress stream rather than as an API error, so the
stream has to be read to the end. DisplayJSONMessagesStream returns the first error message it finds
*/
func (d *DockerEngine) drain(stream io.Reader, stage string) error {
	out := &zapio.Writer{Log: d.logger.With(zap.String("stage", stage)), Level: zap.DebugLevel}
	defer out.Close()
	return jsonmessage.DisplayJSONMessagesStream(stream, out, 0, false, nil)
}

func toAuthConfig(auth *RegistryAuth) registry.AuthConfig {
	if auth == nil {
		return registry.AuthConfig{}
	}
	return registry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.ServerAddress,
	}
}
