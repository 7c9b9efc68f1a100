package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/templates"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
)

// EngineTool names the engine in exit errors.
const EngineTool = "docker-engine"

// EngineClient is the subset of the Docker API client used for builds.
type EngineClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

var _ build.BuildDriver = (*EngineDriver)(nil)

// EngineDriver builds images through the Docker Engine API instead of the CLI.
type EngineDriver struct {
	Client EngineClient
	// Output receives the rendered build stream. Defaults to os.Stdout.
	Output io.Writer
	// Verify inspects the tag after a successful build.
	Verify bool
	Logger *slog.Logger
}

func (d *EngineDriver) logger() *slog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Build sends the context directory as a tar stream and follows the build
// output until the engine reports completion or an error.
func (d *EngineDriver) Build(ctx context.Context, plan build.BuildPlan, buildContext build.BuildContext) error {
	if d.Client == nil {
		return errors.New("docker engine client is not configured")
	}
	logger := d.logger().With("tag", plan.ImageTag)

	tarball, err := archive.TarWithOptions(buildContext.Dir(), &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("archive build context: %w", err)
	}
	defer tarball.Close()

	logger.Info("sending build context to docker engine", "dir", buildContext.Dir(), "platform", plan.Platform)
	response, err := d.Client.ImageBuild(ctx, tarball, types.ImageBuildOptions{
		Tags:        []string{plan.ImageTag},
		Dockerfile:  templates.ManifestFilename,
		Platform:    plan.Platform,
		Remove:      true,
		ForceRemove: true,
		Labels: map[string]string{
			"cask.agent":    plan.Agent.ID,
			"cask.profile":  plan.Agent.CapabilityProfile,
			"cask.build-id": plan.BuildID,
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("engine build interrupted: %w", ctxErr)
		}
		return fmt.Errorf("start engine build: %w", err)
	}
	defer response.Body.Close()

	err = jsonmessage.DisplayJSONMessagesStream(response.Body, d.output(), 0, false, nil)
	var streamErr *jsonmessage.JSONError
	switch {
	case errors.As(err, &streamErr):
		code := streamErr.Code
		if code == 0 {
			code = 1
		}
		logger.Error("docker engine reported build failure", "message", streamErr.Message)
		return fmt.Errorf("%s: %w", streamErr.Message, &build.ExitError{Tool: EngineTool, Code: code})
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("engine build interrupted: %w", ctxErr)
		}
		return fmt.Errorf("read build output: %w", err)
	}

	if d.Verify {
		inspect, _, err := d.Client.ImageInspectWithRaw(ctx, plan.ImageTag)
		if err != nil {
			return fmt.Errorf("verify image %s: %w", plan.ImageTag, err)
		}
		logger.Debug("verified built image", "image_id", inspect.ID, "size", inspect.Size)
	}
	return nil
}

func (d *EngineDriver) output() io.Writer {
	if d.Output != nil {
		return d.Output
	}
	return os.Stdout
}

// NewEngineClient connects to the daemon named by the DOCKER_* environment and
// checks that it answers.
func NewEngineClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("could not connect to Docker daemon: %w", err)
	}
	return cli, nil
}
