package wrapper

import (
	"context"
	"fmt"
	"os"

	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/packager"
	"github.com/guardian/kuberunner/scriptgen"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

/**
the `task` command that the entry script execs. flags mirror what scriptgen renders
*/
func Command(registry *packager.Registry) cli.Command {
	return cli.Command{
		Name:  scriptgen.TaskCommand,
		Usage: "run a packaged function (used inside the job container)",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "workdir", Value: scriptgen.DefaultWorkDir, Usage: "directory holding the payload and result"},
			cli.StringFlag{Name: "payload", Usage: "payload file name"},
			cli.StringFlag{Name: "result", Usage: "result file name"},
			cli.StringFlag{Name: "store", Usage: "network store location, e.g. s3://bucket/prefix"},
			cli.StringFlag{Name: "store-endpoint", Usage: "object storage endpoint"},
			cli.StringFlag{Name: "store-region", Usage: "object storage region"},
			cli.BoolFlag{Name: "store-insecure", Usage: "talk plain http to the object store"},
			cli.IntFlag{Name: "max-retries", EnvVar: "MAX_RETRIES", Usage: "extra attempts for each store transfer"},
			cli.BoolFlag{Name: "debug", EnvVar: "KUBERUNNER_DEBUG"},
		},
		Action: func(c *cli.Context) error {
			logger := logging.New(logging.Config{ServiceName: "kuberunner-task", Debug: c.Bool("debug")})
			defer logger.Sync()

			params := TaskParams{
				WorkDir:       c.String("workdir"),
				PayloadName:   c.String("payload"),
				ResultName:    c.String("result"),
				Store:         c.String("store"),
				StoreEndpoint: c.String("store-endpoint"),
				StoreRegion:   c.String("store-region"),
				StoreInsecure: c.Bool("store-insecure"),
				MaxRetries:    c.Int("max-retries"),
			}
			logger.Info("starting task", zap.String("payload", params.PayloadName), zap.String("workdir", params.WorkDir))

			return NewRunner(registry, nil, logger).Run(context.Background(), params)
		},
	}
}

/**
runs the task command on its own, for binaries that only ever act as the in-container side.
returns the process exit code
*/
func Main(args []string) int {
	app := cli.NewApp()
	app.Name = "kuberunner-task"
	app.Usage = "run a packaged function"
	app.Commands = []cli.Command{Command(packager.DefaultRegistry())}

	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR task failed: %s\n", err)
		return 1
	}
	return 0
}
