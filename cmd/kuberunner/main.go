package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guardian/kuberunner/packager"
	"github.com/guardian/kuberunner/wrapper"
	"github.com/urfave/cli"
)

func newApp(stdout io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "kuberunner"
	app.Usage = "run registered Go functions as Kubernetes jobs"
	app.Writer = stdout
	app.Commands = []cli.Command{
		{
			Name:      "submit",
			Usage:     "run a function on the cluster and print its result",
			ArgsUsage: "FUNCTION [ARG...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "kuberunner.yaml", EnvVar: "KUBERUNNER_CONFIG", Usage: "path to the YAML config"},
				cli.StringSliceFlag{Name: "capture", Usage: "value captured by the function, passed before the arguments (repeatable)"},
				cli.StringSliceFlag{Name: "kw", Usage: "keyword argument key=value (repeatable)"},
				cli.DurationFlag{Name: "timeout", Value: time.Duration(0), Usage: "stop waiting after this long (the job keeps running)"},
				cli.StringFlag{Name: "log-format", Usage: "json or console"},
				cli.BoolFlag{Name: "debug", EnvVar: "KUBERUNNER_DEBUG"},
			},
			Action: Submit(stdout),
		},
		{
			Name:  "functions",
			Usage: "list the functions that can be submitted",
			Action: func(c *cli.Context) error {
				for _, name := range packager.DefaultRegistry().Names() {
					fmt.Fprintln(stdout, name)
				}
				return nil
			},
		},
		{
			Name:  "reap",
			Usage: "delete finished jobs left behind by earlier submissions",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "kuberunner.yaml", EnvVar: "KUBERUNNER_CONFIG", Usage: "path to the YAML config"},
				cli.DurationFlag{Name: "max-age", Value: 36 * time.Hour, Usage: "remove jobs that finished longer ago than this"},
				cli.BoolTFlag{Name: "dry-run", Usage: "only report what would be removed (default true)"},
				cli.BoolFlag{Name: "debug", EnvVar: "KUBERUNNER_DEBUG"},
			},
			Action: Reap,
		},
		wrapper.Command(packager.DefaultRegistry()),
	}
	return app
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %s\n", err)
		os.Exit(1)
	}
}
