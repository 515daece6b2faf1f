package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/guardian/kuberunner/common/helpers"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/executor"
	"github.com/guardian/kuberunner/packager"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"
)

/**
command-line values are parsed as YAML scalars or flow collections, so "3" is an int, "2.5" a float,
"[1, 2]" a list and anything else a string
*/
func parseValue(raw string) (interface{}, error) {
	var v interface{}
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("could not parse argument %q: %w", raw, err)
	}
	if v == nil {
		return raw, nil
	}
	return v, nil
}

func parseValues(raw []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(raw))
	for _, r := range raw {
		v, err := parseValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseKwargs(raw []string) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("keyword arguments must have an equal sign (like this: '--kw key=val'), got %q", kv)
		}
		v, err := parseValue(parts[1])
		if err != nil {
			return nil, err
		}
		out[parts[0]] = v
	}
	return out, nil
}

func Submit(stdout io.Writer) cli.ActionFunc {
	return func(c *cli.Context) error {
		if len(c.Args()) < 1 {
			return fmt.Errorf("`kuberunner submit` needs a function name, one of: %s", strings.Join(packager.DefaultRegistry().Names(), ", "))
		}
		args, argsErr := parseValues(c.Args()[1:])
		if argsErr != nil {
			return argsErr
		}
		captured, capErr := parseValues(c.StringSlice("capture"))
		if capErr != nil {
			return capErr
		}
		kwargs, kwErr := parseKwargs(c.StringSlice("kw"))
		if kwErr != nil {
			return kwErr
		}

		conf, confErr := helpers.LoadConfig(c.String("config"))
		if confErr != nil {
			return confErr
		}
		if c.Bool("debug") {
			conf.Debug = true
		}
		logger := logging.New(logging.Config{ServiceName: "kuberunner", Debug: conf.Debug, Format: c.String("log-format")})
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if timeout := c.Duration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, runErr := executor.New(conf, executor.WithLogger(logger)).
			Run(ctx, packager.Bind(c.Args()[0], captured...), args, kwargs)
		if result != nil && result.Logs != "" {
			fmt.Fprintf(stdout, "--- job logs ---\n%s\n--- end of job logs ---\n", result.Logs)
		}
		if runErr != nil {
			return runErr
		}

		value, valErr := result.Value()
		if valErr != nil {
			return valErr
		}
		printValue(stdout, value)
		return nil
	}
}

func printValue(out io.Writer, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "%s: %v\n", k, v[k])
		}
	case string, int64, uint64, float64, bool:
		fmt.Fprintln(out, v)
	default:
		spew.Fdump(out, v)
	}
}
