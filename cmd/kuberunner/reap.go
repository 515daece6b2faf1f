package main

import (
	"context"
	"time"

	"github.com/guardian/kuberunner/common/helpers"
	"github.com/guardian/kuberunner/common/logging"
	"github.com/guardian/kuberunner/common/models"
	"github.com/guardian/kuberunner/jobrunner"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

/**
deletes finished run jobs older than --max-age, plus their run records when redis is configured.
dry run is on unless switched off
*/
func Reap(c *cli.Context) error {
	conf, confErr := helpers.LoadConfig(c.String("config"))
	if confErr != nil {
		return confErr
	}
	logger := logging.New(logging.Config{ServiceName: "kuberunner-reaper", Debug: conf.Debug || c.Bool("debug")})
	defer logger.Sync()

	if _, ctxErr := jobrunner.ValidateContext(conf.KubeConfig, conf.KubeContext); ctxErr != nil {
		return ctxErr
	}
	clientset, clientErr := jobrunner.ContextClient(conf.KubeConfig, conf.KubeContext)
	if clientErr != nil {
		return clientErr
	}
	redisClient, redisErr := conf.RedisClient()
	if redisErr != nil {
		logger.Warn("run records will not be removed, redis is not reachable", zap.Error(redisErr))
	}

	dryRun := c.BoolT("dry-run")
	startTime := time.Now()
	cutoff := startTime.Add(-c.Duration("max-age"))
	logger.Info("reaping old jobs", zap.Time("cutoff", cutoff), zap.Bool("dryRun", dryRun))

	reaper := jobrunner.NewReaper(clientset.BatchV1().Jobs(conf.Namespace), dryRun, logger)
	count, reapErr := reaper.Reap(context.Background(), cutoff, func(runId string) {
		if redisClient == nil || dryRun {
			return
		}
		if rmErr := models.RemoveRunRecord(runId, redisClient); rmErr != nil {
			logger.Warn("could not remove run record", zap.String("runId", runId), zap.Error(rmErr))
		}
	})
	if reapErr != nil {
		return reapErr
	}

	logger.Info("reaping completed", zap.Int("removed", count), zap.Duration("took", time.Since(startTime)))
	return nil
}
