package main

import (
	"fmt"
	"os"
	"strings"

	"triggerexecutor/cmd/executor"
	"triggerexecutor/src/database"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "trigger-executor"
	app.Usage = "Scheduled and market-condition order execution"
	app.Version = Version
	app.Before = func(_ *cli.Context) error {
		setupLogger()
		return nil
	}

	app.Commands = []cli.Command{
		executorCMD,
		migrateCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run Executor",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the schedulers, the trigger evaluator, the reconciler and the websocket gateway`,
	}
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "run database migrations",
		Action:      migrateAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Create or update the tables and run pending data migrations`,
	}
)

// setupLogger reads LOG_LEVEL and LOG_FORMAT (text or json).
func setupLogger() {
	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func executorAction(_ *cli.Context) error {

	logrus.WithField("cmd", "executor").Info("Starting executor CMD")

	executorEngine := &executor.Executor{}
	err := executorEngine.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// migrateAction connects to the main database; InitMainDB migrates on connect.
func migrateAction(_ *cli.Context) error {

	logrus.WithField("cmd", "migrate").Info("Starting migrate CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to migrate database")
		return err
	}

	logrus.Info("Migrations completed")
	return nil
}
