package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Version is reported to MCP clients and by --version
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	if err := loadEnv(os.Getenv("MAPLEBOND_ENV_FILE")); err != nil {
		return &Error{Code: 1, Message: err.Error()}
	}

	var (
		logLevel  string
		logFormat string
	)

	cmd := &cli.Command{
		Name:    "maplebond",
		Usage:   "Settlement consultation assistant for immigrants and international students",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("MAPLEBOND_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       string(logging.FormatConsole),
				Sources:     cli.EnvVars("MAPLEBOND_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if _, ok := logging.ParseLevel(logLevel); !ok {
				return ctx, goerr.New("invalid log level", goerr.V("level", logLevel))
			}
			format := logging.Format(logFormat)
			if format != logging.FormatConsole && format != logging.FormatJSON {
				return ctx, goerr.New("invalid log format", goerr.V("format", logFormat))
			}

			logger := logging.New(logLevel, c.Root().ErrWriter, logging.WithFormat(format))
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			ingestCommand(),
			listCommand(),
			showCommand(),
			serveCommand(),
			validateCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.From(ctx).Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// loadEnv reads credentials from a dotenv file. A missing default .env is not an error.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return goerr.Wrap(err, "failed to load env file", goerr.V("path", path))
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(err, "failed to load .env")
	}
	return nil
}
