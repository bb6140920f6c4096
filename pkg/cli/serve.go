package cli

import (
	"context"

	"github.com/maplebond/maplebond/pkg/service/mcp"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, engineFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the consult tool as an MCP server over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := cfg.newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.close()

			server, err := mcp.NewServer(eng.orchestrator, Version)
			if err != nil {
				return err
			}

			logging.From(ctx).Info("MCP server started", "version", Version)
			return server.Run(ctx)
		},
	}
}
