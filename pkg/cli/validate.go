package cli

import (
	"context"
	"fmt"

	"github.com/maplebond/maplebond/pkg/repository"
	"github.com/maplebond/maplebond/pkg/usecase/prompt"
	"github.com/urfave/cli/v3"
)

func validateCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, engineFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "validate",
		Usage: "Check configuration, prompt templates, exemplars, routing policy and corpus without serving",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := cfg.validate(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "configuration is valid\n")
			return nil
		},
	}
}

// validate builds every component that needs no external service
func (cfg *config) validate(ctx context.Context) error {
	mc, err := cfg.engineConfig()
	if err != nil {
		return err
	}

	prompts, err := prompt.New()
	if err != nil {
		return err
	}
	if err := prompts.Validate(); err != nil {
		return err
	}

	if _, err := cfg.newClassifier(ctx, mc); err != nil {
		return err
	}

	if cfg.corpusPath != "" {
		passages, err := repository.LoadCorpus(cfg.corpusPath)
		if err != nil {
			return err
		}
		if _, err := repository.NewMemory(passages); err != nil {
			return err
		}
	}
	return nil
}
