package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var (
		cfg    config
		domain string
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "domain",
			Usage:       "Only list passages of this domain. general lists all.",
			Value:       string(model.DomainGeneral),
			Sources:     cli.EnvVars("MAPLEBOND_LIST_DOMAIN"),
			Destination: &domain,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("MAPLEBOND_LIST_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of passages to list",
			Value:       100,
			Sources:     cli.EnvVars("MAPLEBOND_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List passages stored in Firestore",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			d, err := model.ParseDomain(domain)
			if err != nil {
				return err
			}

			repo, err := cfg.newFirestore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			passages, err := repo.ListPassages(ctx, d, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list passages")
			}

			for _, p := range passages {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", p.ID, p.Domain, p.Title)
			}

			return nil
		},
	}
}
