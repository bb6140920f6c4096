package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg       config
		passageID model.PassageID
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "passage-id",
			Aliases:     []string{"id"},
			Usage:       "Passage ID to show",
			Sources:     cli.EnvVars("MAPLEBOND_PASSAGE_ID"),
			Destination: (*string)(&passageID),
			Required:    true,
		},
	}
	flags = append(flags, indexFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a passage stored in Firestore",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := cfg.newFirestore(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			p, err := repo.GetPassage(ctx, passageID)
			if err != nil {
				return goerr.Wrap(err, "failed to show passage")
			}

			// Embeddings are long and not meaningful to read
			view := *p
			view.Embedding = nil

			data, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal passage")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", data)
			return nil
		},
	}
}
