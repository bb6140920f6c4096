package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/repository"
	"github.com/maplebond/maplebond/pkg/usecase/embedding"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type passageEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type passageWriter interface {
	PutPassage(ctx context.Context, p *model.Passage) error
}

func ingestCommand() *cli.Command {
	var (
		cfg        config
		inputPath  string
		outputPath string
		reembed    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Corpus file (JSON or YAML) to ingest",
			Sources:     cli.EnvVars("MAPLEBOND_INGEST_INPUT"),
			Destination: &inputPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the embedded corpus to this file instead of Firestore",
			Destination: &outputPath,
		},
		&cli.BoolFlag{
			Name:        "reembed",
			Usage:       "Embed every passage, including those that already have an embedding",
			Destination: &reembed,
		},
	}
	flags = append(flags, engineFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Embed corpus passages and store them in the passage index",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			mc, err := cfg.engineConfig()
			if err != nil {
				return err
			}

			passages, err := repository.LoadCorpus(inputPath)
			if err != nil {
				return err
			}

			llm, err := cfg.newBackend(ctx, true)
			if err != nil {
				return err
			}

			embedded, err := embedPassages(ctx, embedding.New(llm, mc), passages, reembed)
			if err != nil {
				return err
			}

			if outputPath != "" {
				if err := repository.SaveCorpus(outputPath, passages); err != nil {
					return err
				}
			} else {
				repo, err := cfg.newFirestore(ctx)
				if err != nil {
					return err
				}
				defer repo.Close()

				if err := storePassages(ctx, repo, passages); err != nil {
					return err
				}
			}

			fmt.Fprintf(c.Root().Writer, "Ingested %d passages (%d embedded)\n", len(passages), embedded)
			return nil
		},
	}
}

// embedPassages fills in missing embeddings and IDs, and returns how many
// passages were embedded. Every passage is validated first so that a bad
// corpus fails before any service call.
func embedPassages(ctx context.Context, embedder passageEmbedder, passages []*model.Passage, reembed bool) (int, error) {
	for i, p := range passages {
		if p.ID == "" {
			p.ID = model.NewPassageID()
		}
		if err := p.Validate(); err != nil {
			return 0, goerr.Wrap(err, "invalid passage in corpus", goerr.V("position", i))
		}
	}

	logger := logging.From(ctx)
	embedded := 0
	for _, p := range passages {
		if len(p.Embedding) > 0 && !reembed {
			continue
		}

		text := p.Text
		if p.Title != "" {
			text = p.Title + "\n" + p.Text
		}
		vector, err := embedder.Embed(ctx, text)
		if err != nil {
			return embedded, goerr.Wrap(err, "failed to embed passage", goerr.V("id", p.ID))
		}
		p.Embedding = vector
		embedded++
		logger.Debug("passage embedded", "id", p.ID, "domain", p.Domain)
	}
	return embedded, nil
}

func storePassages(ctx context.Context, repo passageWriter, passages []*model.Passage) error {
	for _, p := range passages {
		if err := repo.PutPassage(ctx, p); err != nil {
			return goerr.Wrap(err, "failed to store passage", goerr.V("id", p.ID))
		}
	}
	return nil
}
