package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg            config
		conversationID string
		explain        bool
		quick          bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"id"},
			Usage:       "Conversation the question belongs to",
			Sources:     cli.EnvVars("MAPLEBOND_CONVERSATION_ID"),
			Destination: &conversationID,
		},
		&cli.BoolFlag{
			Name:        "explain",
			Aliases:     []string{"e"},
			Usage:       "Print domain scores and passage sources",
			Destination: &explain,
		},
		&cli.BoolFlag{
			Name:        "quick",
			Aliases:     []string{"q"},
			Usage:       "Answer with the general persona only, without retrieval",
			Destination: &quick,
		},
	}
	flags = append(flags, engineFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}

			eng, err := cfg.newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.close()

			w := c.Root().Writer
			if explain {
				printScores(w, eng.classifier.Scores(question, nil))
			}

			var reply *model.Reply
			if quick {
				reply, err = eng.orchestrator.QuickReply(ctx, question)
			} else {
				id := model.ConversationID(conversationID)
				if id == "" {
					id = model.NewConversationID()
				}
				reply, err = eng.orchestrator.HandleChat(ctx, id, question)
			}
			if reply != nil {
				fmt.Fprintf(w, "%s\n", reply.Answer)
				if explain {
					printReplyDetails(w, reply)
				}
			}
			if err != nil {
				return goerr.Wrap(err, "failed to answer", goerr.V("error_code", model.CodeOf(err)))
			}
			return nil
		},
	}
}

func printScores(w io.Writer, scores map[model.Domain]float64) {
	fmt.Fprintf(w, "domain scores:\n")
	for _, d := range model.AllDomains() {
		if d == model.DomainGeneral {
			continue
		}
		fmt.Fprintf(w, "  %-12s %.3f\n", d, scores[d])
	}
}

func printReplyDetails(w io.Writer, reply *model.Reply) {
	fmt.Fprintf(w, "\ndomain: %s\n", reply.Domain)
	if reply.ErrorCode != model.CodeNone {
		fmt.Fprintf(w, "error_code: %s\n", reply.ErrorCode)
	}
	if reply.ConversationID != "" {
		fmt.Fprintf(w, "conversation_id: %s\n", reply.ConversationID)
	}
	if len(reply.Sources) == 0 {
		fmt.Fprintf(w, "sources: none\n")
		return
	}
	fmt.Fprintf(w, "sources:\n")
	for i, id := range reply.Sources {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, id)
	}
}
