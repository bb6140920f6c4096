package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/adapter"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/usecase/session"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type consulter interface {
	HandleChat(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error)
}

type lineReader interface {
	Readline() (string, error)
}

func chatCommand() *cli.Command {
	var (
		cfg            config
		conversationID string
		historyFile    string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "conversation-id",
			Aliases:     []string{"id"},
			Usage:       "Conversation to resume. A new one is started when omitted.",
			Sources:     cli.EnvVars("MAPLEBOND_CONVERSATION_ID"),
			Destination: &conversationID,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File keeping the input history of the prompt",
			Sources:     cli.EnvVars("MAPLEBOND_HISTORY_FILE"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, engineFlags(&cfg)...)
	flags = append(flags, indexFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, archiveFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive consultation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, err := cfg.newEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.close()

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			if storage != nil {
				defer storage.Close()
			}

			id := model.ConversationID(conversationID)
			if id == "" {
				id = model.NewConversationID()
			} else if storage != nil {
				if err := restoreSession(ctx, storage, eng.orchestrator.Sessions(), id); err != nil {
					return err
				}
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			loop := &chatLoop{
				consulter: eng.orchestrator,
				id:        id,
				in:        rl,
				out:       c.Root().Writer,
			}
			if storage != nil {
				loop.afterTurn = func(ctx context.Context) error {
					s, ok := eng.orchestrator.Sessions().Get(id)
					if !ok {
						return nil
					}
					return session.Save(ctx, storage, s)
				}
			}

			return loop.run(ctx)
		},
	}
}

func restoreSession(ctx context.Context, storage adapter.Storage, sessions *session.Manager, id model.ConversationID) error {
	snap, err := session.Load(ctx, storage, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			logging.From(ctx).Info("no archived conversation, starting fresh", "conversation_id", id)
			return nil
		}
		return err
	}

	s, err := sessions.Restore(snap)
	if err != nil {
		return err
	}
	logging.From(ctx).Info("conversation restored", "conversation_id", id, "turns", len(s.Turns()))
	return nil
}

// chatLoop reads questions line by line until exit or EOF
type chatLoop struct {
	consulter consulter
	id        model.ConversationID
	in        lineReader
	out       io.Writer
	afterTurn func(ctx context.Context) error
}

func (l *chatLoop) run(ctx context.Context) error {
	fmt.Fprintf(l.out, "Conversation %s started. Type 'exit' to quit.\n", l.id)

	for {
		line, err := l.in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				break
			}
			return goerr.Wrap(err, "failed to read input")
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			break
		}

		if err := l.turn(ctx, text); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	fmt.Fprintf(l.out, "\nConversation %s ended\n", l.id)
	return nil
}

func (l *chatLoop) turn(ctx context.Context, text string) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(l.out))
	s.Suffix = " thinking..."
	s.Start()
	reply, err := l.consulter.HandleChat(ctx, l.id, text)
	s.Stop()

	if err != nil {
		// the reply still carries a fallback answer for the user
		logging.From(ctx).Warn("failed to answer", "error", err)
	}
	if reply == nil {
		if err == nil {
			err = goerr.New("no reply")
		}
		return goerr.Wrap(err, "failed to answer", goerr.V("conversation_id", l.id))
	}

	fmt.Fprintf(l.out, "\n%s\n\n", reply.Answer)
	if err != nil {
		return nil
	}

	if l.afterTurn != nil {
		if err := l.afterTurn(ctx); err != nil {
			logging.From(ctx).Warn("failed to archive conversation", "error", err)
		}
	}
	return nil
}
