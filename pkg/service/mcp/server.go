// Package mcp exposes the consultation pipeline as a Model Context Protocol server.
package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName      = "maplebond"
	consultToolName = "consult"
)

// Consulter answers a question within a conversation
type Consulter interface {
	HandleChat(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error)
}

type consultParams struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"Conversation to continue. A new conversation is started when omitted."`
	Question       string `json:"question" jsonschema:"Question about immigration, daily life, education or job search in North America"`
}

type consultResult struct {
	ConversationID string            `json:"conversation_id"`
	Answer         string            `json:"answer"`
	Domain         string            `json:"domain"`
	ErrorCode      string            `json:"error_code,omitempty"`
	Sources        []model.PassageID `json:"sources,omitempty"`
	TurnIndex      int               `json:"turn_index,omitempty"`
}

// Server serves the consult tool
type Server struct {
	server    *mcp.Server
	consulter Consulter
}

func NewServer(consulter Consulter, version string) (*Server, error) {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version,
		}, nil),
		consulter: consulter,
	}

	schema, err := consultInputSchema()
	if err != nil {
		return nil, err
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        consultToolName,
		Description: "Ask MapleBond, a North American settlement specialist, a question. The answer is grounded on a curated knowledge base and the conversation history.",
		InputSchema: schema,
	}, s.consult)

	return s, nil
}

func consultInputSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[consultParams](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer consult input schema")
	}
	question, ok := schema.Properties["question"]
	if !ok {
		return nil, goerr.New("question is missing from consult input schema")
	}
	minLength := 1
	question.MinLength = &minLength
	schema.Required = []string{"question"}
	return schema, nil
}

func (s *Server) consult(ctx context.Context, req *mcp.CallToolRequest, params *consultParams) (*mcp.CallToolResult, *consultResult, error) {
	id := model.ConversationID(params.ConversationID)
	if id == "" {
		id = model.NewConversationID()
	}

	reply, err := s.consulter.HandleChat(ctx, id, params.Question)
	if err != nil {
		// the reply still carries the fallback answer for the user
		logging.From(ctx).Warn("consult failed", "conversation_id", id, "error", err)
	}
	if reply == nil {
		if err == nil {
			err = goerr.New("consult returned no reply")
		}
		return nil, nil, goerr.Wrap(err, "failed to consult", goerr.V("conversation_id", id))
	}

	result := &consultResult{
		ConversationID: string(reply.ConversationID),
		Answer:         reply.Answer,
		Domain:         string(reply.Domain),
		ErrorCode:      string(reply.ErrorCode),
		Sources:        reply.Sources,
		TurnIndex:      reply.TurnIndex,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: reply.Answer},
		},
		IsError: err != nil,
	}, result, nil
}

// Run serves over stdin/stdout until the client disconnects or ctx is done
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

// Connect serves a single session over transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	session, err := s.server.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect MCP session")
	}
	return session, nil
}
