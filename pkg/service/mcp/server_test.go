package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/maplebond/maplebond/pkg/model"
	"github.com/maplebond/maplebond/pkg/service/mcp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type mockConsulter struct {
	handleChat func(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error)
}

func (m *mockConsulter) HandleChat(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
	return m.handleChat(ctx, id, text)
}

type consultOutput struct {
	ConversationID string   `json:"conversation_id"`
	Answer         string   `json:"answer"`
	Domain         string   `json:"domain"`
	ErrorCode      string   `json:"error_code"`
	Sources        []string `json:"sources"`
	TurnIndex      int      `json:"turn_index"`
}

func connect(t *testing.T, consulter mcp.Consulter) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	server, err := mcp.NewServer(consulter, "test")
	gt.NoError(t, err)

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return cs
}

func decodeOutput(t *testing.T, result *mcpsdk.CallToolResult) consultOutput {
	t.Helper()
	raw, err := json.Marshal(result.StructuredContent)
	gt.NoError(t, err)
	var out consultOutput
	gt.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestConsultTool(t *testing.T) {
	ctx := context.Background()

	var gotID model.ConversationID
	var gotText string
	cs := connect(t, &mockConsulter{
		handleChat: func(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
			gotID, gotText = id, text
			return &model.Reply{
				ConversationID: id,
				Answer:         "Apply for a study permit before you travel.",
				Domain:         model.DomainImmigration,
				Sources:        []model.PassageID{"p1"},
				TurnIndex:      1,
			}, nil
		},
	})

	tools, err := cs.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(1)
	gt.Equal(t, tools.Tools[0].Name, "consult")

	result, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: "consult",
		Arguments: map[string]any{
			"conversation_id": "conv-1",
			"question":        "How do I get a study permit?",
		},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
	gt.Equal(t, gotID, model.ConversationID("conv-1"))
	gt.Equal(t, gotText, "How do I get a study permit?")

	gt.A(t, result.Content).Length(1)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "Apply for a study permit before you travel.")

	out := decodeOutput(t, result)
	gt.Equal(t, out.ConversationID, "conv-1")
	gt.Equal(t, out.Domain, "immigration")
	gt.Equal(t, out.ErrorCode, "")
	gt.Equal(t, out.Sources, []string{"p1"})
	gt.Equal(t, out.TurnIndex, 1)
}

func TestConsultToolNewConversation(t *testing.T) {
	ctx := context.Background()

	var gotID model.ConversationID
	cs := connect(t, &mockConsulter{
		handleChat: func(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
			gotID = id
			return &model.Reply{ConversationID: id, Answer: "hello", Domain: model.DomainGeneral}, nil
		},
	})

	result, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "consult",
		Arguments: map[string]any{"question": "hi"},
	})
	gt.NoError(t, err)
	gt.NotEqual(t, gotID, model.ConversationID(""))

	out := decodeOutput(t, result)
	gt.Equal(t, out.ConversationID, string(gotID))
}

func TestConsultToolFailure(t *testing.T) {
	ctx := context.Background()

	cs := connect(t, &mockConsulter{
		handleChat: func(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
			return &model.Reply{
				ConversationID: id,
				Answer:         model.FallbackMessage(model.CodeCompletionUnavailable),
				Domain:         model.DomainImmigration,
				ErrorCode:      model.CodeCompletionUnavailable,
			}, goerr.Wrap(model.ErrCompletionService, "completion failed")
		},
	})

	result, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "consult",
		Arguments: map[string]any{"conversation_id": "conv-2", "question": "work permit?"},
	})
	gt.NoError(t, err)
	gt.True(t, result.IsError)

	out := decodeOutput(t, result)
	gt.Equal(t, out.Answer, model.FallbackMessage(model.CodeCompletionUnavailable))
	gt.Equal(t, out.ErrorCode, string(model.CodeCompletionUnavailable))
}

func TestConsultToolRejectsEmptyQuestion(t *testing.T) {
	ctx := context.Background()

	called := false
	cs := connect(t, &mockConsulter{
		handleChat: func(ctx context.Context, id model.ConversationID, text string) (*model.Reply, error) {
			called = true
			return &model.Reply{ConversationID: id}, nil
		},
	})

	_, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "consult",
		Arguments: map[string]any{"question": ""},
	})
	gt.Error(t, err)
	gt.False(t, called)
}
