package orchestrator

import (
	"context"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/calendai/calendai/internal/llm"
	"github.com/calendai/calendai/internal/logging"
)

// systemPrompt is the fixed persona and workflow instruction. It is
// prepended to every completion request and never stored in transcripts.
const systemPrompt = `Você é CalendAI, um assistente de agenda amigável e eficiente em português do Brasil (timezone America/Sao_Paulo).

### FLUXO DE TRABALHO OBRIGATÓRIO
1.  **PARA LISTAR AGENDAS:** Use ` + "`list_calendars`" + `.
2.  **PARA MODIFICAR/DELETAR:** Use ` + "`search_events`" + ` PRIMEIRO para obter ` + "`event_id`" + ` e ` + "`calendar_id`" + `.
3.  **AÇÃO FINAL:** Use os IDs obtidos para chamar ` + "`modify_calendar_event`" + ` ou ` + "`smart_schedule_event`" + `.
4.  **REGRAS DE CHAMADA:** Para ` + "`modify_calendar_event`" + ` com ` + "`action=\"delete\"`" + `, NÃO envie parâmetros ` + "`new_*`" + `.

### MANUAL DE ESTILO PARA RESPOSTAS (Use Markdown)
-   **Confirmações de Ações:**
    -   **Criação:** Comece com "✅ **Evento Criado!**\n". Em seguida, mostre os detalhes e o link.
    -   **Atualização:** Comece com "🔄 **Evento Atualizado!**\n". Em seguida, mostre os detalhes e o link.
    -   **Deleção:** Comece com "🗑️ **Evento Deletado!**\n". Confirme qual evento foi removido.
-   **Listagem de Agendas:**
    -   Use o título: "### 🗓️ Suas Agendas\n"
    -   Liste cada agenda com um hífen. Ex: ` + "`- Pessoal`" + `
-   **Listagem de Eventos Encontrados:**
    -   Use o título: "### 🔍 Eventos Encontrados\n"
    -   Liste cada evento com detalhes (data/hora).
-   **Nenhum Evento Encontrado:**
    -   Use: "ℹ️ Nenhum evento encontrado com os critérios fornecidos."
-   **Conflito de Horário:**
    -   Use: "⚠️ **Conflito de Horário!** O horário solicitado já está ocupado. Por favor, escolha outro."
-   **Erros Gerais:**
    -   Use: "Desculpe, não consegui processar sua solicitação. A ferramenta retornou um erro."
-   **SEMPRE** use formatação clara e agradável. **NUNCA** mostre IDs para o usuário, apenas os nomes e detalhes relevantes.`

// Completer runs one chat completion. *llm.Chain satisfies it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, tools []openai.Tool, toolChoice string) (llm.Message, error)
}

// ToolDispatcher exposes tool definitions and executes tool calls.
// *tools.Registry satisfies it.
type ToolDispatcher interface {
	Definitions() []openai.Tool
	Dispatch(ctx context.Context, call llm.ToolCall) string
}

// Orchestrator drives the two-phase conversation loop: one completion that
// may request tools, tool dispatch in call order, then one closing
// completion with tools disabled.
type Orchestrator struct {
	completer Completer
	logger    *slog.Logger
}

// New builds an orchestrator over the given completion backend.
func New(completer Completer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{completer: completer, logger: logger}
}

// Run handles one user turn. The returned transcript is the input history
// plus the new user message and every message produced this turn, without
// the system instruction. When both completion phases fail the transcript
// contains only history plus the user message; tool mutations already
// committed before a failed closing call stay committed.
func (o *Orchestrator) Run(ctx context.Context, reg ToolDispatcher, history []llm.Message, userMessage string) (string, []llm.Message, error) {
	base := make([]llm.Message, 0, len(history)+1)
	base = append(base, history...)
	base = append(base, llm.UserMessage(userMessage))

	defs := reg.Definitions()

	first, err := o.complete(ctx, base, defs, llm.ToolChoiceAuto)
	if err != nil {
		return "", base, err
	}

	transcript := append(base, first)
	if len(first.ToolCalls) == 0 {
		return first.Content, transcript, nil
	}

	for _, call := range first.ToolCalls {
		logger := logging.WithTool(o.logger, call.Function.Name)
		logger.Info("dispatching tool call")
		payload := reg.Dispatch(ctx, call)
		transcript = append(transcript, llm.ToolResult(call, payload))
	}

	second, err := o.complete(ctx, transcript, defs, llm.ToolChoiceNone)
	if err != nil {
		return "", base, err
	}

	transcript = append(transcript, second)
	return second.Content, transcript, nil
}

func (o *Orchestrator) complete(ctx context.Context, transcript []llm.Message, defs []openai.Tool, toolChoice string) (llm.Message, error) {
	request := make([]llm.Message, 0, len(transcript)+1)
	request = append(request, llm.SystemMessage(systemPrompt))
	request = append(request, transcript...)

	msg, err := o.completer.Complete(ctx, request, defs, toolChoice)
	if err != nil {
		o.logger.Error("completion failed", logging.Err(err))
		return llm.Message{}, err
	}
	return msg, nil
}
