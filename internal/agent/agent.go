// Package agent is the request orchestrator. Handle dispatches on the kind
// of the uploaded file, talks to the model, runs generated analysis code in
// the sandbox and returns the reply together with the extended history.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"dataanalyst/internal/config"
	"dataanalyst/internal/conversation"
	"dataanalyst/internal/extract"
	"dataanalyst/internal/ingest"
	"dataanalyst/internal/logging"
	"dataanalyst/internal/perception"
	"dataanalyst/internal/sandbox"
	"dataanalyst/internal/summary"
)

// MaxDocumentChars is the default prefix of a document sent to the model.
const MaxDocumentChars = 1000

// CodeRunner executes analysis code against a table.
type CodeRunner interface {
	Run(ctx context.Context, code string, table *ingest.Table) (*sandbox.Result, error)
}

// Options configure an Agent.
type Options struct {
	SystemPrompt     string
	MaxDocumentChars int
	// VisionModel overrides the client's model for image questions.
	VisionModel string
	// FallbackScript runs when the reply has no usable code.
	FallbackScript string
}

func (o *Options) applyDefaults() {
	if strings.TrimSpace(o.SystemPrompt) == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.MaxDocumentChars <= 0 {
		o.MaxDocumentChars = MaxDocumentChars
	}
	if o.FallbackScript == "" {
		o.FallbackScript = sandbox.DefaultHistogramScript
	}
}

// Request is one user instruction about one file.
type Request struct {
	FilePath    string
	Instruction string
	History     conversation.History
}

// Response is always usable: failures are rendered into Text and recorded
// in Err for callers that want to classify them.
type Response struct {
	Text      string
	ImagePath string // empty when no image was produced
	History   conversation.History
	Kind      ingest.FileKind
	// UsedFallback is set when the default script ran instead of model code.
	UsedFallback bool
	Err          error
}

// Agent holds no per-conversation state and is safe for concurrent use.
type Agent struct {
	llm       perception.LLMClient
	runner    CodeRunner
	validator extract.Validator
	opts      Options
}

// New creates an Agent. validator may be nil to skip code checks.
func New(llm perception.LLMClient, runner CodeRunner, validator extract.Validator, opts Options) *Agent {
	opts.applyDefaults()
	return &Agent{llm: llm, runner: runner, validator: validator, opts: opts}
}

// NewFromConfig wires the model client, sandbox and validator from cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Agent, error) {
	llm, err := perception.NewClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	runner, err := sandbox.New(sandbox.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	var validator extract.Validator
	if cfg.Sandbox.ValidatePython {
		validator = extract.NewPythonValidator(cfg.Sandbox.BlockedImports)
	}

	return New(llm, runner, validator, Options{
		SystemPrompt:     cfg.Agent.SystemPrompt,
		MaxDocumentChars: cfg.Agent.MaxDocumentChars,
		VisionModel:      cfg.LLM.VisionModel,
	}), nil
}

// Handle processes one request. The returned history is req.History plus
// exactly one user turn and one assistant turn; req.History is not modified.
func (a *Agent) Handle(ctx context.Context, req Request) Response {
	timer := logging.StartTimer(logging.CategoryAgent, "Handle")
	defer timer.Stop()

	kind := ingest.KindOf(req.FilePath)
	logging.Agent("request: file=%s kind=%s history=%d turns", filepath.Base(req.FilePath), kind, len(req.History))

	var resp Response
	switch kind {
	case ingest.FileTabular:
		resp = a.handleTable(ctx, req)
	case ingest.FileDocument:
		resp = a.handleDocument(ctx, req)
	case ingest.FileImage:
		resp = a.handleImage(ctx, req)
	default:
		resp = Response{
			Text: UnsupportedTypeMessage,
			Err:  fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(req.FilePath)),
		}
		resp.History = req.History.Append(userTurn(req, instructionOr(req.Instruction, "")))
	}
	resp.Kind = kind

	resp.History = resp.History.Append(conversation.TextTurn(conversation.RoleAssistant, resp.Text))
	if resp.Err != nil {
		logging.AgentWarn("request finished with error: %v", resp.Err)
	}
	return resp
}

// handleTable returns a response whose History holds the user turn only.
func (a *Agent) handleTable(ctx context.Context, req Request) Response {
	instruction := instructionOr(req.Instruction, defaultTableInstruction)
	history := req.History.Append(userTurn(req, instruction))

	loaded := ingest.LoadTable(req.FilePath)
	if loaded.Failed() {
		err := fmt.Errorf("%w: %w", ErrParse, loaded.Err)
		return Response{Text: describe(err), History: history, Err: err}
	}
	table := loaded.Table

	messages := append(toMessages(req.History), perception.Message{
		Role: perception.RoleUser,
		Text: codegenPrompt(summary.Build(table), instruction),
	})
	reply, err := a.llm.Chat(ctx, perception.ChatRequest{System: a.opts.SystemPrompt, Messages: messages})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUpstreamModel, err)
		return Response{Text: describe(err), History: history, Err: err}
	}

	code, narration, miss := a.chooseCode(ctx, reply)
	var parts []string
	if miss != nil {
		parts = append(parts, describe(miss))
	}
	if narration != "" {
		parts = append(parts, narration)
	}

	result, err := a.runner.Run(ctx, code, table)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrExecutionFailure, err)
		parts = append(parts, describe(err))
		return Response{Text: strings.Join(parts, "\n\n"), History: history, UsedFallback: miss != nil, Err: err}
	}

	if !result.Succeeded() {
		sentinel := ErrExecutionFailure
		if result.TimedOut {
			sentinel = ErrExecutionTimeout
		}
		err := fmt.Errorf("%w: %s", sentinel, result.ErrorText())
		parts = append(parts, describe(err))
		return Response{Text: strings.Join(parts, "\n\n"), History: history, UsedFallback: miss != nil, Err: err}
	}

	if out := strings.TrimSpace(result.Stdout); out != "" {
		parts = append(parts, "Output:\n"+out)
	}
	if result.Truncated {
		parts = append(parts, "(output truncated)")
	}
	if result.ImagePath != "" {
		parts = append(parts, "Image saved to: "+result.ImagePath)
	}
	if len(parts) == 0 {
		parts = append(parts, "The analysis ran successfully but produced no output.")
	}

	return Response{
		Text:         strings.Join(parts, "\n\n"),
		ImagePath:    result.ImagePath,
		History:      history,
		UsedFallback: miss != nil,
	}
}

// chooseCode extracts and validates code from a reply. When nothing usable
// is found it returns the fallback script and a non-nil ErrExtractionMiss.
func (a *Agent) chooseCode(ctx context.Context, reply string) (code, narration string, miss error) {
	block, ok := extract.Find(reply)
	if !ok {
		miss = fmt.Errorf("%w: no fenced code block in the model reply", ErrExtractionMiss)
		logging.AgentWarn("%v", miss)
		return a.opts.FallbackScript, "", miss
	}

	if a.validator != nil {
		if err := a.validator.Validate(ctx, block.Code); err != nil {
			miss = fmt.Errorf("%w: generated code was not run (%v)", ErrExtractionMiss, err)
			logging.AgentWarn("%v", miss)
			return a.opts.FallbackScript, block.Prose, miss
		}
	}
	return block.Code, block.Prose, nil
}

func (a *Agent) handleDocument(ctx context.Context, req Request) Response {
	instruction := instructionOr(req.Instruction, defaultDocumentInstruction)
	history := req.History.Append(userTurn(req, instruction))

	text, err := ingest.ReadDocument(req.FilePath)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrParse, err)
		return Response{Text: describe(err), History: history, Err: err}
	}
	excerpt := ingest.Truncate(text, a.opts.MaxDocumentChars)
	logging.AgentDebug("document %s: %d chars, sending %d", filepath.Base(req.FilePath), len([]rune(text)), len([]rune(excerpt)))

	messages := append(toMessages(req.History), perception.Message{
		Role: perception.RoleUser,
		Text: documentPrompt(excerpt, instruction),
	})
	return a.answer(ctx, perception.ChatRequest{System: a.opts.SystemPrompt, Messages: messages}, history)
}

func (a *Agent) handleImage(ctx context.Context, req Request) Response {
	instruction := instructionOr(req.Instruction, defaultImageInstruction)
	history := req.History.Append(userTurn(req, instruction))

	img, err := ingest.ReadImage(req.FilePath)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrParse, err)
		return Response{Text: describe(err), History: history, Err: err}
	}

	messages := append(toMessages(req.History), perception.Message{
		Role: perception.RoleUser,
		Parts: []perception.ContentPart{
			perception.TextPart(instruction),
			perception.ImagePart(img.MIMEType, img.Data),
		},
	})
	return a.answer(ctx, perception.ChatRequest{
		System:   a.opts.SystemPrompt,
		Messages: messages,
		Model:    a.opts.VisionModel,
	}, history)
}

// answer makes a question-answering call and converts failures to text.
func (a *Agent) answer(ctx context.Context, req perception.ChatRequest, history conversation.History) Response {
	reply, err := a.llm.Chat(ctx, req)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = perception.ErrEmptyResponse
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUpstreamModel, err)
		return Response{Text: describe(err), History: history, Err: err}
	}
	return Response{Text: strings.TrimSpace(reply), History: history}
}

// userTurn records the instruction; image requests also reference the file.
func userTurn(req Request, instruction string) conversation.Turn {
	if ingest.KindOf(req.FilePath) == ingest.FileImage {
		return conversation.Turn{Role: conversation.RoleUser, Parts: []conversation.Part{
			{Type: conversation.PartText, Text: instruction},
			{Type: conversation.PartImageRef, ImageRef: req.FilePath},
		}}
	}
	return conversation.TextTurn(conversation.RoleUser, instruction)
}

// toMessages converts stored history for the model. Earlier images are
// sent as text placeholders; system turns are dropped.
func toMessages(h conversation.History) []perception.Message {
	msgs := make([]perception.Message, 0, len(h)+1)
	for _, t := range h {
		role := perception.RoleUser
		switch t.Role {
		case conversation.RoleAssistant:
			role = perception.RoleAssistant
		case conversation.RoleSystem:
			continue
		}
		msgs = append(msgs, perception.Message{Role: role, Text: t.PlainText()})
	}
	return msgs
}

func instructionOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
