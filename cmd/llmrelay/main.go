package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"llmrelay/internal/adapter/llm"
	"llmrelay/internal/domain"
	"llmrelay/internal/infra/config"
	"llmrelay/internal/infra/logger"
	"llmrelay/internal/infra/tracer"
	"llmrelay/internal/journal"
	"llmrelay/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		if err := runAsk(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "ask: %v\n", err)
			os.Exit(1)
		}
	case "stream":
		if err := runStream(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "stream: %v\n", err)
			os.Exit(1)
		}
	case "providers":
		if err := runProviders(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "providers: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'llmrelay --help' for usage.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`llmrelay - unified LLM provider relay with durable streaming

USAGE:
    llmrelay COMMAND [FLAGS]

COMMANDS:
    ask         One-shot completion against a configured provider
    stream      Stream a completion; resumable with a stable --stream-id
    providers   List configured providers; --check probes health, --warm pre-loads models

FLAGS (common):
    --config PATH      Config file (default llmrelay.yaml)
    --provider NAME    Provider to use (default from config)
    --model NAME       Override the provider's default model

Run 'llmrelay COMMAND --help' for command flags.`)
}

// app holds the wired components shared by all commands.
type app struct {
	cfg     *config.Config
	service *usecase.Service
	router  *llm.Router
	close   func()
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Output)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, err
	}

	router, err := llm.BuildRouter(cfg, log)
	if err != nil {
		shutdownTracer(ctx)
		closeLog()
		return nil, err
	}

	storage, err := journal.OpenSQLite(cfg.Journal.Path)
	if err != nil {
		shutdownTracer(ctx)
		closeLog()
		return nil, err
	}

	jrnl := journal.New(storage, log)
	orch := usecase.NewOrchestrator(router, cfg.Orchestrator.MaxToolRounds, log)
	service := usecase.NewService(router, orch, jrnl, cfg.Orchestrator.CallTimeout, log)

	return &app{
		cfg:     cfg,
		service: service,
		router:  router,
		close: func() {
			storage.Close()
			shutdownTracer(ctx)
			closeLog()
		},
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "llmrelay.yaml", "config file")
	providerName := fs.String("provider", "", "provider name (default from config)")
	model := fs.String("model", "", "model override")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: llmrelay ask [flags] PROMPT")
	}
	prompt := fs.Arg(0)

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	resp, err := a.service.Complete(ctx, domain.CompletionRequest{
		Provider: resolveProvider(*providerName, a.cfg),
		Model:    *model,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.ContentPart{domain.TextPart(prompt)}},
		},
	})
	if err != nil {
		return err
	}

	fmt.Println(resp.Message.Text())
	fmt.Fprintf(os.Stderr, "[%s, %d tokens]\n", resp.FinishReason, resp.Usage.TotalTokens)
	return nil
}

func runStream(args []string) error {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	configPath := fs.String("config", "llmrelay.yaml", "config file")
	providerName := fs.String("provider", "", "provider name (default from config)")
	model := fs.String("model", "", "model override")
	streamID := fs.String("stream-id", "", "stable stream id; reuse to resume after interruption")
	fs.Parse(args)

	if fs.NArg() < 1 && *streamID == "" {
		return fmt.Errorf("usage: llmrelay stream [flags] PROMPT")
	}
	var prompt string
	if fs.NArg() >= 1 {
		prompt = fs.Arg(0)
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	req := domain.CompletionRequest{
		Provider: resolveProvider(*providerName, a.cfg),
		Model:    *model,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.ContentPart{domain.TextPart(prompt)}},
		},
	}

	handle, id, err := a.service.StreamOpen(ctx, *streamID, req)
	if err != nil {
		return err
	}
	defer a.service.StreamClose(handle)

	if *streamID == "" {
		fmt.Fprintf(os.Stderr, "[stream %s]\n", id)
	}

	for {
		evt, err := a.service.StreamNext(ctx, handle)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		switch evt.Kind {
		case domain.StreamText:
			fmt.Print(evt.Text)
		case domain.StreamToolCall:
			if evt.ToolCall.Name != "" {
				fmt.Fprintf(os.Stderr, "\n[tool call %s]", evt.ToolCall.Name)
			}
		case domain.StreamUsage:
			fmt.Fprintf(os.Stderr, "\n[%d tokens]", evt.Usage.TotalTokens)
		case domain.StreamError:
			return fmt.Errorf("stream error %s: %s", evt.ErrorCode, evt.ErrorDetail)
		}
	}
}

func runProviders(args []string) error {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	configPath := fs.String("config", "llmrelay.yaml", "config file")
	check := fs.Bool("check", false, "probe reachability of providers that support health checks")
	warm := fs.Bool("warm", false, "pre-load models on providers that support warmup")
	fs.Parse(args)

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	for _, name := range a.router.List() {
		marker := " "
		if name == a.cfg.Default {
			marker = "*"
		}

		provider, err := a.router.Route(name)
		if err != nil {
			return err
		}

		status := ""
		if *check {
			switch healthy, checked := llm.ProbeHealth(ctx, provider); {
			case !checked:
				status = "  -"
			case healthy:
				status = "  ok"
				if op, ok := llm.Underlying(provider).(*llm.OllamaProvider); ok {
					if models, err := op.ListModels(ctx); err == nil {
						status = fmt.Sprintf("  ok (%d models)", len(models))
					}
				}
			default:
				status = "  unreachable"
			}
		}
		fmt.Printf("%s %s%s\n", marker, name, status)

		if *warm {
			if err := llm.WarmProvider(ctx, provider); err != nil {
				fmt.Fprintf(os.Stderr, "warm %s: %v\n", name, err)
			}
		}
	}
	return nil
}

func resolveProvider(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.Default
}
