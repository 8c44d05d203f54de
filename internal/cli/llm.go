package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chat-relay/internal/config"
	"chat-relay/internal/llm"
)

type llmOptions struct {
	Stream   bool
	NoStream bool
	Type     string
	Model    string
	URL      string
	Token    string
}

func (o *llmOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Stream, "stream", false, "stream response")
	cmd.Flags().BoolVar(&o.NoStream, "no-stream", false, "disable streaming response")
	cmd.Flags().StringVar(&o.Type, "type", "", "override provider (openai, anthropics, gemini)")
	cmd.Flags().StringVar(&o.Model, "model", "", "override model name")
	cmd.Flags().StringVar(&o.URL, "url", "", "override base url")
	cmd.Flags().StringVar(&o.Token, "token", "", "override access token")
}

type llmChatOptions struct {
	llmOptions
	Prompt string
	System string
}

func newLLMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "llm",
		Short: "Talk to the upstream LLM provider directly",
	}

	cmd.AddCommand(newLLMChatCmd())
	cmd.AddCommand(newLLMTestCmd())
	return cmd
}

func newLLMChatCmd() *cobra.Command {
	opts := &llmChatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a chat completion request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLLMChat(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "prompt content (read stdin if empty)")
	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")
	opts.bind(cmd)
	return cmd
}

func runLLMChat(cmd *cobra.Command, opts *llmChatOptions) error {
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "read prompt")
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("prompt is required")
	}
	return runLLMRequest(cmd, &opts.llmOptions, buildMessages(opts.System, prompt))
}

func newLLMTestCmd() *cobra.Command {
	opts := &llmOptions{}
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test LLM connectivity with config or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLLMRequest(cmd, opts, []llm.Message{{Role: "user", Content: "ping"}})
		},
	}
	opts.bind(cmd)
	return cmd
}

func runLLMRequest(cmd *cobra.Command, opts *llmOptions, messages []llm.Message) error {
	if opts.Stream && opts.NoStream {
		return errors.New("only one of --stream or --no-stream can be set")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	llmCfg := overrideLLM(cfg.LLM, opts)
	client, err := llm.New(llmCfg)
	if err != nil {
		return err
	}

	req := llm.ChatRequest{
		Model:    llmCfg.Model,
		Messages: messages,
	}
	out := cmd.OutOrStdout()

	if opts.Stream {
		_, err = client.ChatStream(cmd.Context(), req, func(delta string) error {
			_, writeErr := fmt.Fprint(out, delta)
			return writeErr
		})
		_, _ = fmt.Fprintln(out)
		return err
	}

	resp, err := client.Chat(cmd.Context(), req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, resp.Content)
	return err
}

func overrideLLM(cfg config.LLMConfig, opts *llmOptions) config.LLMConfig {
	cfg.Type = firstNonEmpty(opts.Type, cfg.Type)
	cfg.Model = firstNonEmpty(opts.Model, cfg.Model)
	cfg.URL = firstNonEmpty(opts.URL, cfg.URL)
	cfg.Token = firstNonEmpty(opts.Token, cfg.Token)
	return cfg
}

func buildMessages(system, prompt string) []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: system,
		})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: prompt,
	})
	return messages
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
