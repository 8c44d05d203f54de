package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chat-relay/internal/client"
)

type chatOptions struct {
	InputFile    string
	Conversation string
	Server       string
}

func newChatCmd() *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat [text...]",
		Short: "Send a message to a running relay and stream the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.InputFile, "file", "F", "", "message file, use -F- for stdin")
	cmd.Flags().StringVarP(&opts.Conversation, "conversation", "c", "", "conversation id (default: start a new one)")
	cmd.Flags().StringVar(&opts.Server, "server", client.DefaultBaseURL, "relay base url, including any base path")
	return cmd
}

func runChat(cmd *cobra.Command, opts *chatOptions, args []string) error {
	input, err := readInput(args, opts.InputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if strings.TrimSpace(input) == "" {
		return errors.New("input is required")
	}

	out := cmd.OutOrStdout()
	c := client.New(opts.Server, nil)
	res, err := c.Complete(cmd.Context(), client.CompleteInput{
		ConversationID: opts.Conversation,
		Content:        input,
	}, func(fragment string) error {
		_, writeErr := fmt.Fprint(out, fragment)
		return writeErr
	})
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if opts.Conversation == "" {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", res.ConversationID)
	}
	return nil
}

func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	if inputFile != "" && len(args) > 0 {
		return "", errors.New("input args and -F are mutually exclusive")
	}
	if inputFile == "" {
		if len(args) == 0 {
			return "", errors.New("missing input: provide args or -F")
		}
		return strings.Join(args, " "), nil
	}
	if inputFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", errors.Wrap(err, "read stdin")
		}
		return trimTrailingNewline(string(data)), nil
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		return "", errors.Wrap(err, "read file")
	}
	return trimTrailingNewline(string(data)), nil
}

func trimTrailingNewline(value string) string {
	return strings.TrimRight(value, "\r\n")
}
