package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chat-relay/internal/client"
)

func newConversationsCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "conversations [id]",
		Short: "List conversations, or the messages of one conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverURL, nil)
			if len(args) == 1 {
				return printMessages(cmd, c, args[0])
			}
			return printConversations(cmd, c)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", client.DefaultBaseURL, "relay base url, including any base path")
	return cmd
}

func printConversations(cmd *cobra.Command, c *client.Client) error {
	convs, err := c.ListConversations(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, conv := range convs {
		fmt.Fprintf(w, "%s\t%s\n", conv.ID, conv.Title)
	}
	return w.Flush()
}

func printMessages(cmd *cobra.Command, c *client.Client, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return errors.Wrapf(err, "invalid conversation id %q", rawID)
	}
	msgs, err := c.ListMessages(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range msgs {
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
	}
	return nil
}
