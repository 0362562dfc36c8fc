package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/makobot/mako/internal/agent"
	"github.com/makobot/mako/internal/dispatch"
	"github.com/makobot/mako/internal/intent"
	"github.com/makobot/mako/internal/policy"
)

var chatOpts struct {
	user      string
	nickname  string
	group     string
	admin     bool
	mentioned bool
	images    []string
	audio     []string
	faces     []int
	verbose   bool
}

var chatCmd = &cobra.Command{
	Use:   "chat [text]",
	Short: "Run one message through the full pipeline",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := chatMessage(strings.Join(args, " "))
		return withApp(cmd.Context(), func(a *app) error {
			reply, err := a.handler.Handle(cmd.Context(), msg)
			if err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), reply, chatOpts.verbose)
			return nil
		})
	},
}

var intentsCmd = &cobra.Command{
	Use:   "intents [text]",
	Short: "Print the tool intents extracted from a message",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := chatMessage(strings.Join(args, " "))
		found := intent.Extract(intent.Input{
			Text:     msg.Text,
			HasImage: len(msg.ImageURLs) > 0,
			HasAudio: len(msg.AudioURLs) > 0,
			FaceIDs:  msg.FaceIDs,
		})
		out := cmd.OutOrStdout()
		if len(found) == 0 {
			fmt.Fprintln(out, "No intents.")
			return nil
		}
		for _, d := range found {
			fmt.Fprintf(out, "%s %s\n", color.GreenString(d.Name), formatArgs(d.Args))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, intentsCmd} {
		c.Flags().StringSliceVar(&chatOpts.images, "image", nil, "image URL attached to the message")
		c.Flags().StringSliceVar(&chatOpts.audio, "audio", nil, "audio URL attached to the message")
		c.Flags().IntSliceVar(&chatOpts.faces, "face", nil, "face emoji id attached to the message")
	}
	f := chatCmd.Flags()
	f.StringVarP(&chatOpts.user, "user", "u", "cli", "sender user id")
	f.StringVarP(&chatOpts.nickname, "nickname", "n", "cli", "sender nickname")
	f.StringVarP(&chatOpts.group, "group", "g", "", "group id; empty for a private chat")
	f.BoolVar(&chatOpts.admin, "admin", false, "sender is a group admin")
	f.BoolVar(&chatOpts.mentioned, "mention", false, "message mentions the bot")
	f.BoolVarP(&chatOpts.verbose, "verbose", "v", false, "print tool attempts")
}

func chatMessage(text string) agent.Message {
	scene := policy.ScenePrivate
	if chatOpts.group != "" {
		scene = policy.SceneGroup
	}
	return agent.Message{
		UserID:    chatOpts.user,
		Nickname:  chatOpts.nickname,
		GroupID:   chatOpts.group,
		Scene:     scene,
		IsAdmin:   chatOpts.admin,
		Mentioned: chatOpts.mentioned,
		Text:      text,
		ImageURLs: chatOpts.images,
		AudioURLs: chatOpts.audio,
		FaceIDs:   chatOpts.faces,
		TraceID:   uuid.NewString(),
	}
}

func printReply(w io.Writer, reply agent.Reply, verbose bool) {
	switch {
	case reply.Blocked != "":
		fmt.Fprintln(w, color.RedString("Blocked: %s", reply.Blocked))
		return
	case reply.Ignored:
		fmt.Fprintln(w, color.YellowString("Ignored (not addressed to the bot)"))
		return
	}
	fmt.Fprintln(w, reply.Text)
	for _, se := range reply.SideEffects {
		fmt.Fprintf(w, "%s %s\n", color.CyanString("[%s]", se.Kind), se.Ref)
	}
	for _, m := range reply.Memories {
		fmt.Fprintf(w, "%s %s\n", color.MagentaString("+%s", m.Type), m.Content)
	}
	if verbose && reply.Tools != nil {
		printAttempts(w, reply.Tools.Attempts)
	}
}

func printAttempts(w io.Writer, attempts []dispatch.Attempt) {
	for _, at := range attempts {
		status := string(at.Status)
		if at.Handled() {
			status = color.GreenString(status)
		} else {
			status = color.YellowString(status)
		}
		line := fmt.Sprintf("  %-22s %-16s %6dms cost=%.4f", at.Intent.Name, status, at.Elapsed.Milliseconds(), at.Cost)
		if at.Reason != "" {
			line += " " + at.Reason
		}
		fmt.Fprintln(w, line)
	}
}

func formatArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, args[k])
	}
	return strings.Join(parts, " ")
}
