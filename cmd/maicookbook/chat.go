package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the cookbook assistant in the terminal",
	Long: `Chat with the cookbook assistant in the terminal.

Starts a new conversation unless --resume is given. Type /quit or press
Ctrl+D to leave; the conversation can be picked up again later with
--resume <id>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resumeID, _ := cmd.Flags().GetString("resume")
		return runChat(cmd.Context(), resumeID)
	},
}

func init() {
	chatCmd.Flags().String("resume", "", "conversation id to resume")
}

func runChat(ctx context.Context, conversationID string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if conversationID == "" {
		conversationID, err = startConversation(ctx, client)
		if err != nil {
			return err
		}
		printStep("Conversation %s", conversationID)
		printAssistant(greeting(time.Now()))
	} else {
		printStep("Resuming conversation %s", conversationID)
		if err := replayHistory(ctx, client, conversationID); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, colorize(colorGreen, "You: "))
		if !scanner.Scan() {
			fmt.Fprintln(os.Stdout)
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		reply, err := sendMessage(ctx, client, conversationID, input)
		if err != nil {
			// Failures read as a turn of the dialogue, not a crash; the
			// next input retries against the same conversation.
			printAssistant(errorReply(err))
			continue
		}
		printAssistant(reply)
	}
	return scanner.Err()
}

// greeting is the assistant's opening line, by time of day.
func greeting(now time.Time) string {
	if now.Hour() < 12 {
		return "Καλημέρα. Τι καλό θα ήθελες να φτιάξουμε;"
	}
	return "Καλησπέρα. Τι καλό θα ήθελες να φτιάξουμε;"
}

func errorReply(err error) string {
	return fmt.Sprintf("Δυσκολεύομαι να απαντήσω αυτή τη στιγμή. (%v)", err)
}

func printAssistant(text string) {
	fmt.Fprintf(os.Stdout, "%s%s\n", colorize(colorCyan, "Assistant: "), text)
}

func startConversation(ctx context.Context, client *apiClient) (string, error) {
	resp, err := client.post(ctx, "/conversations", nil)
	if err != nil {
		return "", err
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", fmt.Errorf("starting conversation: %w", err)
	}
	return result.ConversationID, nil
}

func replayHistory(ctx context.Context, client *apiClient, conversationID string) error {
	resp, err := client.get(ctx, "/conversations/"+conversationID+"/messages")
	if err != nil {
		return err
	}

	var result struct {
		History []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"history"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	for _, msg := range result.History {
		if msg.Role == "user" {
			fmt.Fprintf(os.Stdout, "%s%s\n", colorize(colorGreen, "You: "), msg.Text)
		} else {
			printAssistant(msg.Text)
		}
	}
	return nil
}

func sendMessage(ctx context.Context, client *apiClient, conversationID, text string) (string, error) {
	resp, err := client.post(ctx, "/chat", map[string]string{
		"session_id": conversationID,
		"message":    text,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Kind   string `json:"kind"`
				Detail string `json:"detail"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Detail == "" {
			return "", fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%s", envelope.Error.Detail)
	}

	var result struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding reply: %w", err)
	}
	return result.Reply, nil
}
