package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"

	"github.com/ulifeai/agentb/config"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/model"
)

func chatCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "start a run on a thread and print the assistant's reply, markdown-rendered",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			if threadID == "" {
				thread, err := a.threads.Create(ctx, model.Thread{})
				if err != nil {
					return fmt.Errorf("create thread: %w", err)
				}
				threadID = thread.ID
				fmt.Fprintf(os.Stderr, "thread: %s\n", threadID)
			}

			return runChatLoop(ctx, a, threadID)
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "existing thread id; a new thread is created if omitted")
	return cmd
}

func runChatLoop(ctx context.Context, a *app, threadID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stderr, "> ")
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			fmt.Fprint(os.Stderr, "> ")
			continue
		}

		userMsg := model.Message{Content: model.NewTextContent(line)}
		_, stream, err := a.coordinator.StartRun(ctx, threadID, userMsg)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}

		var reply strings.Builder
		for env := range stream {
			if env.Type != hooks.TypeMessageDelta {
				continue
			}
			data, ok := env.Data.(hooks.MessageDeltaData)
			if !ok {
				continue
			}
			reply.WriteString(data.ContentChunk)
		}

		rendered, err := renderMarkdown(reply.String())
		if err != nil {
			return fmt.Errorf("render reply: %w", err)
		}
		fmt.Println(rendered)
		fmt.Fprint(os.Stderr, "> ")
	}
	return scanner.Err()
}

func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
