package main

import (
	"fmt"

	"github.com/slack-go/slack"
)

// PostRunSummary posts a run tally to the configured Slack channel.
// Notification only; a post failure never affects reconciliation results.
func PostRunSummary(cfg Config, text string) error {
	if cfg.SlackBotToken == "" || cfg.SlackChannelID == "" {
		return fmt.Errorf("slack not configured")
	}
	api := slack.New(cfg.SlackBotToken)
	_, _, err := api.PostMessage(cfg.SlackChannelID, slack.MsgOptionText(text, false))
	return err
}
