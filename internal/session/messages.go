package session

import (
	"errors"
	"fmt"
	"html"

	"github.com/ashureev/meshchat/internal/domain"
	"github.com/ashureev/meshchat/internal/transport"
)

// Fixed texts appended or surfaced by the manager.
const (
	TimeoutText         = "Your request timed out. Please try again in a few moments."
	TooManyRequestsText = "The assistant is receiving too many requests right now. Please wait a moment and try again."
	SlowNoticeText      = "This is taking longer than usual. The answer will appear here as soon as it is ready."
	navigatingFormat    = "Navigating to %s…"
	statusCodeFormat    = "Bot returned status_code %d"
	alertTitle          = "Chat error"
)

// TimestampLayout renders message timestamps.
const TimestampLayout = "1/2/2006, 3:04:05 PM"

// NavigatingText is the content shown in place of an auto-navigated answer.
func NavigatingText(title string) string {
	return fmt.Sprintf(navigatingFormat, title)
}

// StatusCodeText is the alert message for a non-200 reply without server text.
func StatusCodeText(code int) string {
	return fmt.Sprintf(statusCodeFormat, code)
}

func (m *Manager) userMessage(q Query) *domain.Message {
	content := q.Text
	if q.PromptLabel != "" {
		content = q.PromptLabel
	}
	return &domain.Message{
		Role:                domain.RoleUser,
		Content:             content,
		Name:                m.opts.UserName,
		Avatar:              m.opts.UserAvatar,
		Timestamp:           m.timestamp(),
		ReferencedDocuments: []domain.ReferencedDocument{},
	}
}

// textMessage builds a bot message from a plain string. Synthetic texts are
// trusted and never escaped.
func (m *Manager) textMessage(content string) *domain.Message {
	return &domain.Message{
		Role:                domain.RoleBot,
		Content:             content,
		Name:                m.opts.BotName,
		Avatar:              m.opts.BotAvatar,
		Timestamp:           m.timestamp(),
		ReferencedDocuments: []domain.ReferencedDocument{},
	}
}

// answerMessage builds a bot message from a structured answer and returns
// the navigation path to follow, if any.
func (m *Manager) answerMessage(a *transport.Answer, alwaysNavigate bool) (*domain.Message, string) {
	content := a.Answer
	if !m.opts.MockMode {
		content = html.EscapeString(content)
	}
	docs := a.Citations
	if docs == nil {
		docs = []domain.ReferencedDocument{}
	}
	msg := &domain.Message{
		Role:                domain.RoleBot,
		Content:             content,
		Name:                m.opts.BotName,
		Avatar:              m.opts.BotAvatar,
		Timestamp:           m.timestamp(),
		ReferencedDocuments: docs,
	}
	if len(a.Actions) == 0 {
		return msg, ""
	}

	var nav []domain.Action
	var rest []domain.Action
	for _, act := range a.Actions {
		if act.IsNavigation() {
			nav = append(nav, act)
		} else {
			rest = append(rest, act)
		}
	}

	if alwaysNavigate && len(nav) == 1 {
		title := nav[0].Title
		if !m.opts.MockMode {
			title = html.EscapeString(title)
		}
		msg.Content = NavigatingText(title)
		if len(rest) > 0 {
			msg.Actions = rest
		}
		return msg, nav[0].Payload
	}

	msg.Actions = append([]domain.Action(nil), a.Actions...)
	return msg, ""
}

func (m *Manager) timestamp() string {
	return m.now().Format(TimestampLayout)
}

func errorAlert(message string) *domain.Alert {
	return &domain.Alert{Title: alertTitle, Message: message, Variant: domain.AlertDanger}
}

// alertMessage extracts the best human readable text from err.
func alertMessage(err error) string {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Detail()
	}
	return err.Error()
}
