package notify

import (
	"encoding/json"
	"fmt"
)

const (
	unknownProject = "Unknown Project"
	systemActor    = "System"
)

// TextObject is a text element of a block
type TextObject struct {
	Type string `json:"type"` // plain_text or mrkdwn
	Text string `json:"text"`
}

// Block is one section of a message; it carries either Text or Fields
type Block struct {
	Type   string       `json:"type"`
	Text   *TextObject  `json:"text,omitempty"`
	Fields []TextObject `json:"fields,omitempty"`
}

// Message is the JSON body posted to webhook endpoints
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks"`
}

// BuildMessage renders ev as a chat-style message
func BuildMessage(ev Event) Message {
	switch e := ev.(type) {
	case TaskCreated:
		return Message{
			Text: "New task created: " + e.Task.Title,
			Blocks: []Block{
				{Type: "header", Text: &TextObject{Type: "plain_text", Text: "🆕 New Task Created"}},
				{Type: "section", Fields: taskFields(e.Task.Title, e.ProjectName, string(e.Task.Priority), "Created by", e.Actor)},
			},
		}
	case TaskCompleted:
		return Message{
			Text: "Task completed: " + e.Task.Title,
			Blocks: []Block{
				{Type: "section", Text: &TextObject{
					Type: "mrkdwn",
					Text: "✅ *Task Completed*\n\"" + e.Task.Title + "\" has been marked as complete!",
				}},
				{Type: "section", Fields: taskFields(e.Task.Title, e.ProjectName, string(e.Task.Priority), "Completed by", e.Actor)},
			},
		}
	case Generic:
		return Message{
			Text: "taskhook notification: " + e.EventType,
			Blocks: []Block{
				{Type: "section", Text: &TextObject{
					Type: "mrkdwn",
					Text: fmt.Sprintf("📢 *%s*\n%s", e.EventType, dumpJSON(e.Data)),
				}},
			},
		}
	}
	return Message{Text: "taskhook notification", Blocks: []Block{}}
}

// TestMessage is sent by the webhook test route
func TestMessage() Message {
	return Message{
		Text: "✅ taskhook webhook test successful!",
		Blocks: []Block{
			{Type: "section", Text: &TextObject{
				Type: "mrkdwn",
				Text: "✅ *taskhook Webhook Test*\nYour webhook integration is working correctly!",
			}},
		},
	}
}

func taskFields(title, project, priority, actorLabel, actor string) []TextObject {
	if project == "" {
		project = unknownProject
	}
	if priority == "" {
		priority = "medium"
	}
	if actor == "" {
		actor = systemActor
	}
	return []TextObject{
		{Type: "mrkdwn", Text: "*Task:* " + title},
		{Type: "mrkdwn", Text: "*Project:* " + project},
		{Type: "mrkdwn", Text: "*Priority:* " + priority},
		{Type: "mrkdwn", Text: "*" + actorLabel + ":* " + actor},
	}
}

func dumpJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
