package notify

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/austindbirch/taskhook/internal/model"
	"github.com/austindbirch/taskhook/internal/urlguard"
)

func TestBuildMessage(t *testing.T) {
	task := model.Task{ID: "t1", Title: "Write docs", Priority: model.PriorityHigh}

	tests := []struct {
		name       string
		event      Event
		wantText   string
		wantType   string
		wantFields []string
		wantInBody []string
	}{
		{
			name:     "task created",
			event:    TaskCreated{Task: task, ProjectName: "Docs", Actor: "ana"},
			wantText: "New task created: Write docs",
			wantType: model.EventTaskCreated,
			wantFields: []string{
				"*Task:* Write docs", "*Project:* Docs", "*Priority:* high", "*Created by:* ana",
			},
		},
		{
			name:     "task created defaults",
			event:    TaskCreated{Task: model.Task{Title: "Bare"}},
			wantText: "New task created: Bare",
			wantType: model.EventTaskCreated,
			wantFields: []string{
				"*Task:* Bare", "*Project:* Unknown Project", "*Priority:* medium", "*Created by:* System",
			},
		},
		{
			name:       "task completed",
			event:      TaskCompleted{Task: task, ProjectName: "Docs"},
			wantText:   "Task completed: Write docs",
			wantType:   model.EventTaskCompleted,
			wantFields: []string{"*Completed by:* System"},
			wantInBody: []string{`✅ *Task Completed*\n\"Write docs\" has been marked as complete!`},
		},
		{
			name:       "generic",
			event:      Generic{EventType: "project.deleted", Data: map[string]any{"id": "p9"}},
			wantText:   "taskhook notification: project.deleted",
			wantType:   "project.deleted",
			wantInBody: []string{`📢 *project.deleted*\n{\n  \"id\": \"p9\"\n}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Type(); got != tt.wantType {
				t.Errorf("Type() = %q, want %q", got, tt.wantType)
			}

			msg := BuildMessage(tt.event)
			if msg.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", msg.Text, tt.wantText)
			}
			if len(msg.Blocks) == 0 {
				t.Fatal("message has no blocks")
			}

			var fields []string
			for _, b := range msg.Blocks {
				if b.Text == nil && len(b.Fields) == 0 {
					t.Errorf("block %q has neither text nor fields", b.Type)
				}
				for _, f := range b.Fields {
					fields = append(fields, f.Text)
				}
			}
			for _, want := range tt.wantFields {
				if !contains(fields, want) {
					t.Errorf("fields %v missing %q", fields, want)
				}
			}

			body, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("json.Marshal() error: %v", err)
			}
			for _, want := range tt.wantInBody {
				if !strings.Contains(string(body), want) {
					t.Errorf("body %s missing %s", body, want)
				}
			}
		})
	}
}

func TestBuildMessage_BlockShape(t *testing.T) {
	body, err := json.Marshal(BuildMessage(TaskCreated{Task: model.Task{Title: "x"}}))
	if err != nil {
		t.Fatalf("json.Marshal() error: %v", err)
	}
	var raw struct {
		Text   string           `json:"text"`
		Blocks []map[string]any `json:"blocks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	header := raw.Blocks[0]
	if header["type"] != "header" {
		t.Errorf("first block type = %v, want header", header["type"])
	}
	if _, ok := header["fields"]; ok {
		t.Error("header block carries fields")
	}
	if _, ok := raw.Blocks[1]["text"]; ok {
		t.Error("fields block carries text")
	}
}

func TestTestMessage(t *testing.T) {
	msg := TestMessage()
	if !strings.Contains(msg.Text, "webhook test successful") {
		t.Errorf("Text = %q", msg.Text)
	}
	if len(msg.Blocks) != 1 || msg.Blocks[0].Text == nil {
		t.Fatalf("Blocks = %+v", msg.Blocks)
	}
}

func TestValidateWebhook(t *testing.T) {
	guard := urlguard.Default()

	tests := []struct {
		name       string
		webhook    model.Webhook
		wantErr    error
		wantEvents []string
	}{
		{
			name:       "valid",
			webhook:    model.Webhook{Name: " Slack ", URL: "https://hooks.example.com/x", Events: []string{"task.completed", "task.created", "task.completed"}},
			wantEvents: []string{"task.completed", "task.created"},
		},
		{
			name:    "missing name",
			webhook: model.Webhook{URL: "https://hooks.example.com/x", Events: []string{"task.created"}},
			wantErr: ErrMissingField,
		},
		{
			name:    "no events",
			webhook: model.Webhook{Name: "n", URL: "https://hooks.example.com/x"},
			wantErr: ErrMissingField,
		},
		{
			name:    "http scheme",
			webhook: model.Webhook{Name: "n", URL: "http://hooks.example.com/x", Events: []string{"task.created"}},
			wantErr: ErrInvalidURL,
		},
		{
			name:    "private host",
			webhook: model.Webhook{Name: "n", URL: "https://192.168.1.10/x", Events: []string{"task.created"}},
			wantErr: ErrInvalidURL,
		},
		{
			name:    "unknown event",
			webhook: model.Webhook{Name: "n", URL: "https://hooks.example.com/x", Events: []string{"task.created", "task.exploded"}},
			wantErr: ErrInvalidEvents,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.webhook
			err := ValidateWebhook(&w, guard)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateWebhook() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateWebhook() error: %v", err)
			}
			if w.Name != "Slack" {
				t.Errorf("Name = %q, want trimmed", w.Name)
			}
			if strings.Join(w.Events, ",") != strings.Join(tt.wantEvents, ",") {
				t.Errorf("Events = %v, want %v", w.Events, tt.wantEvents)
			}
		})
	}
}

func TestValidateWebhook_NilGuardRejects(t *testing.T) {
	w := model.Webhook{Name: "n", URL: "https://hooks.example.com/x", Events: []string{"task.created"}}
	if err := ValidateWebhook(&w, nil); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("ValidateWebhook(nil guard) error = %v, want ErrInvalidURL", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
