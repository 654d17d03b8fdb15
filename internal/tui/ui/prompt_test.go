package ui

import (
	"reflect"
	"testing"
)

func TestPromptHistoryPerMode(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var got []string
	p.SetOnSubmit(func(_ PromptMode, text string) { got = append(got, text) })

	p.Activate(PromptCommand)
	for _, cmd := range []string{"open u2", "older", "older", "  "} {
		p.SetText(cmd)
		p.Submit()
	}
	if want := []string{"open u2", "older", "older", "  "}; !reflect.DeepEqual(got, want) {
		t.Fatalf("submitted = %q, want %q", got, want)
	}

	p.Activate(PromptCommand)
	p.Recall(-1)
	if p.GetText() != "older" {
		t.Errorf("first recall = %q, want older", p.GetText())
	}
	p.Recall(-1)
	if p.GetText() != "open u2" {
		t.Errorf("second recall = %q, want open u2", p.GetText())
	}
	p.Recall(-1)
	if p.GetText() != "open u2" {
		t.Errorf("recall past oldest = %q, want open u2", p.GetText())
	}
	p.Recall(1)
	p.Recall(1)
	if p.GetText() != "" {
		t.Errorf("recall past newest = %q, want empty", p.GetText())
	}

	p.Activate(PromptSearch)
	p.Recall(-1)
	if p.GetText() != "" {
		t.Errorf("search history leaked command history: %q", p.GetText())
	}
}

func TestPromptCompletesCommands(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.SetCommands([]string{"open", "older", "quit"})

	p.Activate(PromptCommand)
	if got, want := p.complete("o"), []string{"older", "open"}; !reflect.DeepEqual(got, want) {
		t.Errorf("complete(o) = %q, want %q", got, want)
	}
	if got := p.complete("open"); got != nil {
		t.Errorf("complete(open) = %q, want none", got)
	}
	if got := p.complete("open u"); got != nil {
		t.Errorf("complete after the command word = %q, want none", got)
	}

	p.Activate(PromptFilter)
	if got := p.complete("o"); got != nil {
		t.Errorf("filter mode completed %q", got)
	}
}
