package generator

import "testing"

const draftJSON = `{
	"total_weeks": 2,
	"phases": [
		{"name": "Basics", "weeks": [
			{"number": 1, "focus_skill": "SQL", "tasks": [
				{"id": "t1", "title": "Select", "type": "learning", "week_number": 1, "due_day_offset": 3}
			]}
		]}
	]
}`

func TestParseDraft_PlainJSON(t *testing.T) {
	draft, err := ParseDraft(draftJSON)
	if err != nil {
		t.Fatalf("ParseDraft failed: %v", err)
	}
	if draft.TotalWeeks != 2 {
		t.Errorf("Expected total weeks 2, got %d", draft.TotalWeeks)
	}
	if len(draft.Phases) != 1 || len(draft.Phases[0].Weeks) != 1 {
		t.Fatalf("Unexpected draft shape: %+v", draft)
	}
	if draft.Phases[0].Weeks[0].Tasks[0].ID != "t1" {
		t.Error("Task did not decode")
	}
}

func TestParseDraft_MarkdownFences(t *testing.T) {
	draft, err := ParseDraft("```json\n" + draftJSON + "\n```")
	if err != nil {
		t.Fatalf("ParseDraft failed on fenced JSON: %v", err)
	}
	if draft.TotalWeeks != 2 {
		t.Errorf("Expected total weeks 2, got %d", draft.TotalWeeks)
	}
}

func TestParseDraft_ProseAroundJSON(t *testing.T) {
	draft, err := ParseDraft("Here is your plan:\n" + draftJSON + "\nGood luck!")
	if err != nil {
		t.Fatalf("ParseDraft failed on wrapped JSON: %v", err)
	}
	if len(draft.Phases) != 1 {
		t.Errorf("Unexpected draft: %+v", draft)
	}
}

func TestParseDraft_NoJSON(t *testing.T) {
	if _, err := ParseDraft("sorry, I cannot help with that"); err == nil {
		t.Error("Expected error for response without JSON")
	}
}
