package transform_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/cubicler/cubicler/internal/transform"
	"github.com/cubicler/cubicler/pkg/models"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return v
}

func TestApply_Map(t *testing.T) {
	payload := decode(t, `{"action":"opened","other":"x"}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "action",
		Transform: "map",
		Map:       map[string]string{"opened": "created", "closed": "done"},
	}})

	got := out.(map[string]any)
	if got["action"] != "created" {
		t.Errorf(`action = %v, want "created"`, got["action"])
	}
	if got["other"] != "x" {
		t.Errorf("unrelated key changed: %v", got["other"])
	}
}

func TestApply_MapMissingKeyUnchanged(t *testing.T) {
	payload := decode(t, `{"action":"reopened"}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "action",
		Transform: "map",
		Map:       map[string]string{"opened": "created"},
	}})

	if got := out.(map[string]any)["action"]; got != "reopened" {
		t.Errorf("unmapped value = %v, want passthrough", got)
	}
}

func TestApply_Template(t *testing.T) {
	payload := decode(t, `{"user":{"login":"octocat","id":42}}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "user",
		Transform: "template",
		Template:  "{value.login} (#{value.id})",
	}})

	if got := out.(map[string]any)["user"]; got != "octocat (#42)" {
		t.Errorf("template result = %v, want %q", got, "octocat (#42)")
	}
}

func TestApply_DateFormat(t *testing.T) {
	payload := decode(t, `{"created_at":"2024-03-07T15:04:05Z"}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "created_at",
		Transform: "date_format",
		Format:    "YYYY-MM-DD HH:mm",
	}})

	if got := out.(map[string]any)["created_at"]; got != "2024-03-07 15:04" {
		t.Errorf("date_format result = %v, want %q", got, "2024-03-07 15:04")
	}
}

func TestApply_Remove(t *testing.T) {
	payload := decode(t, `{"secret":"hunter2","keep":"yes"}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "secret",
		Transform: "remove",
	}})

	got := out.(map[string]any)
	if _, exists := got["secret"]; exists {
		t.Error("secret key still present after remove")
	}
	if got["keep"] != "yes" {
		t.Errorf("keep = %v, want yes", got["keep"])
	}
}

func TestApply_ArrayEach(t *testing.T) {
	payload := decode(t, `{"commits":[{"status":"a"},{"status":"b"}]}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "commits[].status",
		Transform: "map",
		Map:       map[string]string{"a": "added", "b": "built"},
	}})

	commits := out.(map[string]any)["commits"].([]any)
	want := []string{"added", "built"}
	for i, c := range commits {
		if got := c.(map[string]any)["status"]; got != want[i] {
			t.Errorf("commits[%d].status = %v, want %q", i, got, want[i])
		}
	}
}

func TestApply_MissingPathSkipped(t *testing.T) {
	payload := decode(t, `{"a":1}`)

	out := transform.Apply(payload, []models.TransformRule{{
		Path:      "nope.deep.path",
		Transform: "remove",
	}})

	if !reflect.DeepEqual(out, decode(t, `{"a":1}`)) {
		t.Errorf("missing path changed payload: %v", out)
	}
}

func TestApply_RulesInOrder(t *testing.T) {
	payload := decode(t, `{"state":"open"}`)

	out := transform.Apply(payload, []models.TransformRule{
		{Path: "state", Transform: "map", Map: map[string]string{"open": "active"}},
		{Path: "state", Transform: "map", Map: map[string]string{"active": "final"}},
	})

	if got := out.(map[string]any)["state"]; got != "final" {
		t.Errorf("ordered rules result = %v, want final", got)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	payload := decode(t, `{"drop":"me","nested":{"x":"1"}}`)

	transform.Apply(payload, []models.TransformRule{
		{Path: "drop", Transform: "remove"},
		{Path: "nested.x", Transform: "map", Map: map[string]string{"1": "one"}},
	})

	got := payload.(map[string]any)
	if got["drop"] != "me" {
		t.Error("input payload mutated by remove")
	}
	if got["nested"].(map[string]any)["x"] != "1" {
		t.Error("input payload mutated by nested map")
	}
}
