package workflow_test

import (
	"encoding/json"
	"errors"
	"testing"

	"cogcomfy/internal/services"
	"cogcomfy/internal/workflow"
)

func TestLoadRejectsMalformedJSON(t *testing.T) {
	for _, text := range []string{`{"3": `, `[1,2]`, `"text"`, `not json`} {
		if _, err := workflow.Load(text); !errors.Is(err, services.ErrMalformedWorkflow) {
			t.Fatalf("Load(%q) error = %v, want ErrMalformedWorkflow", text, err)
		}
	}
}

func TestLoadOrDefaultUsesBundledWorkflow(t *testing.T) {
	for _, text := range []string{"", "   \n"} {
		doc, err := workflow.LoadOrDefault(text)
		if err != nil {
			t.Fatalf("LoadOrDefault: %v", err)
		}
		if doc.Len() != 7 {
			t.Fatalf("expected 7 nodes in default workflow, got %d", doc.Len())
		}
		seed, ok := doc.Input("3", "seed")
		if !ok || string(seed) != "156680208700286" {
			t.Fatalf("unexpected default seed %s", seed)
		}
	}
}

func TestLoadOrDefaultPrefersSuppliedText(t *testing.T) {
	doc, err := workflow.LoadOrDefault(`{"1":{"inputs":{"text":"hi"},"class_type":"Note"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.NodeIDs(); len(got) != 1 || got[0] != "1" {
		t.Fatalf("unexpected nodes %v", got)
	}
}

func TestMarshalRoundTripsDefault(t *testing.T) {
	doc, err := workflow.LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	data, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var got, want any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(workflow.DefaultJSON()), &want); err != nil {
		t.Fatal(err)
	}
	if !jsonEqual(got, want) {
		t.Fatalf("round trip changed the document:\n%s", data)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	doc, err := workflow.LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	clone := doc.Clone()
	if _, err := workflow.RandomiseSeeds(clone, fixedSource(7)); err != nil {
		t.Fatal(err)
	}
	original, _ := doc.Input("3", "seed")
	changed, _ := clone.Input("3", "seed")
	if string(original) == string(changed) {
		t.Fatal("mutating the clone changed the original")
	}
}

func jsonEqual(a, b any) bool {
	left, _ := json.Marshal(a)
	right, _ := json.Marshal(b)
	return string(left) == string(right)
}
