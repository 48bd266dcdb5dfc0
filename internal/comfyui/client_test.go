package comfyui_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"cogcomfy/internal/comfyui"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/services"
	"cogcomfy/internal/testsupport"
	"cogcomfy/internal/workflow"
)

type constSeed uint64

func (c constSeed) Uint64() uint64 { return uint64(c) }

func newClient(t *testing.T, fake *testsupport.FakeComfyUI, opts ...comfyui.Option) *comfyui.Client {
	t.Helper()
	opts = append([]comfyui.Option{
		comfyui.WithLogger(logging.NewNop()),
		comfyui.WithPollInterval(10 * time.Millisecond),
		comfyui.WithStartupTimeout(2 * time.Second),
	}, opts...)
	client := comfyui.NewClient(fake.Address(), opts...)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWaitReadyPollsUntilServerAnswers(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	fake.SetNotReadyPolls(3)
	client := newClient(t, fake)

	if err := client.WaitReady(withTimeout(t)); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	fake.SetNotReadyPolls(1 << 30)
	client := newClient(t, fake, comfyui.WithStartupTimeout(100*time.Millisecond))

	err := client.WaitReady(context.Background())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRunWorkflowCompletes(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	client := newClient(t, fake)
	ctx := withTimeout(t)

	doc, err := client.LoadWorkflow("")
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var events []comfyui.Event
	if err := client.RunWorkflow(ctx, doc, func(e comfyui.Event) { events = append(events, e) }); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}

	prompts := fake.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(prompts))
	}
	var sent map[string]json.RawMessage
	if err := json.Unmarshal(prompts[0], &sent); err != nil || len(sent) != doc.Len() {
		t.Fatalf("server received unexpected workflow %s (err=%v)", prompts[0], err)
	}

	var progress, finished int
	for _, e := range events {
		switch {
		case e.Type == comfyui.MessageProgress:
			progress++
		case e.Type == comfyui.MessageExecuting && e.Node == "":
			finished++
		}
	}
	if progress != 2 || finished != 1 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestRunWorkflowConnectsOnDemand(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	client := newClient(t, fake)
	doc, _ := workflow.Load(`{"1":{"inputs":{"seed":1},"class_type":"KSampler"}}`)

	if err := client.RunWorkflow(withTimeout(t), doc, nil); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
}

func TestQueuePromptSendsPromptTextUnescaped(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	client := newClient(t, fake)
	doc, _ := workflow.Load(`{"1":{"inputs":{"seed":1,"text":"a <lora:x:1.0> & b"},"class_type":"KSampler"}}`)

	if err := client.RunWorkflow(withTimeout(t), doc, nil); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	prompts := fake.Prompts()
	if len(prompts) != 1 || !strings.Contains(string(prompts[0]), `"a <lora:x:1.0> & b"`) {
		t.Fatalf("expected prompt text sent verbatim, got %s", prompts)
	}
}

func TestRunWorkflowReportsExecutionErrors(t *testing.T) {
	for _, failure := range []string{"execution_error", "execution_interrupted"} {
		t.Run(failure, func(t *testing.T) {
			fake := testsupport.NewFakeComfyUI(t)
			fake.SetFailure(failure)
			client := newClient(t, fake)
			doc, _ := client.LoadWorkflow("")

			err := client.RunWorkflow(withTimeout(t), doc, nil)
			if !errors.Is(err, services.ErrExternalTool) {
				t.Fatalf("expected external tool error, got %v", err)
			}
		})
	}
}

func TestRunWorkflowSurfacesNodeErrors(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	fake.SetRejectPrompt(true)
	client := newClient(t, fake)
	doc, _ := client.LoadWorkflow("")

	err := client.RunWorkflow(withTimeout(t), doc, nil)
	if !errors.Is(err, services.ErrMalformedWorkflow) {
		t.Fatalf("expected malformed workflow error, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed validation") || !strings.Contains(err.Error(), "nodes 3") {
		t.Fatalf("error should carry server message, got %q", err)
	}
}

func TestRunWorkflowHonoursCancellation(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	fake.SetOnPrompt(func(json.RawMessage) error {
		<-block
		return nil
	})
	client := newClient(t, fake)
	doc, _ := client.LoadWorkflow("")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := client.RunWorkflow(ctx, doc, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClearQueue(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	client := newClient(t, fake)
	if err := client.ClearQueue(withTimeout(t)); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if fake.Clears() != 1 || fake.Interrupts() != 1 {
		t.Fatalf("expected one clear and one interrupt, got %d/%d", fake.Clears(), fake.Interrupts())
	}
}

func TestRandomiseSeedsUsesSource(t *testing.T) {
	fake := testsupport.NewFakeComfyUI(t)
	client := newClient(t, fake, comfyui.WithSeedSource(constSeed(99)))
	doc, _ := client.LoadWorkflow("")

	changed, err := client.RandomiseSeeds(doc)
	if err != nil || changed != 1 {
		t.Fatalf("expected one seed changed, got %d (err=%v)", changed, err)
	}
	if got := workflow.Seeds(doc)["3/seed"]; got != "99" {
		t.Fatalf("unexpected seed %s", got)
	}
}
