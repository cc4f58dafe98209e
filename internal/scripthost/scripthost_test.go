package scripthost

import (
	"context"
	"testing"
	"time"
)

func TestExecuteReturnsValue(t *testing.T) {
	result, err := Execute(context.Background(), `context.tags[0] == "news"`, map[string]any{
		"tags": []string{"news"},
	}, Limits{MaxExecutionTime: time.Second})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if b, ok := result.(bool); !ok || !b {
		t.Errorf("expected true, got %v", result)
	}
}

func TestExecuteParseError(t *testing.T) {
	_, err := Execute(context.Background(), `this is not valid expr (((`, nil, Limits{MaxExecutionTime: time.Second})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExecuteTimeout(t *testing.T) {
	// expr has no sleep builtin; approximate a slow script with a large
	// range reduction to exercise the wall-clock cutoff path.
	_, err := Execute(context.Background(), `reduce(1..2000000, # + #acc, 0)`, nil, Limits{
		MaxExecutionTime: time.Nanosecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestRunConfiguratorResponseShortCircuit(t *testing.T) {
	out, err := RunConfigurator(context.Background(), `{response: {body: "eyJrIjoxfQ=="}}`, ConfiguratorArgs{
		Tags: []string{"news"},
	}, Limits{MaxExecutionTime: time.Second})
	if err != nil {
		t.Fatalf("RunConfigurator: %v", err)
	}
	if !out.HasResponse {
		t.Fatal("expected response short-circuit")
	}
	if string(out.ResponseBody) != `{"k":1}` {
		t.Errorf("unexpected response body: %s", out.ResponseBody)
	}
}

func TestRunFormatterSkipsWhenContentAbsent(t *testing.T) {
	content, ok, err := RunFormatter(context.Background(), `{}`, FormatterArgs{
		Action:     "email",
		NewContent: "hello",
	}, Limits{MaxExecutionTime: time.Second})
	if err != nil {
		t.Fatalf("RunFormatter: %v", err)
	}
	if ok {
		t.Errorf("expected formatter to be skipped, got content %q", content)
	}
}

func TestRunFormatterUsesContent(t *testing.T) {
	content, ok, err := RunFormatter(context.Background(), `{content: context.newContent + "!"}`, FormatterArgs{
		Action:     "email",
		NewContent: "hello",
	}, Limits{MaxExecutionTime: time.Second})
	if err != nil {
		t.Fatalf("RunFormatter: %v", err)
	}
	if !ok || content != "hello!" {
		t.Errorf("got %q, %v", content, ok)
	}
}

func TestExecuteHeapLimitOnContext(t *testing.T) {
	_, err := Execute(context.Background(), `context.tags[0]`, map[string]any{
		"tags": []string{"this value is deliberately long enough to exceed a tiny heap ceiling"},
	}, Limits{MaxHeapBytes: 8, MaxExecutionTime: time.Second})
	if err == nil {
		t.Fatal("expected heap limit error")
	}
}
