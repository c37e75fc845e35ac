package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTool struct{ name string }

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake" }
func (f *fakeTool) Parameters() json.RawMessage  { return MustSchema(SimpleSchema{}) }
func (f *fakeTool) Meta(map[string]any) string   { return f.name }
func (f *fakeTool) Execute(_ context.Context, _ map[string]any, _ Context) (Result, error) {
	return TextResult("ok"), nil
}

func TestRegistry_RegisterGetRemove(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})

	if r.Get("a") == nil || r.Get("b") == nil {
		t.Fatal("registered tools not found")
	}
	if r.Get("c") != nil {
		t.Fatal("unknown tool should be nil")
	}

	r.Remove("a")
	if r.Get("a") != nil {
		t.Fatal("removed tool still present")
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register should panic")
		}
	}()
	r.Register(&fakeTool{name: "a"})
}

func TestSnapshot_ImmuneToLaterChanges(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})

	set := r.Snapshot()
	r.Remove("a")
	r.Register(&fakeTool{name: "b"})

	if set["a"] == nil {
		t.Fatal("snapshot lost tool removed after the fact")
	}
	if set["b"] != nil {
		t.Fatal("snapshot gained tool registered after the fact")
	}
}

func TestSet_Subset(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})
	set := r.Snapshot()

	sub := set.Subset([]string{"a", "missing"})
	if len(sub) != 1 || sub["a"] == nil {
		t.Fatalf("Subset = %v, want just a", sub)
	}
	if got := set.Subset(nil); len(got) != 2 {
		t.Fatal("empty subset filter should return the full set")
	}
}

func TestValidateAndCoerce(t *testing.T) {
	tool := &schemaTool{}

	// Valid as-is.
	args, err := ValidateAndCoerce(tool, map[string]any{"count": float64(3), "label": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if args["count"] != float64(3) {
		t.Fatalf("count = %v", args["count"])
	}

	// Quoted number coerced.
	args, err = ValidateAndCoerce(tool, map[string]any{"count": "5", "label": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if args["count"] != int64(5) {
		t.Fatalf("coerced count = %v (%T)", args["count"], args["count"])
	}

	// Missing required field fails with the tool name in the message.
	_, err = ValidateAndCoerce(tool, map[string]any{"count": float64(1)})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

type schemaTool struct{}

func (s *schemaTool) Name() string        { return "counter" }
func (s *schemaTool) Description() string { return "counts" }
func (s *schemaTool) Parameters() json.RawMessage {
	return MustSchema(SimpleSchema{
		Properties: map[string]Property{
			"count": {Type: "integer"},
			"label": {Type: "string"},
		},
		Required: []string{"count", "label"},
	})
}
func (s *schemaTool) Meta(map[string]any) string { return "counter" }
func (s *schemaTool) Execute(_ context.Context, _ map[string]any, _ Context) (Result, error) {
	return TextResult("ok"), nil
}
