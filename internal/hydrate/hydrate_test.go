package hydrate

import (
	"errors"
	"strings"
	"testing"
)

type declPayload struct {
	Name       string         `json:"name"`
	Extends    string         `json:"extends,omitempty"`
	MaxNesting int            `json:"max_nesting,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func TestDecodeDeclaration(t *testing.T) {
	dec := NewDecoder[declPayload]()

	out, err := dec.Decode(Context{Name: "request"}, map[string]any{
		"name":        "request",
		"extends":     "session",
		"max_nesting": 4,
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Name != "request" || out.Extends != "session" || out.MaxNesting != 4 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestDecodeNilPayload(t *testing.T) {
	dec := NewDecoder[declPayload]()
	if _, err := dec.Decode(Context{Name: "request"}, nil); err == nil {
		t.Fatal("expected error for nil payload")
	}
}

func TestDecodeDisallowUnknownFields(t *testing.T) {
	dec := NewDecoder(WithDisallowUnknownFields[declPayload]())
	_, err := dec.Decode(Context{Name: "request"}, map[string]any{
		"name":  "request",
		"bogus": true,
	})
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	if !strings.Contains(err.Error(), "request") {
		t.Fatalf("error should name the declaration: %v", err)
	}
}

func TestDecodePreHookNormalises(t *testing.T) {
	dec := NewDecoder(WithPreHook[declPayload](func(_ Context, payload map[string]any) (map[string]any, error) {
		if name, ok := payload["name"].(string); ok {
			payload["name"] = strings.ToLower(name)
		}
		return payload, nil
	}))

	out, err := dec.Decode(Context{Name: "Session"}, map[string]any{"name": "Session"})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Name != "session" {
		t.Fatalf("pre-hook did not apply: %q", out.Name)
	}
}

func TestDecodePostHookValidates(t *testing.T) {
	wantErr := errors.New("name required")
	dec := NewDecoder(WithPostHook[declPayload](func(_ Context, decl *declPayload) error {
		if decl.Name == "" {
			return wantErr
		}
		return nil
	}))

	if _, err := dec.Decode(Context{Name: "anon"}, map[string]any{}); !errors.Is(err, wantErr) {
		t.Fatalf("expected post-hook error, got %v", err)
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	dec := NewDecoder(WithPreHook[declPayload](func(_ Context, payload map[string]any) (map[string]any, error) {
		payload["name"] = "mutated"
		return payload, nil
	}))

	payload := map[string]any{"name": "original"}
	if _, err := dec.Decode(Context{Name: "original"}, payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload["name"] != "original" {
		t.Fatalf("input payload mutated: %v", payload["name"])
	}
}

func TestDecodeCustomDecoder(t *testing.T) {
	dec := NewDecoder(WithCustomDecoder[declPayload](func(ctx Context, payload map[string]any) (declPayload, error) {
		return declPayload{Name: ctx.Name}, nil
	}))

	out, err := dec.Decode(Context{Name: "custom"}, map[string]any{"ignored": true})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Name != "custom" {
		t.Fatalf("custom decoder not used: %+v", out)
	}
}
