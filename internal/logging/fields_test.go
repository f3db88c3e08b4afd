package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("orchestrator")
	if fields["component"] != "orchestrator" {
		t.Errorf("Component() = %v, want %v", fields["component"], "orchestrator")
	}
}

func TestFields_Operation(t *testing.T) {
	fields := NewFields().Operation("dispatch")
	if fields["operation"] != "dispatch" {
		t.Errorf("Operation() = %v, want %v", fields["operation"], "dispatch")
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("provider", "discord")
	if fields["resource_type"] != "provider" {
		t.Errorf("resource_type = %v, want %v", fields["resource_type"], "provider")
	}
	if fields["resource_name"] != "discord" {
		t.Errorf("resource_name = %v, want %v", fields["resource_name"], "discord")
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("provider", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v, want %v", fields["duration_ms"], int64(150))
	}
}

func TestFields_Error(t *testing.T) {
	err := errors.New("boom")
	fields := NewFields().Error(err)
	if fields["error"] != "boom" {
		t.Errorf("Error() = %v, want %v", fields["error"], "boom")
	}
}

func TestFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestFields_CorrelationID(t *testing.T) {
	fields := NewFields().CorrelationID("cycle-123")
	if fields["correlation_id"] != "cycle-123" {
		t.Errorf("CorrelationID() = %v, want %v", fields["correlation_id"], "cycle-123")
	}
}

func TestFields_Args(t *testing.T) {
	fields := NewFields().Component("x").Operation("y")
	args := fields.Args()
	if len(args) != 4 {
		t.Fatalf("Args() len = %d, want 4", len(args))
	}
}
