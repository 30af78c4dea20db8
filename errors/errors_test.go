package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDeliver,
				Kind:   KindTrap,
				Module: "echo",
				Type:   "ping",
				Detail: "deliver envelope",
			},
			contains: []string{"[deliver]", "trap", "module echo", "type ping", "deliver envelope"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindInvalidData,
			},
			contains: []string{"[decode]", "invalid_data"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindInvalidData,
				Detail: "compile module",
				Cause:  errors.New("bad magic"),
			},
			contains: []string{"[load]", "compile module", "caused by", "bad magic"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Load("read module", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := Decode("envelope", errors.New("unexpected EOF"))

	if !errors.Is(err, &Error{Phase: PhaseDecode, Kind: KindInvalidData}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseEncode, Kind: KindInvalidData}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, &Error{Phase: PhaseDecode, Kind: KindNotFound}) {
		t.Error("Is should not match different kind")
	}

	var target *Error
	if !errors.As(err, &target) || target.Detail != "envelope" {
		t.Errorf("errors.As = %v, want decode error", target)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseInstantiate, KindInstantiation).
		Module("echo").
		Type("ping").
		Cause(cause).
		Detail("instance %d", 3).
		Build()

	if err.Phase != PhaseInstantiate {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseInstantiate)
	}
	if err.Kind != KindInstantiation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInstantiation)
	}
	if err.Module != "echo" || err.Type != "ping" {
		t.Errorf("Module=%q Type=%q", err.Module, err.Type)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "instance 3" {
		t.Errorf("Detail = %q, want 'instance 3'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{Instantiation("echo", nil), PhaseInstantiate, KindInstantiation},
		{Encode("ping", nil), PhaseEncode, KindInvalidData},
		{Deliver("ping", nil), PhaseDeliver, KindTrap},
		{NotFound(PhaseLoad, "module", "echo"), PhaseLoad, KindNotFound},
		{InvalidInput(PhaseConfig, "workers must be positive"), PhaseConfig, KindInvalidInput},
		{MissingExports("echo", []string{"alloc", "on_message"}), PhaseLoad, KindMissingExport},
		{Canceled(PhaseLoad, nil), PhaseLoad, KindCanceled},
		{Wrap(PhaseAccept, KindInvalidData, nil, "accept"), PhaseAccept, KindInvalidData},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase)+"/"+string(tt.kind), func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
		})
	}

	if msg := MissingExports("echo", []string{"alloc", "on_message"}).Error(); !strings.Contains(msg, "alloc, on_message") {
		t.Errorf("MissingExports message %q lacks export list", msg)
	}
}
