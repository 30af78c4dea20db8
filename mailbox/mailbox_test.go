package mailbox

import (
	stderrors "errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wippyai/wasm-bridge/errors"
)

// recordingTarget records delivered envelope types and runs an optional hook
// after each delivery.
type recordingTarget struct {
	onPost func(env Envelope)
	err    error
	got    []string
}

func (r *recordingTarget) PostMessage(env Envelope) error {
	r.got = append(r.got, env.Type)
	if r.onPost != nil {
		r.onPost(env)
	}
	return r.err
}

func emptyPayload() *structpb.Struct {
	return &structpb.Struct{}
}

func TestMailbox_BuffersUntilReady(t *testing.T) {
	m := New()
	m.Send("ping", emptyPayload())
	m.Send("pong", emptyPayload())

	if n := m.Pending(); n != 2 {
		t.Fatalf("Pending = %d, want 2", n)
	}

	target := &recordingTarget{}
	m.OnTargetReady(target)

	if want := []string{"ping", "pong"}; !reflect.DeepEqual(target.got, want) {
		t.Errorf("delivered %v, want %v", target.got, want)
	}
	if n := m.Pending(); n != 0 {
		t.Errorf("Pending after flush = %d, want 0", n)
	}
	if !m.Ready() {
		t.Error("Ready = false after OnTargetReady")
	}
}

func TestMailbox_BufferedBeforeDirect(t *testing.T) {
	const n = 50
	m := New()
	target := &recordingTarget{}

	var want []string
	for i := 0; i < n; i++ {
		typ := "before-" + string(rune('a'+i%26))
		want = append(want, typ)
		m.Send(typ, emptyPayload())
	}
	m.OnTargetReady(target)
	m.Send("after", emptyPayload())
	want = append(want, "after")

	if !reflect.DeepEqual(target.got, want) {
		t.Errorf("delivered %v, want %v", target.got, want)
	}
}

func TestMailbox_DirectDeliveryWhenReady(t *testing.T) {
	m := New()
	target := &recordingTarget{}
	m.OnTargetReady(target)

	m.Send("now", emptyPayload())
	if want := []string{"now"}; !reflect.DeepEqual(target.got, want) {
		t.Errorf("delivered %v, want %v", target.got, want)
	}
	if n := m.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestMailbox_ReentrantSendDuringFlush(t *testing.T) {
	m := New()
	target := &recordingTarget{}
	target.onPost = func(env Envelope) {
		if env.Type == "a" || env.Type == "c" {
			m.Send(env.Type+"-echo", emptyPayload())
		}
	}

	m.Send("a", emptyPayload())
	m.Send("b", emptyPayload())
	m.Send("c", emptyPayload())
	m.OnTargetReady(target)

	want := []string{"a", "b", "c", "a-echo", "c-echo"}
	if !reflect.DeepEqual(target.got, want) {
		t.Errorf("delivered %v, want %v", target.got, want)
	}
	if n := m.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestMailbox_DisposeDiscardsPending(t *testing.T) {
	m := New()
	m.Send("one", emptyPayload())
	m.Send("two", emptyPayload())
	m.Dispose()

	if n := m.Pending(); n != 0 {
		t.Errorf("Pending after Dispose = %d, want 0", n)
	}

	target := &recordingTarget{}
	m.OnTargetReady(target)
	m.Send("three", emptyPayload())

	if len(target.got) != 0 {
		t.Errorf("delivered %v after Dispose, want none", target.got)
	}
	if m.Ready() {
		t.Error("Ready = true after Dispose")
	}
	if !m.Disposed() {
		t.Error("Disposed = false")
	}
}

func TestMailbox_DisposeMidFlush(t *testing.T) {
	m := New()
	target := &recordingTarget{}
	target.onPost = func(env Envelope) {
		if env.Type == "b" {
			m.Dispose()
		}
	}

	for _, typ := range []string{"a", "b", "c", "d"} {
		m.Send(typ, emptyPayload())
	}
	m.OnTargetReady(target)

	if want := []string{"a", "b"}; !reflect.DeepEqual(target.got, want) {
		t.Errorf("delivered %v, want %v", target.got, want)
	}
}

func TestMailbox_DisposeIdempotent(t *testing.T) {
	m := New()
	m.Dispose()
	m.Dispose()
	if !m.Disposed() {
		t.Error("Disposed = false")
	}
}

func TestMailbox_SecondTargetIgnored(t *testing.T) {
	m := New()
	first := &recordingTarget{}
	second := &recordingTarget{}
	m.OnTargetReady(first)
	m.OnTargetReady(second)

	m.Send("x", emptyPayload())
	if len(first.got) != 1 || len(second.got) != 0 {
		t.Errorf("first=%v second=%v, want delivery to first only", first.got, second.got)
	}
}

func TestMailbox_RoutesInRegistrationOrder(t *testing.T) {
	m := New()
	var calls []string

	m.Subscribe("status", func(env Envelope) { calls = append(calls, "first") })
	m.Subscribe("status", func(env Envelope) { calls = append(calls, "second") })
	m.Subscribe("other", func(env Envelope) { calls = append(calls, "other") })

	if err := m.OnMessageFromTarget([]byte(`{"type":"status","data":{"ok":true}}`)); err != nil {
		t.Fatalf("OnMessageFromTarget: %v", err)
	}

	if want := []string{"first", "second"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestMailbox_RoutedPayload(t *testing.T) {
	m := New()
	var got Envelope
	m.Subscribe("reading", func(env Envelope) { got = env })

	raw := []byte(`{"type":"reading","data":{"reader":"ACS","slot":2}}`)
	if err := m.OnMessageFromTarget(raw); err != nil {
		t.Fatalf("OnMessageFromTarget: %v", err)
	}

	if got.Type != "reading" {
		t.Errorf("Type = %q, want reading", got.Type)
	}
	if v := got.Data.GetFields()["reader"].GetStringValue(); v != "ACS" {
		t.Errorf("reader = %q, want ACS", v)
	}
	if v := got.Data.GetFields()["slot"].GetNumberValue(); v != 2 {
		t.Errorf("slot = %v, want 2", v)
	}
}

func TestMailbox_Unsubscribe(t *testing.T) {
	m := New()
	var calls int
	cancel := m.Subscribe("tick", func(env Envelope) { calls++ })

	_ = m.OnMessageFromTarget([]byte(`{"type":"tick","data":{}}`))
	cancel()
	cancel()
	_ = m.OnMessageFromTarget([]byte(`{"type":"tick","data":{}}`))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestMailbox_UnhandledPolicy(t *testing.T) {
	var dropped []string
	m := New(WithUnhandled(func(env Envelope) { dropped = append(dropped, env.Type) }))
	m.Subscribe("known", func(env Envelope) {})

	_ = m.OnMessageFromTarget([]byte(`{"type":"known","data":{}}`))
	_ = m.OnMessageFromTarget([]byte(`{"type":"unknown","data":{}}`))

	if want := []string{"unknown"}; !reflect.DeepEqual(dropped, want) {
		t.Errorf("unhandled = %v, want %v", dropped, want)
	}
}

func TestMailbox_MalformedIsFatal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json`},
		{"array", `[1,2]`},
		{"missing type", `{"data":{}}`},
		{"numeric type", `{"type":5,"data":{}}`},
		{"missing data", `{"type":"status"}`},
		{"scalar data", `{"type":"status","data":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			var fatal error
			var routed int
			m := New(
				WithLogger(zap.New(core)),
				WithFatal(func(err error) { fatal = err }),
				WithUnhandled(func(env Envelope) { routed++ }),
			)
			m.Subscribe("status", func(env Envelope) { routed++ })

			err := m.OnMessageFromTarget([]byte(tt.raw))
			if err == nil {
				t.Fatal("OnMessageFromTarget returned nil error")
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData}) {
				t.Errorf("error = %v, want decode error", err)
			}
			if fatal == nil {
				t.Error("fatal hook not invoked")
			}
			if routed != 0 {
				t.Errorf("routed = %d, want 0", routed)
			}
			if logs.Len() != 1 {
				t.Errorf("error logs = %d, want 1", logs.Len())
			}
		})
	}
}

func TestMailbox_DeliveryErrorIsFatal(t *testing.T) {
	var fatal error
	m := New(WithFatal(func(err error) {
		fatal = err
	}))
	target := &recordingTarget{err: stderrors.New("unreachable executed")}
	m.OnTargetReady(target)
	m.Send("boom", emptyPayload())

	if !stderrors.Is(fatal, &errors.Error{Phase: errors.PhaseDeliver, Kind: errors.KindTrap}) {
		t.Errorf("fatal = %v, want deliver error", fatal)
	}
}

func TestMailbox_DisposeReleasesSubscribers(t *testing.T) {
	m := New()
	var calls int
	m.Subscribe("tick", func(env Envelope) { calls++ })
	m.Dispose()

	if err := m.OnMessageFromTarget([]byte(`{"type":"tick","data":{}}`)); err != nil {
		t.Errorf("OnMessageFromTarget after Dispose = %v, want nil", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d after Dispose, want 0", calls)
	}
}

func TestMailbox_DisposeDuringDispatch(t *testing.T) {
	m := New()
	var calls []string
	m.Subscribe("tick", func(env Envelope) {
		calls = append(calls, "first")
		m.Dispose()
	})
	m.Subscribe("tick", func(env Envelope) { calls = append(calls, "second") })

	_ = m.OnMessageFromTarget([]byte(`{"type":"tick","data":{}}`))
	if want := []string{"first"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}
