package transport

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRegistry_FirstSubscriber(t *testing.T) {
	r := NewRegistry()
	cb1 := func(string, json.RawMessage) {}
	cb2 := func(string, json.RawMessage) {}

	if first := r.Subscribe("book.BTC-PERPETUAL.100ms", cb1); !first {
		t.Error("first subscribe should report first=true")
	}
	if first := r.Subscribe("book.BTC-PERPETUAL.100ms", cb2); first {
		t.Error("second subscriber should report first=false")
	}
	if got := r.Subscribers("book.BTC-PERPETUAL.100ms"); got != 2 {
		t.Errorf("Subscribers = %d, want 2", got)
	}
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	cb := func(string, json.RawMessage) {}

	first := r.Subscribe("trades.ETH-PERPETUAL.raw", cb)
	again := r.Subscribe("trades.ETH-PERPETUAL.raw", cb)

	if !first {
		t.Error("first subscribe should report first=true")
	}
	if again {
		t.Error("duplicate subscribe should report first=false")
	}
	if got := r.Subscribers("trades.ETH-PERPETUAL.raw"); got != 1 {
		t.Errorf("duplicate (topic, callback) pair not collapsed: %d entries", got)
	}
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := NewRegistry()
	cb1 := func(string, json.RawMessage) {}
	cb2 := func(string, json.RawMessage) {}

	r.Subscribe("book.BTC-PERPETUAL.100ms", cb1)
	r.Subscribe("book.BTC-PERPETUAL.100ms", cb2)

	if remaining := r.Unsubscribe("book.BTC-PERPETUAL.100ms", cb1); !remaining {
		t.Error("one subscriber left, remaining should be true")
	}
	if remaining := r.Unsubscribe("book.BTC-PERPETUAL.100ms", cb2); remaining {
		t.Error("no subscribers left, remaining should be false")
	}
	if got := len(r.Topics()); got != 0 {
		t.Errorf("Topics = %d, want 0", got)
	}
}

func TestRegistry_UnsubscribeAll(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("book.BTC-PERPETUAL.100ms", func(string, json.RawMessage) {})
	r.Subscribe("book.BTC-PERPETUAL.100ms", func(string, json.RawMessage) {})

	if remaining := r.Unsubscribe("book.BTC-PERPETUAL.100ms", nil); remaining {
		t.Error("nil callback should drop every subscriber")
	}
}

func TestRegistry_UnsubscribeMissingNoop(t *testing.T) {
	r := NewRegistry()
	if remaining := r.Unsubscribe("book.BTC-PERPETUAL.100ms", nil); remaining {
		t.Error("unsubscribing an unknown topic should report remaining=false")
	}
}

func TestRegistry_Topics(t *testing.T) {
	r := NewRegistry()
	cb := func(string, json.RawMessage) {}
	r.Subscribe("book.ETH-PERPETUAL.100ms", cb)
	r.Subscribe("book.BTC-PERPETUAL.100ms", cb)
	r.Subscribe("book.BTC-PERPETUAL.100ms", func(string, json.RawMessage) {})

	want := []string{"book.BTC-PERPETUAL.100ms", "book.ETH-PERPETUAL.100ms"}
	if got := r.Topics(); !reflect.DeepEqual(got, want) {
		t.Errorf("Topics = %v, want %v", got, want)
	}
}

func TestRegistry_Callbacks(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Subscribe("book.BTC-PERPETUAL.100ms", func(ch string, data json.RawMessage) {
		got = append(got, string(data))
	})

	for _, cb := range r.Callbacks("book.BTC-PERPETUAL.100ms") {
		cb("book.BTC-PERPETUAL.100ms", json.RawMessage(`1`))
	}
	if len(got) != 1 || got[0] != "1" {
		t.Errorf("callback invocations = %v", got)
	}

	if cbs := r.Callbacks("unknown"); cbs != nil {
		t.Errorf("Callbacks(unknown) = %v, want nil", cbs)
	}
}
