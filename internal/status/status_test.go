package status

import "testing"

func TestHappyPath(t *testing.T) {
	m := NewMachine()
	if m.Current() != Initializing {
		t.Fatalf("start = %s, want %s", m.Current(), Initializing)
	}
	for _, to := range []Status{Authenticated, Connected, Disconnected} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}
	if m.Current() != Disconnected {
		t.Errorf("end = %s, want %s", m.Current(), Disconnected)
	}
}

func TestDisconnectReachableFromAnyState(t *testing.T) {
	for _, from := range []Status{Initializing, Authenticated, Connected} {
		m := &Machine{current: from}
		if err := m.Transition(Disconnected); err != nil {
			t.Errorf("Transition(%s -> Disconnected) error = %v", from, err)
		}
	}
}

func TestCredentialReuseSkipsAuth(t *testing.T) {
	// A reconnect with stored credentials can reach Connected without a
	// fresh Authenticated event.
	m := NewMachine()
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("Initializing -> Connected error = %v", err)
	}
}

func TestInvalidTransitionKeepsState(t *testing.T) {
	m := &Machine{current: Connected}
	if err := m.Transition(Initializing); err == nil {
		t.Fatal("Connected -> Initializing should be invalid")
	}
	if m.Current() != Connected {
		t.Errorf("state after invalid transition = %s, want %s", m.Current(), Connected)
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m := &Machine{current: Connected}
	if err := m.Transition(Connected); err != nil {
		t.Errorf("self transition error = %v", err)
	}
}

func TestValid(t *testing.T) {
	for _, s := range []Status{Initializing, Authenticated, Connected, Disconnected} {
		if !Valid(s) {
			t.Errorf("Valid(%s) = false", s)
		}
	}
	if Valid("banana") {
		t.Error("Valid(banana) = true")
	}
}
