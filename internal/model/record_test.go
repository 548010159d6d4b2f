package model

import "testing"

func TestSyncStatus_String(t *testing.T) {
	for _, tc := range []struct {
		s    SyncStatus
		want string
	}{
		{StatusLogged, "logged"},
		{StatusAccumulating, "accumulating"},
		{StatusConsumed, "consumed"},
		{SyncStatus(4), "SyncStatus(4)"},
	} {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", int(tc.s), got, tc.want)
		}
	}
}

func TestSyncStatus_Values(t *testing.T) {
	if StatusLogged != -1 || StatusAccumulating != 0 || StatusConsumed != 1 {
		t.Fatalf("status values changed: %d %d %d", StatusLogged, StatusAccumulating, StatusConsumed)
	}
}

func TestSyncStatus_CanAdvanceTo(t *testing.T) {
	for _, tc := range []struct {
		from, to SyncStatus
		want     bool
	}{
		{StatusLogged, StatusAccumulating, true},
		{StatusLogged, StatusConsumed, true},
		{StatusAccumulating, StatusConsumed, true},
		{StatusAccumulating, StatusLogged, false},
		{StatusConsumed, StatusLogged, false},
		{StatusConsumed, StatusAccumulating, false},
		{StatusConsumed, StatusConsumed, false},
		{StatusLogged, StatusLogged, false},
		{StatusLogged, SyncStatus(2), false},
	} {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSyncStatus_IsTerminal(t *testing.T) {
	if !StatusConsumed.IsTerminal() {
		t.Error("consumed should be terminal")
	}
	if StatusLogged.IsTerminal() || StatusAccumulating.IsTerminal() {
		t.Error("only consumed should be terminal")
	}
}

func TestParseSyncStatus(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    SyncStatus
		wantErr bool
	}{
		{"logged", StatusLogged, false},
		{"-1", StatusLogged, false},
		{"Accumulating", StatusAccumulating, false},
		{"0", StatusAccumulating, false},
		{" consumed ", StatusConsumed, false},
		{"1", StatusConsumed, false},
		{"done", 0, true},
		{"", 0, true},
	} {
		got, err := ParseSyncStatus(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSyncStatus(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseSyncStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{1, 1},
		{250, 250},
		{MaxLimit, MaxLimit},
		{MaxLimit + 1, MaxLimit},
	} {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMessage_RequestID(t *testing.T) {
	var nilMsg *Message
	if nilMsg.RequestID() != "" {
		t.Error("nil message should have empty request id")
	}
	m := &Message{ExtraMetadata: map[string]any{"request_id": "req-9"}}
	if got := m.RequestID(); got != "req-9" {
		t.Errorf("RequestID() = %q, want req-9", got)
	}
}
