package protocol

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  StatusMessage
	}{
		{"available", New("10.0.0.1", "10.0.0.1", Available)},
		{"unavailable", New("10.0.0.2", "10.0.0.1", Unavailable)},
		{"leader self", New("10.0.0.1", "10.0.0.1", Leader)},
		{"leader follow", New("10.0.0.2", "10.0.0.1", Leader)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.msg {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `not json`},
		{"missing subject", `{"sender":"a","status":"leader"}`},
		{"unknown status", `{"sender":"a","subject":"a","status":"bogus"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.payload)); err == nil {
				t.Errorf("Decode(%q) expected error, got nil", tt.payload)
			}
		})
	}
}

func TestUpdatesLeaderImpliesFollowing(t *testing.T) {
	m := New("B", "A", Leader)
	recipients, updates := Updates(m)
	if len(recipients) != 2 || len(updates) != 2 {
		t.Fatalf("Updates() = %d recipients, %d updates, want 2 and 2", len(recipients), len(updates))
	}
	if recipients[0] != "A" || updates[0].Kind != UpdateStatus || updates[0].Status != Leader {
		t.Errorf("primary update = %+v/%+v, want subject=A status=leader", recipients[0], updates[0])
	}
	if recipients[1] != "B" || updates[1].Kind != UpdateFollowing || updates[1].Address != "A" {
		t.Errorf("secondary update = %+v/%+v, want sender=B following=A", recipients[1], updates[1])
	}
}

func TestUpdatesNonLeaderSingular(t *testing.T) {
	m := New("B", "A", Unavailable)
	recipients, updates := Updates(m)
	if len(recipients) != 1 || len(updates) != 1 {
		t.Fatalf("Updates() = %d recipients, %d updates, want 1 and 1", len(recipients), len(updates))
	}
}
