package protocol

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"message with content", Message{Type: TypeMessage, Content: "hi"}, false},
		{"message without content", Message{Type: TypeMessage}, true},
		{"missing type", Message{}, true},
		{"unknown type", Message{Type: "bogus"}, true},
		{"typing is fine without content", Message{Type: TypeTyping}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRoomPattern(t *testing.T) {
	valid := []string{"general", "room-1", "room_2", "A1"}
	invalid := []string{"", "has space", "slash/room", string(make([]byte, 51))}
	for _, r := range valid {
		if !RoomPattern.MatchString(r) {
			t.Errorf("expected %q to match room pattern", r)
		}
	}
	for _, r := range invalid {
		if RoomPattern.MatchString(r) {
			t.Errorf("expected %q to not match room pattern", r)
		}
	}
}

func TestAgentUserID(t *testing.T) {
	if got := AgentUserID("mock", "debater-1"); got != "agent:mock:debater-1" {
		t.Fatalf("unexpected agent user id: %s", got)
	}
}
