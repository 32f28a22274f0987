package feed

import "testing"

func TestDirectScopeNormalizesPair(t *testing.T) {
	a := DirectScope("user-1", "user-2")
	b := DirectScope("user-2", "user-1")
	if a.Key() != b.Key() {
		t.Errorf("pair order should not matter: %s vs %s", a.Key(), b.Key())
	}
	if a.Topic() != b.Topic() {
		t.Errorf("pair order should not change the topic: %s vs %s", a.Topic(), b.Topic())
	}
}

func TestScopeTopics(t *testing.T) {
	tests := []struct {
		scope Scope
		topic string
	}{
		{ChannelScope("chan-1"), "cf:messages:chan:chan-1"},
		{DirectScope("user-2", "user-1"), "cf:messages:dm:user-1:user-2"},
		{ThreadScope("msg-1"), "cf:messages:thread:msg-1"},
	}
	for _, tt := range tests {
		if got := tt.scope.Topic(); got != tt.topic {
			t.Errorf("%s: expected topic %s, got %s", tt.scope, tt.topic, got)
		}
	}
}

func TestChannelScopeExcludesThreadReplies(t *testing.T) {
	s := ChannelScope("chan-1")

	top := Item{ID: "msg-1", ChannelID: "chan-1"}
	if !s.Matches(top) {
		t.Error("top-level channel message should match")
	}

	reply := Item{ID: "msg-2", ChannelID: "chan-1", ParentID: "msg-1"}
	if s.Matches(reply) {
		t.Error("thread reply must not leak into the channel feed")
	}

	other := Item{ID: "msg-3", ChannelID: "chan-2"}
	if s.Matches(other) {
		t.Error("message from another channel should not match")
	}
}

func TestDirectScopeMatchesEitherDirection(t *testing.T) {
	s := DirectScope("user-1", "user-2")

	sent := Item{ID: "msg-1", SenderID: "user-1", RecipientID: "user-2"}
	received := Item{ID: "msg-2", SenderID: "user-2", RecipientID: "user-1"}
	if !s.Matches(sent) || !s.Matches(received) {
		t.Error("both directions of the pair should match")
	}

	stranger := Item{ID: "msg-3", SenderID: "user-1", RecipientID: "user-3"}
	if s.Matches(stranger) {
		t.Error("a different pair should not match")
	}

	reply := Item{ID: "msg-4", SenderID: "user-1", RecipientID: "user-2", ParentID: "msg-1"}
	if s.Matches(reply) {
		t.Error("thread reply must not leak into the conversation feed")
	}
}

func TestThreadScopeMatchesOnlyItsReplies(t *testing.T) {
	s := ThreadScope("msg-1")

	if !s.Matches(Item{ID: "msg-2", ParentID: "msg-1"}) {
		t.Error("reply to the parent should match")
	}
	if s.Matches(Item{ID: "msg-3", ParentID: "msg-9"}) {
		t.Error("reply to another parent should not match")
	}
	if s.Matches(Item{ID: "msg-1", ChannelID: "chan-1"}) {
		t.Error("the parent itself is not part of the reply feed")
	}
}
