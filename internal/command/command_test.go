package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		want Command
	}{
		{"/start", Command{Kind: Start}},
		{"/HELP", Command{Kind: Help}},
		{"/setup@groupmind_bot", Command{Kind: Setup}},
		{"/setup@GroupMind_Bot", Command{Kind: Setup}},
		{"  /cancel  ", Command{Kind: Cancel}},
		{"/teach Where is the wiki? | wiki.example.com", Command{Kind: Teach, Question: "Where is the wiki?", Answer: "wiki.example.com"}},
		{"/teach a | b | c", Command{Kind: Teach, Question: "a", Answer: "b | c"}},
		{"/forget spam links", Command{Kind: Forget, Keyword: "spam links"}},
		{"/pause", Command{Kind: Pause}},
		{"/resume", Command{Kind: Resume}},
		{"/export", Command{Kind: Export}},
		{"/stats", Command{Kind: Stats}},
		{"/knowledge", Command{Kind: Knowledge}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Parse(tt.text, "groupmind_bot")
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.text, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		text     string
		wantErr  error
		wantKind Kind
	}{
		{"hello there", ErrNotCommand, 0},
		{"", ErrNotCommand, 0},
		{"/start@other_bot", ErrNotCommand, 0},
		{"/dance", ErrUnknown, 0},
		{"/teach no separator", nil, Teach},
		{"/teach | answer only", nil, Teach},
		{"/teach question only |", nil, Teach},
		{"/teach", nil, Teach},
		{"/forget", nil, Forget},
		{"/forget    ", nil, Forget},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Parse(tt.text, "groupmind_bot")
			if err == nil {
				t.Fatalf("Parse(%q) = %+v, want error", tt.text, got)
			}
			if got != (Command{}) {
				t.Errorf("Parse(%q) returned partial command %+v", tt.text, got)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FormatError", err)
			}
			if fe.Kind != tt.wantKind || fe.Hint == "" {
				t.Errorf("FormatError = %+v", fe)
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	admin := []Kind{Setup, Teach, Forget, Pause, Resume, Export, Stats}
	for _, k := range admin {
		if !k.AdminOnly() {
			t.Errorf("%s should be admin-only", k)
		}
	}
	for _, k := range []Kind{Start, Help, Cancel, Knowledge} {
		if k.AdminOnly() {
			t.Errorf("%s should be open to everyone", k)
		}
	}
}
