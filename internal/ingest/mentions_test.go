package ingest

import "testing"

func TestMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		identity string
		want     bool
	}{
		{"plain at", "hey @piper look at this", "piper", true},
		{"bracketed", "<@piper> ping", "piper", true},
		{"bracketed upper", "<@PIPER> ping", "piper", true},
		{"case insensitive", "@Piper please", "piper", true},
		{"start of text", "@piper hi", "piper", true},
		{"end of text", "over to @piper", "piper", true},
		{"punctuation boundary", "thanks @piper!", "piper", true},
		{"prefix of longer name", "cc @piperalpha", "piper", false},
		{"embedded in token", "email x@piper.example", "piper", false},
		{"no at sign", "piper should see this", "piper", false},
		{"different identity", "@ops take over", "piper", false},
		{"empty identity", "@piper", "", false},
		{"second occurrence bounded", "@piperx then @piper", "piper", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mentions(tt.text, tt.identity); got != tt.want {
				t.Errorf("Mentions(%q, %q) = %v, want %v", tt.text, tt.identity, got, tt.want)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("short"); got != "short" {
		t.Errorf("excerpt = %q, want unchanged", got)
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := excerpt(string(long))
	if len(got) <= excerptLen || len(got) > excerptLen+4 {
		t.Errorf("excerpt length = %d, want ~%d", len(got), excerptLen)
	}
}
