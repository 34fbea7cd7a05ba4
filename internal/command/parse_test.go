package command

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want Directive
	}{
		{"monitor", "monitor https://demo.example.org", Directive{Command: Monitor, Target: "https://demo.example.org"}},
		{"monitor without target", "monitor", Directive{Command: Monitor}},
		{"status", "status <https://demo.example.org/>", Directive{Command: Status, Target: "<https://demo.example.org/>"}},
		{"vonitor", "vonitor https://demo.example.org", Directive{Command: Vonitor, Target: "https://demo.example.org"}},
		{"konitor", "konitor https://demo.example.org", Directive{Command: Konitor, Target: "https://demo.example.org"}},
		{"kronitor size", "kronitor https://demo.example.org -s m5.large", Directive{Command: Kronitor, Target: "https://demo.example.org", Size: "m5.large"}},
		{"kronitor long flag", "kronitor --size=m5.large https://demo.example.org", Directive{Command: Kronitor, Target: "https://demo.example.org", Size: "m5.large"}},
		{"info", "ec2 info i-0c3cbd3a6e1b8ffc8", Directive{Command: Info, Target: "i-0c3cbd3a6e1b8ffc8"}},
		{"start", "ec2 start https://demo.example.org", Directive{Command: Start, Target: "https://demo.example.org"}},
		{"stop", "ec2   stop  i-1", Directive{Command: Stop, Target: "i-1"}},
		{"resize", "ec2 resize i-1 --size t2.micro", Directive{Command: Resize, Target: "i-1", Size: "t2.micro"}},
		{"ls", "ec2 ls", Directive{Command: List}},
		{"ls flags", "ec2 ls -f tag:started_by=emma --filter instance-state-name=running -l 5", Directive{
			Command: List,
			Filters: []string{"tag:started_by=emma", "instance-state-name=running"},
			Limit:   "5",
		}},
		{"help", "help", Directive{Command: Help}},
		{"help flag", "-h", Directive{Command: Help}},
		{"subcommand help flag", "monitor --help", Directive{Command: Help}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.text, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
	}{
		{"unknown command", "dance"},
		{"extra argument", "monitor https://a.example.org https://b.example.org"},
		{"unknown flag", "monitor --fast https://demo.example.org"},
		{"ls argument", "ec2 ls everything"},
		{"missing flag value", "ec2 resize i-1 --size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if d, err := Parse(tt.text); err == nil {
				t.Errorf("Parse(%q) = %+v, want error", tt.text, d)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "\t"} {
		if _, err := Parse(text); !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q) error = %v, want ErrEmpty", text, err)
		}
	}
}

func TestParse_Independent(t *testing.T) {
	t.Parallel()
	if _, err := Parse("kronitor https://demo.example.org -s m5.large"); err != nil {
		t.Fatal(err)
	}
	d, err := Parse("kronitor https://demo.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if d.Size != "" {
		t.Errorf("Expected flags not to leak between parses, got size %q", d.Size)
	}
}

func TestDirective_LimitOr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		limit string
		want  int
	}{
		{"", 3},
		{"5", 5},
		{"0", 0},
		{"-1", 3},
		{"many", 3},
	}
	for _, tt := range tests {
		if got := (Directive{Limit: tt.limit}).LimitOr(3); got != tt.want {
			t.Errorf("LimitOr(%q) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}
