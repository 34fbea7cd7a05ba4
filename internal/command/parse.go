package command

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Command names. ec2 subcommands are prefixed with "ec2 ".
const (
	Help     = "help"
	Status   = "status"
	Monitor  = "monitor"
	Vonitor  = "vonitor"
	Konitor  = "konitor"
	Kronitor = "kronitor"
	Info     = "ec2 info"
	Start    = "ec2 start"
	Stop     = "ec2 stop"
	Resize   = "ec2 resize"
	List     = "ec2 ls"
)

// ErrEmpty is returned by Parse for text with no words.
var ErrEmpty = errors.New("empty command")

// Directive is a parsed command line.
type Directive struct {
	Command string
	Target  string   // url, or url or instance id for ec2 commands
	Size    string   // kronitor, ec2 resize
	Filters []string // ec2 ls, as key=value
	Limit   string   // ec2 ls, unparsed
}

// LimitOr returns the --limit value, or def when it is missing or not a
// non-negative integer.
func (d Directive) LimitOr(def int) int {
	n, err := strconv.Atoi(d.Limit)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Parse parses a chat message into a Directive. Words are separated by
// whitespace; the bot mention must already be stripped.
func Parse(text string) (Directive, error) {
	args := strings.Fields(text)
	if len(args) == 0 {
		return Directive{}, ErrEmpty
	}

	var d Directive
	root := newRootCommand(&d)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return Directive{}, err
	}
	if d.Command == "" {
		return Directive{}, errors.New("incomplete command")
	}
	return d, nil
}

// newRootCommand builds a fresh command tree writing into d. cobra
// commands hold parse state, so a tree is never shared between messages.
func newRootCommand(d *Directive) *cobra.Command {
	root := &cobra.Command{
		Use:           "opsbot",
		Short:         "Watch deployments and manage their machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpFunc(func(*cobra.Command, []string) { d.Command = Help })
	root.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "Show usage",
		Args:  cobra.ArbitraryArgs,
		Run:   func(*cobra.Command, []string) { d.Command = Help },
	})

	root.AddCommand(
		targetCommand(d, Status, "Show the indexer status of a deployment"),
		targetCommand(d, Monitor, "Watch the indexer until it settles"),
		targetCommand(d, Vonitor, "Watch the visualization indexer until it settles"),
		targetCommand(d, Konitor, "Monitor, vonitor, then stop the machine"),
		withSize(d, targetCommand(d, Kronitor, "Konitor, then resize the machine")),
		newEC2Command(d),
	)
	return root
}

func newEC2Command(d *Directive) *cobra.Command {
	ec2 := &cobra.Command{
		Use:   "ec2",
		Short: "Manage machines",
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List machines matching filters",
		Args:  cobra.NoArgs,
		Run:   func(*cobra.Command, []string) { d.Command = List },
	}
	ls.Flags().StringArrayVarP(&d.Filters, "filter", "f", nil, "filter as key=value, repeatable")
	ls.Flags().StringVarP(&d.Limit, "limit", "l", "", "maximum machines shown")

	ec2.AddCommand(
		targetCommand(d, Info, "Describe a machine"),
		targetCommand(d, Start, "Start a machine"),
		targetCommand(d, Stop, "Stop a machine"),
		withSize(d, targetCommand(d, Resize, "Resize a stopped machine")),
		ls,
	)
	return ec2
}

// targetCommand builds a command taking an optional target argument.
func targetCommand(d *Directive, name, short string) *cobra.Command {
	use := name[strings.LastIndex(name, " ")+1:]
	return &cobra.Command{
		Use:   use + " [target]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			d.Command = name
			if len(args) == 1 {
				d.Target = args[0]
			}
		},
	}
}

func withSize(d *Directive, cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringVarP(&d.Size, "size", "s", "", "instance size")
	return cmd
}

// HelpText is the reply to the help command.
const HelpText = "```" + `
status <url>                  indexer status of a deployment
monitor <url>                 watch the indexer until it settles
vonitor <url>                 watch the visualization indexer until it settles
konitor <url>                 monitor, vonitor, then stop the machine
kronitor <url> [-s size]      konitor, then resize the machine
ec2 info <url|id>             describe a machine
ec2 start <url|id>            start a machine
ec2 stop <url|id>             stop a machine
ec2 resize <url|id> [-s size] resize a stopped machine
ec2 ls [-f key=value]... [-l n]
                              list machines
list                          show active jobs
cancel <job>                  cancel a job
help                          this message
` + "```"
