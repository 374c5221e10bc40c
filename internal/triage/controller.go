package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wesm/projmail/internal/mime"
	"github.com/wesm/projmail/internal/store"
)

// PromptKind selects how a Decider should ask.
type PromptKind int

const (
	// PromptMenu asks for one of Options by number, starting at 1.
	PromptMenu PromptKind = iota
	// PromptText asks for free text.
	PromptText
)

// Prompt is one question put to the user.
type Prompt struct {
	Kind    PromptKind
	Header  string // context shown above the question, may be empty
	Title   string
	Options []string
}

// Decider supplies the user's answers. Choose is the only call that
// blocks; an error from it ends the current triage without a decision.
type Decider interface {
	Choose(ctx context.Context, p Prompt) (string, error)
	Notify(msg string)
}

// Action is the decision taken for a message.
type Action string

const (
	ActionAssign        Action = "assign"
	ActionCreateProject Action = "create-project"
	ActionSnooze        Action = "snooze"
	ActionIgnore        Action = "ignore"
)

// Outcome is the result of triaging one message.
type Outcome struct {
	Action    Action
	ProjectID int64
	RemindAt  time.Time
}

// SnoozeOption is one entry of the snooze menu.
type SnoozeOption struct {
	Label  string
	Offset time.Duration
}

// SnoozeOptions are the offered snooze periods.
var SnoozeOptions = []SnoozeOption{
	{"1 day", 24 * time.Hour},
	{"1 week", 7 * 24 * time.Hour},
	{"1 month (30 days)", 30 * 24 * time.Hour},
}

// Controller runs the triage decision loop for messages.
type Controller struct {
	store   *store.Store
	decider Decider
	now     func() time.Time
	logger  *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock sets the clock used to compute snooze times.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a controller that asks d for decisions.
func NewController(st *store.Store, d Decider, opts ...ControllerOption) *Controller {
	c := &Controller{store: st, decider: d, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summary formats the message lines shown above the triage menu.
func Summary(msg *store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From:    %s\n", msg.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Date:    %s\n", msg.Timestamp)
	if msg.Snippet != "" {
		fmt.Fprintf(&b, "\n%s\n", msg.Snippet)
	}
	return b.String()
}

// Triage asks for a decision on msg and applies it. Invalid answers are
// re-asked until a valid one arrives or the Decider fails.
func (c *Controller) Triage(ctx context.Context, msg *store.Message) (*Outcome, error) {
	projects, err := c.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	options := make([]string, 0, len(projects)+3)
	for _, p := range projects {
		options = append(options, p.Name)
	}
	createIdx := len(projects) + 1
	options = append(options, "Create new project", "Snooze", "Ignore sender")

	choice, err := c.chooseNumber(ctx, Prompt{
		Kind:    PromptMenu,
		Header:  Summary(msg),
		Title:   "Assign to project",
		Options: options,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case choice < createIdx:
		p := projects[choice-1]
		if err := c.store.Assign(msg.ID, p.ID); err != nil {
			return nil, fmt.Errorf("assign message: %w", err)
		}
		return &Outcome{Action: ActionAssign, ProjectID: p.ID}, nil
	case choice == createIdx:
		return c.createAndAssign(ctx, msg)
	case choice == createIdx+1:
		return c.snooze(ctx, msg)
	default:
		return c.ignore(msg)
	}
}

// chooseNumber asks p until the answer is a number in [1, len(Options)].
func (c *Controller) chooseNumber(ctx context.Context, p Prompt) (int, error) {
	for {
		answer, err := c.decider.Choose(ctx, p)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(answer))
		if err == nil && n >= 1 && n <= len(p.Options) {
			return n, nil
		}
		c.decider.Notify(fmt.Sprintf("Invalid choice %q, enter a number from 1 to %d.", strings.TrimSpace(answer), len(p.Options)))
	}
}

func (c *Controller) createAndAssign(ctx context.Context, msg *store.Message) (*Outcome, error) {
	for {
		name, err := c.decider.Choose(ctx, Prompt{Kind: PromptText, Title: "New project name"})
		if err != nil {
			return nil, err
		}
		p, err := c.store.CreateProjectAndAssign(name, "", msg.ID)
		switch {
		case errors.Is(err, store.ErrEmptyName):
			c.decider.Notify("Project name cannot be empty.")
			continue
		case errors.Is(err, store.ErrProjectExists):
			c.decider.Notify(fmt.Sprintf("Project %q already exists.", strings.TrimSpace(name)))
			continue
		case err != nil:
			return nil, fmt.Errorf("create project: %w", err)
		}
		c.logger.Info("created project", "project", p.Name, "message_id", msg.ID)
		return &Outcome{Action: ActionCreateProject, ProjectID: p.ID}, nil
	}
}

func (c *Controller) snooze(ctx context.Context, msg *store.Message) (*Outcome, error) {
	labels := make([]string, len(SnoozeOptions))
	for i, o := range SnoozeOptions {
		labels[i] = o.Label
	}
	choice, err := c.chooseNumber(ctx, Prompt{Kind: PromptMenu, Title: "Snooze for", Options: labels})
	if err != nil {
		return nil, err
	}

	remindAt := c.now().Add(SnoozeOptions[choice-1].Offset)
	if err := c.store.Snooze(msg.ID, remindAt); err != nil {
		return nil, fmt.Errorf("snooze message: %w", err)
	}
	return &Outcome{Action: ActionSnooze, RemindAt: remindAt}, nil
}

func (c *Controller) ignore(msg *store.Message) (*Outcome, error) {
	if _, email := mime.SplitAddress(msg.Sender); email != "" {
		if err := c.store.AddIgnoredSender(email); err != nil {
			return nil, fmt.Errorf("ignore sender: %w", err)
		}
	}
	if err := c.store.Ignore(msg.ID); err != nil {
		return nil, fmt.Errorf("ignore message: %w", err)
	}
	return &Outcome{Action: ActionIgnore}, nil
}

// RunSummary counts decisions made by Run.
type RunSummary struct {
	Assigned int
	Created  int
	Snoozed  int
	Ignored  int
	Skipped  int
}

// Run triages msgs in order. Messages ignored earlier in the run (for
// example by ignoring their sender) are skipped. A Decider error stops
// the run and is returned with the counts so far.
func (c *Controller) Run(ctx context.Context, msgs []*store.Message) (*RunSummary, error) {
	sum := &RunSummary{}
	ignored := make(map[string]bool)
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		_, email := mime.SplitAddress(msg.Sender)
		if email != "" && ignored[email] {
			if err := c.store.Ignore(msg.ID); err != nil {
				return sum, fmt.Errorf("ignore message: %w", err)
			}
			sum.Skipped++
			continue
		}

		out, err := c.Triage(ctx, msg)
		if err != nil {
			return sum, err
		}
		switch out.Action {
		case ActionAssign:
			sum.Assigned++
		case ActionCreateProject:
			sum.Created++
		case ActionSnooze:
			sum.Snoozed++
			c.decider.Notify(fmt.Sprintf("Snoozed until %s.", out.RemindAt.Local().Format("Mon Jan 2 15:04")))
		case ActionIgnore:
			sum.Ignored++
			if email != "" {
				ignored[email] = true
			}
		}
	}
	return sum, nil
}
