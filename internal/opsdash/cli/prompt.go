package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/charmbracelet/huh"
)

// ErrAborted is returned when the operator abandons a prompt.
var ErrAborted = errors.New("aborted")

// Credentials is what the login form collects.
type Credentials struct {
	Email      string
	Password   string
	RememberMe bool
}

// SecondFactor is an answer to a second-factor challenge.
type SecondFactor struct {
	Code   string
	Backup bool
}

// Prompter collects interactive input.
type Prompter interface {
	Credentials(ctx context.Context, email string) (Credentials, error)
	SecondFactor(ctx context.Context, hint string) (SecondFactor, error)
	Email(ctx context.Context) (string, error)
	SelectClient(ctx context.Context, clients []domain.Client, current string) (domain.Client, error)
	Confirm(ctx context.Context, title string) (bool, error)
}

// FormPrompter renders huh forms.
type FormPrompter struct {
	in  io.Reader
	out io.Writer
}

func NewFormPrompter(in io.Reader, out io.Writer) *FormPrompter {
	return &FormPrompter{in: in, out: out}
}

func (p *FormPrompter) run(ctx context.Context, groups ...*huh.Group) error {
	err := huh.NewForm(groups...).
		WithInput(p.in).
		WithOutput(p.out).
		WithShowHelp(false).
		RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func (p *FormPrompter) Credentials(ctx context.Context, email string) (Credentials, error) {
	c := Credentials{Email: email}
	err := p.run(ctx, huh.NewGroup(
		huh.NewInput().
			Title("Email").
			Value(&c.Email).
			Validate(required("email")),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&c.Password).
			Validate(required("password")),
		huh.NewConfirm().
			Title("Keep me signed in?").
			Value(&c.RememberMe),
	))
	c.Email = strings.TrimSpace(c.Email)
	return c, err
}

func (p *FormPrompter) SecondFactor(ctx context.Context, hint string) (SecondFactor, error) {
	var sf SecondFactor
	err := p.run(ctx,
		huh.NewGroup(
			huh.NewNote().Title("Two-factor authentication").Description(hint),
			huh.NewConfirm().
				Title("Use a backup code instead?").
				Value(&sf.Backup),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Code").
				Value(&sf.Code).
				Validate(required("code")),
		),
	)
	sf.Code = strings.TrimSpace(sf.Code)
	return sf, err
}

func (p *FormPrompter) Email(ctx context.Context) (string, error) {
	var email string
	err := p.run(ctx, huh.NewGroup(
		huh.NewInput().Title("Email").Value(&email).Validate(required("email")),
	))
	return strings.TrimSpace(email), err
}

func (p *FormPrompter) SelectClient(ctx context.Context, clients []domain.Client, current string) (domain.Client, error) {
	if len(clients) == 0 {
		return domain.Client{}, errors.New("no clients available")
	}
	options := make([]huh.Option[int], len(clients))
	choice := 0
	for i, c := range clients {
		options[i] = huh.NewOption(c.Name+" ("+c.Slug+")", i)
		if c.Slug == current {
			choice = i
		}
	}
	err := p.run(ctx, huh.NewGroup(
		huh.NewSelect[int]().Title("Client").Options(options...).Value(&choice),
	))
	if err != nil {
		return domain.Client{}, err
	}
	return clients[choice], nil
}

func (p *FormPrompter) Confirm(ctx context.Context, title string) (bool, error) {
	var ok bool
	err := p.run(ctx, huh.NewGroup(
		huh.NewConfirm().Title(title).Value(&ok),
	))
	return ok, err
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}
