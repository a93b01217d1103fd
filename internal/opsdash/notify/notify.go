// Package notify surfaces user-visible success and error messages.
package notify

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/charmbracelet/lipgloss"
)

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type Notifier interface {
	Notify(level Level, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Level, string)

func (f NotifierFunc) Notify(level Level, msg string) { f(level, msg) }

func Success(n Notifier, msg string) { n.Notify(LevelSuccess, msg) }
func Info(n Notifier, msg string)    { n.Notify(LevelInfo, msg) }
func Error(n Notifier, msg string)   { n.Notify(LevelError, msg) }

// Discard drops every message.
var Discard Notifier = NotifierFunc(func(Level, string) {})

// ============================================================================
// Implementations
// ============================================================================

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// Terminal prints styled one-line messages.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notify(level Level, msg string) {
	var prefix string
	switch level {
	case LevelSuccess:
		prefix = successStyle.Render("✓")
	case LevelError:
		prefix = errorStyle.Render("✗")
	default:
		prefix = infoStyle.Render("•")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "%s %s\n", prefix, msg)
}

// Log writes messages to a structured logger, errors at warn.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(level Level, msg string) {
	switch level {
	case LevelError:
		l.Logger.Warn("notify", "level", level.String(), "message", msg)
	default:
		l.Logger.Info("notify", "level", level.String(), "message", msg)
	}
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(level Level, msg string) {
	for _, n := range m {
		n.Notify(level, msg)
	}
}

// ============================================================================
// Error messages
// ============================================================================

const (
	MsgNetwork      = "Unable to reach the server. Check your connection and try again."
	MsgForbidden    = "You don't have permission to perform this action."
	MsgNotFound     = "The requested resource was not found."
	MsgRateLimited  = "Too many requests. Please wait a moment and try again."
	MsgServer       = "Server error. Please try again later."
	MsgExpired      = "Your session has expired. Please sign in again."
	MsgUnauthorized = "Invalid credentials."
)

// MessageFor maps an error onto the message shown to the operator.
// Validation failures show the server's detail verbatim.
func MessageFor(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *authsdk.APIError
	switch authsdk.KindOf(err) {
	case authsdk.KindNetwork:
		return MsgNetwork
	case authsdk.KindAuthentication:
		if errors.As(err, &apiErr) && apiErr.Detail != "" && apiErr.Detail != "Unauthorized" {
			return apiErr.Detail
		}
		return MsgUnauthorized
	case authsdk.KindAuthorization:
		return MsgForbidden
	case authsdk.KindNotFound:
		return MsgNotFound
	case authsdk.KindValidation:
		if errors.As(err, &apiErr) {
			return apiErr.Detail
		}
	case authsdk.KindRateLimited:
		return MsgRateLimited
	case authsdk.KindServer:
		return MsgServer
	case authsdk.KindUnknown:
	}
	return err.Error()
}
