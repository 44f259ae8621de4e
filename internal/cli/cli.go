// Package cli is the interactive terminal surface: a line-oriented
// command loop over the session, auth, receipt, and stats components.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"receiptdesk/internal/api"
	"receiptdesk/internal/auth"
	"receiptdesk/internal/display"
	"receiptdesk/internal/session"
	"receiptdesk/internal/stats"
	"receiptdesk/internal/workflow"
)

// CLI runs the interactive loop.
type CLI struct {
	sessions *session.Manager
	flow     *auth.Flow
	receipts *workflow.Workflow
	stats    *stats.Aggregator
	backend  *api.Client
	images   display.Store

	in  *bufio.Scanner
	out io.Writer
}

// New wires the loop. in/out are the terminal streams (swappable for
// tests).
func New(
	sessions *session.Manager,
	flow *auth.Flow,
	receipts *workflow.Workflow,
	aggregator *stats.Aggregator,
	backend *api.Client,
	images display.Store,
	in io.Reader,
	out io.Writer,
) *CLI {
	return &CLI{
		sessions: sessions,
		flow:     flow,
		receipts: receipts,
		stats:    aggregator,
		backend:  backend,
		images:   images,
		in:       bufio.NewScanner(in),
		out:      out,
	}
}

// Run restores the session and processes commands until quit, EOF, or
// ctx cancellation.
func (c *CLI) Run(ctx context.Context) error {
	sess, err := c.sessions.Restore()
	if err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	if sess.State == session.Authenticated {
		fmt.Fprintf(c.out, "Signed in as %s\n", sess.Email)
		go c.stats.Refresh(ctx)
	} else {
		fmt.Fprintln(c.out, "Not signed in. Use 'login' or 'register'.")
	}

	// Remote invalidation arrives regardless of what this terminal is
	// doing; print the notice as soon as it lands.
	go c.watchSession(ctx)

	for {
		fmt.Fprint(c.out, "> ")
		line, ok := c.readLine(ctx)
		if !ok {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			c.printHelp()
		case "login":
			c.cmdLogin(ctx, args)
		case "register":
			c.cmdRegister(ctx)
		case "logout":
			c.cmdLogout()
		case "whoami":
			c.cmdWhoami(ctx)
		case "receipt":
			c.cmdReceipt(ctx, strings.Join(args, " "))
		case "stats":
			c.cmdStats(ctx)
		case "receipts":
			c.cmdReceipts(ctx)
		case "pdf":
			c.cmdPDF(ctx, args)
		case "clear":
			c.receipts.Clear()
			fmt.Fprintln(c.out, "Cleared.")
		default:
			fmt.Fprintf(c.out, "Unknown command %q. Try 'help'.\n", cmd)
		}
	}
}

func (c *CLI) watchSession(ctx context.Context) {
	updates := c.sessions.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-updates:
			if !ok {
				return
			}
			if sess.State == session.Unauthenticated {
				fmt.Fprintln(c.out, "\nSession ended. Use 'login' to sign in again.")
			}
		}
	}
}

func (c *CLI) readLine(ctx context.Context) (string, bool) {
	if ctx.Err() != nil {
		return "", false
	}
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// readSecret reads without echo when stdin is a real terminal, and
// falls back to plain line input otherwise (tests, pipes).
func (c *CLI) readSecret(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(c.out)
		if err != nil {
			return "", false
		}
		return string(secret), true
	}
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *CLI) prompt(label string) (string, bool) {
	fmt.Fprint(c.out, label)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `Commands:
  login [email]      sign in
  register           create an account
  logout             sign out
  whoami             show the current identity
  receipt <amount>   generate a receipt QR for the given total
  stats              show revenue metrics
  receipts           list all receipts
  pdf <id>           download a receipt document as a PNG
  clear              clear the displayed receipt
  quit               exit
`)
}

func (c *CLI) cmdLogin(ctx context.Context, args []string) {
	email := ""
	if len(args) > 0 {
		email = args[0]
	} else {
		var ok bool
		if email, ok = c.prompt("email: "); !ok {
			return
		}
	}
	password, ok := c.readSecret("password: ")
	if !ok {
		return
	}

	if err := c.flow.Login(ctx, email, password); err != nil {
		fmt.Fprintln(c.out, c.flow.ErrorMessage())
		return
	}
	fmt.Fprintf(c.out, "Signed in as %s\n", email)
	go c.stats.Refresh(ctx)
}

func (c *CLI) cmdRegister(ctx context.Context) {
	company, ok := c.prompt("company name: ")
	if !ok {
		return
	}
	email, ok := c.prompt("email: ")
	if !ok {
		return
	}
	password, ok := c.readSecret("password: ")
	if !ok {
		return
	}

	if err := c.flow.Register(ctx, company, email, password); err != nil {
		fmt.Fprintln(c.out, c.flow.ErrorMessage())
		return
	}
	if c.flow.AutoLogin {
		fmt.Fprintf(c.out, "Account created. Signed in as %s\n", email)
		go c.stats.Refresh(ctx)
	} else {
		fmt.Fprintln(c.out, "Account created. Use 'login' to sign in.")
	}
}

func (c *CLI) cmdLogout() {
	if err := c.sessions.Clear(); err != nil {
		fmt.Fprintf(c.out, "Sign out failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Signed out.")
}

func (c *CLI) cmdWhoami(ctx context.Context) {
	sess := c.sessions.Current()
	if sess.State != session.Authenticated {
		fmt.Fprintln(c.out, "Not signed in.")
		return
	}

	if sess.CompanyName == "" {
		if profile, err := c.backend.Me(ctx); err == nil {
			c.sessions.SetIdentity(profile.Email, profile.CompanyName)
			sess = c.sessions.Current()
		}
	}

	fmt.Fprintf(c.out, "email:   %s\n", sess.Email)
	if sess.CompanyName != "" {
		fmt.Fprintf(c.out, "company: %s\n", sess.CompanyName)
	}
	if exp, ok := tokenExpiry(c.sessions.Token()); ok {
		fmt.Fprintf(c.out, "token expires: %s\n", exp.Format(time.RFC1123))
	}
}

func (c *CLI) cmdReceipt(ctx context.Context, raw string) {
	result, err := c.receipts.Submit(ctx, raw)
	if err != nil {
		fmt.Fprintln(c.out, c.receipts.ErrorMessage())
		return
	}
	if result.Path != "" {
		fmt.Fprintf(c.out, "Receipt QR saved to %s\n", result.Path)
	} else {
		fmt.Fprintf(c.out, "Receipt QR generated (%d bytes)\n", len(result.Image))
	}
}

func (c *CLI) cmdStats(ctx context.Context) {
	c.stats.Refresh(ctx)
	snap := c.stats.Snapshot()
	fmt.Fprintf(c.out, "Total revenue:   $%.2f\n", snap.Total)
	fmt.Fprintf(c.out, "Today's revenue: $%.2f\n", snap.TotalToday)
	if len(snap.Recent) == 0 {
		fmt.Fprintln(c.out, "No recent transactions.")
		return
	}
	fmt.Fprintln(c.out, "Recent activity:")
	for _, item := range snap.Recent {
		fmt.Fprintf(c.out, "  $%.2f  %s\n", item.Total, formatDate(item.TransactionDate))
	}
}

func (c *CLI) cmdReceipts(ctx context.Context) {
	c.stats.Refresh(ctx)
	receipts := c.stats.Receipts()
	if len(receipts) == 0 {
		fmt.Fprintln(c.out, "No receipts found.")
		return
	}
	for _, r := range receipts {
		fmt.Fprintf(c.out, "%s  $%.2f  %s\n", r.ID, r.Total, formatDate(r.TransactionDate))
	}
}

func (c *CLI) cmdPDF(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: pdf <id>")
		return
	}
	id := args[0]

	data, err := c.backend.ReceiptPDF(ctx, id)
	if err != nil {
		fmt.Fprintf(c.out, "Download failed: %v\n", err)
		return
	}
	image, err := display.ToPNG(data, "application/pdf")
	if err != nil {
		fmt.Fprintf(c.out, "Rendering failed: %v\n", err)
		return
	}
	path, err := c.images.Save(fmt.Sprintf("receipt_%s.png", id), image)
	if err != nil {
		fmt.Fprintf(c.out, "Saving failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Saved to %s\n", path)
}

// tokenExpiry reads the exp claim from the stored JWT without verifying
// the signature. Display only; it never affects session state.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "--"
	}
	return t.Format("2006-01-02 15:04")
}
