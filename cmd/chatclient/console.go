package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"chatclient/internal/app"
	"chatclient/internal/render"
	"chatclient/pkg/types"
)

const helpText = `commands:
  /login <username> <password>
  /register <username> <email> <password> [nickname]
  /logout
  /users                 refresh and list users
  /groups                refresh and list groups
  /dm <user-id>          open a direct chat
  /group <group-id>      open a group chat
  /members               list members of the active group
  /create <name>         create a group
  /invite [user-id]      list candidates, or invite one
  /kick <user-id>        remove a member (owner only)
  /offline               check offline messages now
  /view                  print the active conversation
  /quit
anything else is sent to the active conversation
`

var errUsage = errors.New("usage")

// console is the line-oriented front end. It also receives alerts.
type console struct {
	mu  sync.Mutex
	out io.Writer
	app *app.Application
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Alert prints a user-facing message.
func (c *console) Alert(msg string) {
	c.printf("! %s\n", msg)
}

// serve reads commands until EOF, /quit or ctx is done.
func (c *console) serve(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.handle(line); quit {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the loop should end.
func (c *console) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.app.Send(line); err != nil {
			c.printf("send failed: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf("%s", helpText)
	case "/login":
		if len(args) != 2 {
			err = errUsage
			break
		}
		err = c.app.Login(args[0], args[1])
	case "/register":
		if len(args) < 3 {
			err = errUsage
			break
		}
		reg := types.Registration{Username: args[0], Email: args[1], Password: args[2]}
		if len(args) > 3 {
			reg.Nickname = strings.Join(args[3:], " ")
		}
		err = c.app.Register(reg)
	case "/logout":
		c.app.Logout()
	case "/users":
		if err = c.app.RefreshUsers(); err == nil {
			c.printRoster(c.app.View())
		}
	case "/groups":
		if err = c.app.RefreshGroups(); err == nil {
			c.printGroups(c.app.View())
		}
	case "/dm":
		err = c.withID(args, c.app.SelectDirect)
		if err == nil {
			c.printTranscript(c.app.View())
		}
	case "/group":
		err = c.withID(args, c.app.SelectGroup)
		if err == nil {
			c.printTranscript(c.app.View())
		}
	case "/members":
		c.printMembers(c.app.View())
	case "/create":
		if len(args) == 0 {
			err = errUsage
			break
		}
		_, err = c.app.CreateGroup(strings.Join(args, " "))
	case "/invite":
		if len(args) == 0 {
			var candidates []types.User
			if candidates, err = c.app.InviteCandidates(); err == nil {
				for _, u := range candidates {
					c.printf("  %d  %s\n", u.ID, u.Username)
				}
			}
			break
		}
		err = c.withID(args, c.app.Invite)
	case "/kick":
		err = c.withID(args, c.app.Kick)
	case "/offline":
		var n int
		if n, err = c.app.CheckOffline(); err == nil && n > 0 {
			c.printTranscript(c.app.View())
		}
	case "/view":
		c.printTranscript(c.app.View())
	default:
		c.printf("unknown command %s, try /help\n", cmd)
		return false
	}

	if errors.Is(err, errUsage) {
		c.printf("usage error, try /help\n")
	} else if err != nil {
		c.printf("%s: %v\n", cmd, err)
	}
	return false
}

func (c *console) withID(args []string, fn func(int64) error) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return errUsage
	}
	return fn(id)
}

func (c *console) printTranscript(v render.View) {
	c.printf("== %s ==\n", v.Title)
	for _, l := range v.Lines {
		if l.Notice {
			c.printf("[%s] * %s\n", l.Time, l.Text)
			continue
		}
		c.printf("[%s] %s: %s\n", l.Time, l.Author, l.Text)
	}
}

func (c *console) printRoster(v render.View) {
	for _, item := range v.Roster {
		c.printf("  %d  %s\n", item.UserID, item.Label)
	}
}

func (c *console) printGroups(v render.View) {
	for _, item := range v.Groups {
		marker := " "
		if item.Active {
			marker = "*"
		}
		c.printf("%s %d  %s\n", marker, item.GroupID, item.Label)
	}
}

func (c *console) printMembers(v render.View) {
	if !v.MembersVisible {
		c.printf("no group selected\n")
		return
	}
	for _, m := range v.Members {
		c.printf("  %d  %s\n", m.UserID, m.Label)
	}
}
