package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Update(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Get(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Status(ctx context.Context) error
	Pending(ctx context.Context) error
	Retry(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the farm client.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. The loop exits on scanner EOF or
// when the user types "exit" or "quit".
//
//	Not logged in:
//	  - help, register, login, exit | quit
//
//	Logged in:
//	  - add <kind> [id=<id>] name=value ... [+ <kind> ...]
//	  - update <kind> <id> name=value ...
//	  - delete <kind> <id>
//	  - get <kind> <id>
//	  - (l)ist <kind>
//	  - status, pending, retry
//	  - logout, exit | quit
//
// Command errors are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("farm %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: add, update, delete, get, (l)ist, status, pending, retry, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "logout":
			err = a.Logout(ctx)

		case "add":
			err = a.Add(ctx, args)

		case "update":
			err = a.Update(ctx, args)

		case "delete":
			err = a.Delete(ctx, args)

		case "get":
			err = a.Get(ctx, args)

		case "l", "list":
			err = a.List(ctx, args)

		case "status":
			err = a.Status(ctx)

		case "pending":
			err = a.Pending(ctx)

		case "retry":
			err = a.Retry(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
