package cli

import (
	"bufio"
	"context"
	"fmt"
)

// getStatus renders the prompt suffix: user name and sync state when logged
// in, reachability otherwise.
func (a *App) getStatus() string {
	s := ""
	if a.userName != "" {
		s = a.userName + " "
	}
	switch {
	case a.session != nil:
		s += string(a.session.Status())
	case a.conn != nil && a.conn.Online():
		s += "online"
	case a.conn != nil:
		s += "offline"
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root prints the banner and runs the REPL over stdin.
func (a *App) Root(ctx context.Context) {
	printlnFn("Welcome to LactoKeeper (type 'help' for commands)")
	scanner := bufio.NewScanner(a.reader)
	runREPL(ctx, a, a.getStatus, scanner)
}
