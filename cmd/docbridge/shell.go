package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"docbridge/domain"
)

const shellHelp = `commands:
  /upload <file>   upload a document and wait for its summary in the background
  /resume          poll again for the saved job
  /wait            block until the running upload or resume finishes
  /clear           forget the saved job
  /lang NL|FR      set the response language
  /status          show the saved job
  /company <VAT>   look up a Belgian company
  /export <file>   write summary and chat to XLSX
  /quit            leave
anything else is sent as a question about the current job`

// lockedWriter serializes output from the session observer and the prompt loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func (c *cli) runShell(cmd *cobra.Command, args []string) error {
	return c.shell(cmd.Context(), os.Stdin)
}

func (c *cli) shell(ctx context.Context, in io.Reader) error {
	c.out = &lockedWriter{w: c.out}
	unsubscribe := c.app.session.Observe(c.printView)
	defer unsubscribe()

	bctx, cancel := context.WithCancel(ctx)
	var bg sync.WaitGroup
	defer bg.Wait()
	defer cancel()
	background := func(fn func(context.Context) error) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := fn(bctx); err != nil && !errors.Is(err, domain.ErrCancelled) {
				c.app.logger.Debug("shell.background_error", "error", err)
			}
		}()
	}

	fmt.Fprintln(c.out, shellHelp)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			entry, err := c.app.chat.Send(ctx, line)
			if err != nil {
				if errors.Is(err, domain.ErrCancelled) {
					break
				}
				continue
			}
			fmt.Fprintf(c.out, "> %s\n%s\n", entry.Question, entry.Answer)
			continue
		}

		name, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		var err error
		switch name {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(c.out, shellHelp)
		case "/upload":
			doc, rerr := readDocument(arg)
			if rerr != nil {
				err = rerr
				break
			}
			background(func(ctx context.Context) error { return c.app.session.Upload(ctx, doc) })
		case "/resume":
			background(c.app.session.Resume)
		case "/wait":
			bg.Wait()
		case "/clear":
			err = c.app.session.Clear(ctx)
		case "/lang":
			err = c.setLang(ctx, arg)
		case "/status":
			err = c.runStatus(nil, nil)
		case "/company":
			err = c.printCompany(ctx, arg)
		case "/export":
			err = c.writeTranscript(arg)
		default:
			err = fmt.Errorf("unknown command %s (try /help)", name)
		}
		if err != nil {
			fmt.Fprintln(c.out, err)
		}
	}
	return sc.Err()
}
