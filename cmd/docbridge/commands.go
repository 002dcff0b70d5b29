package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docbridge/domain"
	"docbridge/export"
	"docbridge/session"
	"docbridge/submit"
)

type cli struct {
	cfgPath string
	html    bool
	out     io.Writer
	app     *app
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "docbridge",
		Short:         "Upload annual accounts, wait for the summary and ask questions about it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.out = cmd.OutOrStdout()
			a, err := newApp(cmd.Context(), c.cfgPath)
			if err != nil {
				return err
			}
			if err := a.restore(cmd.Context()); err != nil {
				a.close()
				return err
			}
			c.app = a
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", os.Getenv("DOCBRIDGE_CONFIG"), "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&c.html, "html", false, "print the rendered HTML instead of the normalized text")

	uploadCmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a document and wait for its summary",
		Args:  cobra.ExactArgs(1),
		RunE:  c.closing(c.runUpload),
	}
	uploadCmd.Flags().String("lang", "", "response language (NL or FR); saved for later commands")
	uploadCmd.Flags().String("export", "", "write the transcript to this XLSX file once the summary is ready")
	rootCmd.AddCommand(uploadCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Poll again for the saved job",
		Args:  cobra.NoArgs,
		RunE:  c.closing(c.runResume),
	}
	resumeCmd.Flags().String("export", "", "write the transcript to this XLSX file once the summary is ready")
	rootCmd.AddCommand(resumeCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the saved job and language",
		Args:  cobra.NoArgs,
		RunE:  c.closing(c.runStatus),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the saved job",
		Args:  cobra.NoArgs,
		RunE:  c.closing(c.runClear),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question about the saved job",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.closing(c.runAsk),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "lang [NL|FR]",
		Short: "Show or set the response language",
		Args:  cobra.MaximumNArgs(1),
		RunE:  c.closing(c.runLang),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "company <VAT>",
		Short: "Look up a Belgian company and its most recent annual accounts",
		Args:  cobra.ExactArgs(1),
		RunE:  c.closing(c.runCompany),
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Interactive session: upload, wait and chat in one process",
		Args:  cobra.NoArgs,
		RunE:  c.closing(c.runShell),
	})
	return rootCmd
}

// closing releases the app after fn, whether or not it failed.
func (c *cli) closing(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer c.app.close()
		return fn(cmd, args)
	}
}

func (c *cli) runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if lang, _ := cmd.Flags().GetString("lang"); lang != "" {
		if err := c.setLang(ctx, lang); err != nil {
			return err
		}
	}
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	unsubscribe := c.app.session.Observe(c.printView)
	defer unsubscribe()
	if err := c.app.session.Upload(ctx, doc); err != nil {
		return quiet(err)
	}
	return c.maybeExport(cmd)
}

func (c *cli) runResume(cmd *cobra.Command, args []string) error {
	unsubscribe := c.app.session.Observe(c.printView)
	defer unsubscribe()
	if err := c.app.session.Resume(cmd.Context()); err != nil {
		return quiet(err)
	}
	return c.maybeExport(cmd)
}

func (c *cli) runStatus(cmd *cobra.Command, args []string) error {
	job := c.app.session.Job()
	v := c.app.session.View()
	if !job.ID.Valid {
		fmt.Fprintf(c.out, "no saved job (language %s)\n", v.Locale)
		return nil
	}
	created := "unknown"
	if !job.CreatedAt.IsZero() {
		created = job.CreatedAt.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Fprintf(c.out, "job %s created %s (language %s)\n", job.ID, created, v.Locale)
	return nil
}

func (c *cli) runClear(cmd *cobra.Command, args []string) error {
	if err := c.app.session.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "cleared")
	return nil
}

func (c *cli) runAsk(cmd *cobra.Command, args []string) error {
	entry, err := c.app.chat.Send(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, entry.Answer)
	return nil
}

func (c *cli) runLang(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := c.setLang(cmd.Context(), args[0]); err != nil {
			return err
		}
	}
	fmt.Fprintln(c.out, c.app.session.View().Locale)
	return nil
}

func (c *cli) runCompany(cmd *cobra.Command, args []string) error {
	return c.printCompany(cmd.Context(), args[0])
}

func (c *cli) printCompany(ctx context.Context, vat string) error {
	res, err := c.app.company.Lookup(ctx, vat)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (c *cli) setLang(ctx context.Context, raw string) error {
	l, ok := domain.ParseLocale(raw)
	if !ok {
		return fmt.Errorf("unsupported language %q (use NL or FR)", raw)
	}
	if err := c.app.session.SetLocale(ctx, l); err != nil {
		return err
	}
	c.app.chat.SetLocale(l)
	return nil
}

// printView runs under the session lock; it only writes.
func (c *cli) printView(v session.View) {
	switch v.Phase {
	case session.PhaseUploading:
		fmt.Fprintln(c.out, "uploading…")
	case session.PhaseWaiting:
		if v.Message != "" {
			fmt.Fprintf(c.out, "job %s: %s\n", v.JobID, v.Message)
		}
	case session.PhaseReady:
		if c.html {
			fmt.Fprintln(c.out, v.HTML)
		} else {
			fmt.Fprintln(c.out, v.Normalized)
		}
	case session.PhaseError:
		fmt.Fprintln(c.out, v.Message)
	}
}

func (c *cli) maybeExport(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("export")
	if path == "" {
		return nil
	}
	return c.writeTranscript(path)
}

func (c *cli) writeTranscript(path string) error {
	job := c.app.session.Job()
	v := c.app.session.View()
	t := export.Transcript{
		JobID:     job.ID,
		Locale:    v.Locale,
		CreatedAt: job.CreatedAt,
		Chat:      c.app.chat.Log().Entries(),
	}
	if v.Phase == session.PhaseReady {
		t.Normalized = v.Normalized
	}
	if err := export.SaveXLSX(path, t); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "transcript written to %s\n", path)
	return nil
}

func readDocument(path string) (submit.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return submit.Document{}, err
	}
	return submit.Document{Name: filepath.Base(path), Data: data}, nil
}

// quiet marks an error the user has already seen as a view message. Cancellation never produces
// a message and stays loud.
func quiet(err error) error {
	if errors.Is(err, domain.ErrCancelled) {
		return err
	}
	return errShown{err}
}

type errShown struct{ err error }

func (e errShown) Error() string { return e.err.Error() }
func (e errShown) Unwrap() error { return e.err }
