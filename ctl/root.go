package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/generate"
)

// options are the flags shared by every command.
type options struct {
	socket  string
	timeout time.Duration

	imageID    string
	tags       []string
	vocabulary []string
}

func (o *options) image() lightart.ImageState {
	return lightart.ImageState{ImageID: o.imageID, Tags: o.tags, Vocabulary: o.vocabulary}
}

func (o *options) connect() (*client, error) {
	path := o.socket
	if path == "" {
		path = resolveSocketPath()
	}
	return dial(path, o.timeout)
}

var (
	indexColor = color.New(color.FgYellow, color.Bold)
	textColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	dimColor   = color.New(color.Faint)
)

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "lightart-ctl",
		Short:         "Talk to a running lightart daemon",
		Long:          `lightart-ctl sends prompts to lightartd and prints suggestions, refinements and configuration.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.socket, "socket", "", "daemon socket path (default $LIGHTART_SOCKET or the runtime dir)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "how long to wait for the daemon")

	addImageFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&opts.imageID, "image", "", "image id, used to recall applied edits")
		cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "image tag (repeatable)")
		cmd.Flags().StringArrayVar(&opts.vocabulary, "vocab", nil, "allowed style phrase (repeatable)")
	}

	suggest := newSuggestCmd(opts)
	refine := newRefineCmd(opts)
	apply := newApplyCmd(opts)
	for _, cmd := range []*cobra.Command{suggest, refine, apply} {
		addImageFlags(cmd)
	}

	root.AddCommand(suggest, refine, apply, newConfigCmd(opts), newAnalyzeCmd(opts))
	return root
}

func newSuggestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <text>",
		Short: "Print ranked suggestions for partially typed text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			c, err := opts.connect()
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.open(opts.image()); err != nil {
				return err
			}
			if err := c.send(lightart.Event{Type: lightart.EventInput, Text: text, CursorPos: lightart.CursorAt(len(text))}); err != nil {
				return err
			}
			sig, err := c.await(lightart.SignalSuggestions)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(sig.Candidates) == 0 {
				dimColor.Fprintln(w, "(no suggestions)")
				return nil
			}
			for i, cand := range sig.Candidates {
				indexColor.Fprintf(w, "%d. ", i+1)
				fmt.Fprintln(w, cand)
			}
			dimColor.Fprintf(w, "[%dms]\n", sig.LatencyMs)
			return nil
		},
	}
}

func newRefineCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refine <prompt>",
		Short: "Expand a short prompt into a detailed editing instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect()
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.open(opts.image()); err != nil {
				return err
			}
			if err := c.send(lightart.Event{Type: lightart.EventRefine, Prompt: strings.Join(args, " ")}); err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Suffix = " refining"
			s.Start()
			sig, err := c.await(lightart.SignalRefinement)
			s.Stop()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			textColor.Fprintln(w, sig.Text)
			if sig.Truncated {
				warnColor.Fprintln(w, "(truncated)")
			}
			dimColor.Fprintf(w, "[%dms]\n", sig.LatencyMs)
			return nil
		},
	}
}

func newApplyCmd(opts *options) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "apply <instruction>",
		Short: "Record an applied edit for an image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.imageID == "" {
				return fmt.Errorf("--image is required")
			}
			c, err := opts.connect()
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.open(opts.image()); err != nil {
				return err
			}
			if err := c.send(lightart.Event{Type: lightart.EventApply, Kind: kind, Instruction: strings.Join(args, " ")}); err != nil {
				return err
			}
			// The daemon answers apply only on error; a config round trip
			// confirms the apply was processed.
			if err := c.send(lightart.Event{Type: lightart.EventConfig, Action: "defaults"}); err != nil {
				return err
			}
			if _, err := c.await(lightart.SignalConfig); err != nil {
				return err
			}
			textColor.Fprintf(cmd.OutOrStdout(), "applied to %s\n", opts.imageID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "edit kind, e.g. exposure or grade")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the daemon configuration",
	}

	request := func(ev lightart.Event) (lightart.Signal, error) {
		c, err := opts.connect()
		if err != nil {
			return lightart.Signal{}, err
		}
		defer c.Close()
		if err := c.send(ev); err != nil {
			return lightart.Signal{}, err
		}
		return c.await(lightart.SignalConfig)
	}

	printConfig := func(action, short string) *cobra.Command {
		return &cobra.Command{
			Use:   action,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sig, err := request(lightart.Event{Type: lightart.EventConfig, Action: action})
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sig.Config)
			},
		}
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Print configuration warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := request(lightart.Event{Type: lightart.EventConfig, Action: "validate"})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(sig.Warnings) == 0 {
				textColor.Fprintln(w, "config ok")
				return nil
			}
			for _, warning := range sig.Warnings {
				warnColor.Fprintf(w, "warning: %s\n", warning)
			}
			return nil
		},
	}

	var refinePrompt bool
	prompt := &cobra.Command{
		Use:   "prompt",
		Short: "Print the built-in prompt template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := lightart.Event{Type: lightart.EventConfig, Action: "default_prompt"}
			if refinePrompt {
				ev.Kind = lightart.KindRefinement
			}
			sig, err := request(ev)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), sig.Prompt)
			return nil
		},
	}
	prompt.Flags().BoolVar(&refinePrompt, "refine", false, "print the refinement template instead of the suggestion one")

	cmd.AddCommand(
		printConfig("get", "Print the running configuration as JSON"),
		printConfig("defaults", "Print the built-in defaults as JSON"),
		validate,
		prompt,
	)
	return cmd
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var addr, imageID string
	cmd := &cobra.Command{
		Use:   "analyze <image-file>",
		Short: "Ask the daemon's HTTP API for style vocabulary for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			u := url.URL{Scheme: "http", Host: addr, Path: "/analyze"}
			if imageID != "" {
				u.RawQuery = url.Values{"image_id": {imageID}}.Encode()
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u.String(), bytes.NewReader(data))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", http.DetectContentType(data))

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			s.Suffix = " analyzing"
			s.Start()
			resp, err := (&http.Client{Timeout: 4 * opts.timeout}).Do(req)
			s.Stop()
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				var e struct {
					Error *lightart.Error `json:"error"`
				}
				if json.Unmarshal(body, &e) == nil && e.Error != nil {
					return &daemonError{e.Error}
				}
				return fmt.Errorf("analyze: %s", resp.Status)
			}

			var suggestions generate.StyleSuggestions
			if err := json.Unmarshal(body, &suggestions); err != nil {
				return fmt.Errorf("decode suggestions: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, v := range suggestions.Vocabulary() {
				fmt.Fprintf(w, "- %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "http", "127.0.0.1:8765", "daemon HTTP address")
	cmd.Flags().StringVar(&imageID, "image", "", "remember the vocabulary for this image id")
	return cmd
}
