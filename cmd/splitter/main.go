// cmd/splitter/main.go
//
// splitter runs the chapter segmenter on a manuscript without starting the
// server or calling a model.
//
//	splitter split novel.txt
//	splitter split --json novel.txt > chapters.json
//	cat novel.txt | splitter split --pretty
//	splitter headings novel.txt
//	splitter recognizers
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Corphon/NovellaStudio/internal/segment"
	"github.com/Corphon/NovellaStudio/internal/services"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "splitter",
		Short:         "Split a manuscript into chapters",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSplitCmd(), newHeadingsCmd(), newRecognizersCmd())
	return root
}

type splitOptions struct {
	asJSON    bool
	pretty    bool
	preview   int
	chunkSize int
}

func newSplitCmd() *cobra.Command {
	opts := &splitOptions{}
	cmd := &cobra.Command{
		Use:   "split [file]",
		Short: "Print the chapters found in a manuscript (stdin when no file or \"-\")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			chapters := segment.New(segment.Options{ChunkSize: opts.chunkSize}).Segment(text)
			return writeChapters(cmd.OutOrStdout(), chapters, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "emit chapters as a JSON array")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "render a markdown summary for the terminal")
	cmd.Flags().IntVar(&opts.preview, "preview", 60, "characters of content to show per chapter")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "fallback chunk size in characters (0 = default)")
	return cmd
}

func newHeadingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "headings [file]",
		Short: "List accepted heading lines and the recognizer that matched each",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			headings := segment.New(segment.Options{}).Headings(text)
			if len(headings) == 0 {
				fmt.Fprintln(out, "no headings found; text would be split into fixed-size parts")
				return nil
			}
			for _, h := range headings {
				line := strings.Count(text[:h.Start], "\n") + 1
				fmt.Fprintf(out, "%5d  %-14s %s\n", line, h.Recognizer, h.Text)
			}
			return nil
		},
	}
}

func newRecognizersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recognizers",
		Short: "List heading recognizers in match order",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for i, r := range segment.DefaultRecognizers() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, r.Name())
			}
		},
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	return services.DecodeUpload(r)
}

func writeChapters(w io.Writer, chapters []segment.Chapter, opts *splitOptions) error {
	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chapters)
	}

	if opts.pretty {
		renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return err
		}
		out, err := renderer.Render(chaptersMarkdown(chapters, opts.preview))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}

	for i, ch := range chapters {
		fmt.Fprintf(w, "%3d  %-40s %7d chars  %s\n", i+1, ch.Title, len([]rune(ch.Content)), preview(ch.Content, opts.preview))
	}
	return nil
}

func chaptersMarkdown(chapters []segment.Chapter, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %d chapters\n\n", len(chapters))
	b.WriteString("| # | Title | Chars | Opening |\n|---|---|---|---|\n")
	for i, ch := range chapters {
		fmt.Fprintf(&b, "| %d | %s | %d | %s |\n", i+1,
			strings.ReplaceAll(ch.Title, "|", "\\|"),
			len([]rune(ch.Content)),
			strings.ReplaceAll(preview(ch.Content, n), "|", "\\|"))
	}
	return b.String()
}

func preview(content string, n int) string {
	flat := strings.Join(strings.Fields(content), " ")
	runes := []rune(flat)
	if n <= 0 || len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "…"
}
